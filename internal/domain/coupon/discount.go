package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount for the given rule and cart items. Only
// items the rule applies to count towards the discounted subtotal.
func Apply(rule *Rule, items []Item) (Discount, error) {
	subtotal := eligibleSubtotal(rule, items)
	if !subtotal.IsPositive() {
		return Discount{}, ErrNotApplicable
	}

	var amount decimal.Decimal
	switch rule.Type {
	case TypePercent:
		amount = subtotal.Mul(rule.Amount).Div(hundred)
	case TypeFixed:
		amount = decimal.Min(rule.Amount, subtotal)
	default:
		return Discount{}, errors.Wrapf(ErrUnsupportedType, "coupon type %q", rule.Type)
	}

	return Discount{
		Code:        rule.Code,
		Amount:      decimal.Min(floorAtZero(amount), subtotal).Round(2),
		Description: rule.Description,
	}, nil
}

// eligibleSubtotal returns the sum of item amounts the rule applies to.
func eligibleSubtotal(rule *Rule, items []Item) decimal.Decimal {
	sum := zero
	for _, item := range items {
		if rule.Applies(item.ProductID) {
			sum = sum.Add(item.Amount)
		}
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
