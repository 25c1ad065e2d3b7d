// Package pricing holds the pure money arithmetic used at checkout: VAT,
// currency conversion and the free-shipping rule.
//
// All amounts are shopspring decimals in major currency units. Results are
// rounded half-up to the minor unit (2 places).
package pricing

import (
	"github.com/shopspring/decimal"
)

// Places is the minor-unit precision of every supported currency.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// LineAmounts is the priced breakdown of a single order line.
type LineAmounts struct {
	ExVat  decimal.Decimal
	Vat    decimal.Decimal
	IncVat decimal.Decimal
}

// ApplyVAT returns amountExVat grossed up by vatPercent and rounded to the
// minor unit.
func ApplyVAT(amountExVat, vatPercent decimal.Decimal) decimal.Decimal {
	factor := one.Add(vatPercent.Div(hundred))
	return amountExVat.Mul(factor).Round(Places)
}

// Line prices qty units of unitExVat. The VAT amount is the difference of the
// rounded inc-VAT total and the ex-VAT total, never rounded on its own.
func Line(unitExVat decimal.Decimal, qty int, vatPercent decimal.Decimal) LineAmounts {
	ex := unitExVat.Mul(decimal.NewFromInt(int64(qty))).Round(Places)
	inc := ApplyVAT(ex, vatPercent)
	return LineAmounts{
		ExVat:  ex,
		Vat:    inc.Sub(ex),
		IncVat: inc,
	}
}

// ConvertFromBase converts a base-currency amount into target using the fx
// table. A currency missing from the table converts at rate 1. It returns
// the rounded amount and the rate applied.
func ConvertFromBase(amount decimal.Decimal, fx map[string]decimal.Decimal, target string) (decimal.Decimal, decimal.Decimal) {
	rate, ok := fx[target]
	if !ok || !rate.IsPositive() {
		rate = one
	}
	return amount.Mul(rate).Round(Places), rate
}

// Shipping returns the shipping charge for an order whose inc-VAT subtotal
// is basis. A zero threshold means the zone has no free-shipping rule.
func Shipping(flatRate, freeThreshold, basis decimal.Decimal) decimal.Decimal {
	if freeThreshold.IsPositive() && basis.GreaterThanOrEqual(freeThreshold) {
		return decimal.Zero
	}
	return flatRate.Round(Places)
}
