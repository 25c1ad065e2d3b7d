package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercent takes a percentage off the eligible subtotal.
	TypePercent Type = "percent"
	// TypeFixed takes a fixed amount off, capped at the eligible subtotal.
	TypeFixed Type = "fixed"
)

// Scope selects which lines a coupon applies to.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeProducts Scope = "products"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown or disabled.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrNotApplicable is returned when no line in the cart is eligible.
	ErrNotApplicable = errors.New("coupon does not apply to these items")
	// ErrUnsupportedType is returned when a stored rule has an unknown type.
	ErrUnsupportedType = errors.New("unsupported coupon type")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code        string
	Type        Type
	Amount      decimal.Decimal
	Scope       Scope
	ProductIDs  []string
	Description string
	ValidFrom   *time.Time
	ValidTo     *time.Time
	UsageLimit  int
	UsedCount   int
	Enabled     bool
}

// Applies reports whether the rule covers productID.
func (r *Rule) Applies(productID string) bool {
	if r.Scope != ScopeProducts {
		return true
	}
	for _, id := range r.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Item is a priced cart line for discount calculation purposes.
type Item struct {
	ProductID string
	Amount    decimal.Decimal
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// IncrementUses bumps the usage counter unless the limit is reached, in
	// which case it reports false.
	IncrementUses(ctx context.Context, code string) (bool, error)
}

// NormalizeCode returns the canonical form of a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
