package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Check reports whether rule can be redeemed at now.
func Check(rule *Rule, now time.Time) error {
	if !rule.Enabled {
		return ErrInvalidCoupon
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return ErrCouponExpired
	}
	if rule.ValidTo != nil && now.After(*rule.ValidTo) {
		return ErrCouponExpired
	}
	if rule.UsageLimit > 0 && rule.UsedCount >= rule.UsageLimit {
		return ErrCouponUsageLimitReached
	}
	return nil
}

// RepoValidator looks up coupon rules from a Repository, checks them and
// redeems them.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Lookup returns the rule for code if it is currently redeemable. It has no
// side effects.
func (v *RepoValidator) Lookup(ctx context.Context, code string) (*Rule, error) {
	rule, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := Check(rule, v.now()); err != nil {
		return nil, err
	}
	return rule, nil
}

// Redeem checks the coupon, applies it to the cart items and consumes one
// use. When the repository is bound to a transaction the use is rolled back
// together with the order.
func (v *RepoValidator) Redeem(ctx context.Context, code string, items []Item) (*Discount, error) {
	rule, err := v.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, err
	}

	ok, err := v.repo.IncrementUses(ctx, rule.Code)
	if err != nil {
		return nil, errors.Wrap(err, "increment coupon uses")
	}
	if !ok {
		return nil, ErrCouponUsageLimitReached
	}

	return &d, nil
}
