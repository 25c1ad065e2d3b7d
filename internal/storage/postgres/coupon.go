package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, type, amount, scope, product_ids, description,
		valid_from, valid_to, usage_limit, used_count, enabled
		FROM coupons WHERE code = $1`

	incrementCouponUsesSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db dbtx
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: pool}
}

// FindByCode looks up a coupon by its normalized code.
// Returns coupon.ErrInvalidCoupon when no coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.db.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// IncrementUses consumes one use unless the limit is already reached.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) (bool, error) {
	tag, err := r.db.Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return false, fmt.Errorf("incrementing uses for coupon %q: %w", code, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule       coupon.Rule
		couponType string
		scope      string
	)
	err := row.Scan(
		&rule.Code, &couponType, &rule.Amount, &scope, &rule.ProductIDs, &rule.Description,
		&rule.ValidFrom, &rule.ValidTo, &rule.UsageLimit, &rule.UsedCount, &rule.Enabled,
	)
	rule.Type = coupon.Type(couponType)
	rule.Scope = coupon.Scope(scope)
	return rule, err
}
