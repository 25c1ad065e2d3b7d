package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	upsertProductSQL = `INSERT INTO products
		(id, title, slug, description, category, images, base_price_ex_vat, vat_percent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, slug = EXCLUDED.slug, description = EXCLUDED.description,
			category = EXCLUDED.category, images = EXCLUDED.images,
			base_price_ex_vat = EXCLUDED.base_price_ex_vat, vat_percent = EXCLUDED.vat_percent,
			status = EXCLUDED.status`

	upsertVariantSQL = `INSERT INTO variants
		(product_id, id, sku, options, stock, price_ex_vat, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, id) DO UPDATE SET
			sku = EXCLUDED.sku, options = EXCLUDED.options, stock = EXCLUDED.stock,
			price_ex_vat = EXCLUDED.price_ex_vat, position = EXCLUDED.position`

	deleteStaleVariantsSQL = `DELETE FROM variants WHERE product_id = $1 AND NOT (id = ANY($2))`

	upsertCustomerSQL = `INSERT INTO customers
		(id, email, name, phone, role, billing_address, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, name = EXCLUDED.name, phone = EXCLUDED.phone,
			role = EXCLUDED.role, billing_address = EXCLUDED.billing_address,
			shipping_address = EXCLUDED.shipping_address, updated_at = now()`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, customer_id, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			customer_id = EXCLUDED.customer_id, active = TRUE`

	upsertCouponSQL = `INSERT INTO coupons
		(code, type, amount, scope, product_ids, description, valid_from, valid_to, usage_limit, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			type = EXCLUDED.type, amount = EXCLUDED.amount, scope = EXCLUDED.scope,
			product_ids = EXCLUDED.product_ids, description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_to = EXCLUDED.valid_to,
			usage_limit = EXCLUDED.usage_limit, enabled = EXCLUDED.enabled`

	createCouponStagingSQL = `CREATE TEMP TABLE coupon_staging
		(LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons SELECT * FROM coupon_staging
		ON CONFLICT (code) DO NOTHING`
)

// Seeder writes catalog, accounts and coupons outside the order flow. It
// backs the admin command line tools.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertProduct writes p and replaces its variant list.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("encoding images of %s: %w", p.ID, err)
	}
	status := p.Status
	if status == "" {
		status = product.StatusPublished
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Title, p.Slug, p.Description, p.Category, imagesJSON,
			p.BasePriceExVat, p.VATPercent, string(status),
		); err != nil {
			return fmt.Errorf("upserting product %s: %w", p.ID, err)
		}

		ids := make([]string, len(p.Variants))
		for i, v := range p.Variants {
			ids[i] = v.ID
			options := v.Options
			if options == nil {
				options = product.Options{}
			}
			optionsJSON, err := json.Marshal(options)
			if err != nil {
				return fmt.Errorf("encoding options of %s: %w", v.SKU, err)
			}
			if _, err := tx.Exec(ctx, upsertVariantSQL,
				p.ID, v.ID, v.SKU, optionsJSON, v.Stock, v.PriceExVat, i,
			); err != nil {
				return fmt.Errorf("upserting variant %s: %w", v.SKU, err)
			}
		}

		if _, err := tx.Exec(ctx, deleteStaleVariantsSQL, p.ID, ids); err != nil {
			return fmt.Errorf("pruning variants of %s: %w", p.ID, err)
		}
		return nil
	})
}

// UpsertCustomer writes an account.
func (s *Seeder) UpsertCustomer(ctx context.Context, c customer.Customer) error {
	billingJSON, err := nullableJSON(c.BillingAddress)
	if err != nil {
		return fmt.Errorf("encoding billing address: %w", err)
	}
	shippingJSON, err := nullableJSON(c.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encoding shipping address: %w", err)
	}
	role := c.Role
	if role == "" {
		role = customer.RoleCustomer
	}

	if _, err := s.pool.Exec(ctx, upsertCustomerSQL,
		c.ID, c.Email, c.Name, c.Phone, string(role), billingJSON, shippingJSON,
	); err != nil {
		return fmt.Errorf("upserting customer %s: %w", c.ID, err)
	}
	return nil
}

// UpsertAPIKey stores an already hashed key for customerID.
func (s *Seeder) UpsertAPIKey(ctx context.Context, id, keyHash, name, customerID string) error {
	if _, err := s.pool.Exec(ctx, upsertAPIKeySQL, id, keyHash, name, customerID); err != nil {
		return fmt.Errorf("upserting api key %s: %w", id, err)
	}
	return nil
}

// UpsertCoupon writes a rule. The usage counter is left untouched.
func (s *Seeder) UpsertCoupon(ctx context.Context, r coupon.Rule) error {
	productIDs := r.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	scope := r.Scope
	if scope == "" {
		scope = coupon.ScopeAll
	}
	if _, err := s.pool.Exec(ctx, upsertCouponSQL,
		coupon.NormalizeCode(r.Code), string(r.Type), r.Amount, string(scope), productIDs,
		r.Description, r.ValidFrom, r.ValidTo, r.UsageLimit, r.Enabled,
	); err != nil {
		return fmt.Errorf("upserting coupon %s: %w", r.Code, err)
	}
	return nil
}

// CopyCoupons bulk-loads rules with COPY and keeps existing codes as they
// are. It reports how many new codes were inserted.
func (s *Seeder) CopyCoupons(ctx context.Context, rules []coupon.Rule) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createCouponStagingSQL); err != nil {
			return fmt.Errorf("creating coupon staging table: %w", err)
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coupon_staging"},
			[]string{"code", "type", "amount", "scope", "product_ids", "description", "usage_limit", "enabled"},
			pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
				r := rules[i]
				scope := r.Scope
				if scope == "" {
					scope = coupon.ScopeAll
				}
				productIDs := r.ProductIDs
				if productIDs == nil {
					productIDs = []string{}
				}
				return []any{
					coupon.NormalizeCode(r.Code), string(r.Type), r.Amount, string(scope),
					productIDs, r.Description, r.UsageLimit, r.Enabled,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying coupons: %w", err)
		}

		tag, err := tx.Exec(ctx, mergeCouponStagingSQL)
		if err != nil {
			return fmt.Errorf("merging coupons: %w", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	return inserted, err
}
