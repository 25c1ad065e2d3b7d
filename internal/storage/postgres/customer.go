package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/customer"
)

const (
	getCustomerByIDSQL = `SELECT id, email, name, phone, role, billing_address, shipping_address
		FROM customers WHERE id = $1`

	updateCustomerProfileSQL = `UPDATE customers SET
		name = CASE WHEN $2 = '' THEN name ELSE $2 END,
		billing_address = COALESCE($3, billing_address),
		shipping_address = COALESCE($4, shipping_address),
		updated_at = now()
		WHERE id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	db dbtx
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: pool}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	var (
		c    customer.Customer
		role string
	)
	err := r.db.QueryRow(ctx, getCustomerByIDSQL, id).Scan(
		&c.ID, &c.Email, &c.Name, &c.Phone, &role, &c.BillingAddress, &c.ShippingAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	c.Role = customer.Role(role)
	return &c, nil
}

// UpdateProfile saves checkout details to the account. Empty name and nil
// addresses keep the stored values.
func (r *CustomerRepository) UpdateProfile(ctx context.Context, id string, upd customer.ProfileUpdate) error {
	billingJSON, err := nullableJSON(upd.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}
	shippingJSON, err := nullableJSON(upd.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	tag, err := r.db.Exec(ctx, updateCustomerProfileSQL, id, upd.Name, billingJSON, shippingJSON)
	if err != nil {
		return fmt.Errorf("updating customer %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return customer.ErrNotFound
	}
	return nil
}
