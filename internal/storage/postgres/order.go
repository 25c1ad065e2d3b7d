package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, number, COALESCE(customer_id, ''), email, customer_name,
		billing_address, shipping_address, lines, currency, zone, fx_rate_used,
		subtotal_ex_vat, vat_total, shipping, discount, grand_total, grand_total_display,
		coupon_code, status, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (
		id, customer_id, email, customer_name, billing_address, shipping_address, lines,
		currency, zone, fx_rate_used, subtotal_ex_vat, vat_total, shipping, discount,
		grand_total, grand_total_display, coupon_code, status, created_at, updated_at
	) VALUES (
		$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20
	) RETURNING number`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderByIDSQL + ` FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 <> '' AND customer_id = $1) OR ($2 <> '' AND lower(email) = lower($2))
		ORDER BY created_at DESC, number DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Lines and addresses are stored as JSONB snapshots.
type OrderRepository struct {
	db dbtx
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

// Create persists a new order and fills in its sequential number.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}
	billingJSON, err := nullableJSON(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}
	shippingJSON, err := nullableJSON(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	t := o.Totals
	err = r.db.QueryRow(ctx, createOrderSQL,
		o.ID, o.CustomerID, o.Email, o.CustomerName, billingJSON, shippingJSON, linesJSON,
		o.Currency, o.Zone, o.FXRateUsed, t.SubtotalExVat, t.VATTotal, t.Shipping, t.Discount,
		t.GrandTotal, t.GrandTotalDisplay, o.CouponCode, string(o.Status), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.Number)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetForUpdate returns the order and holds its row lock until the
// surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) getOne(ctx context.Context, query, id string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus sets the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, at time.Time) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// List returns one page of orders matching f and the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	where, args := orderFilter(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC, number DESC` +
		` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return orders, total, nil
}

// ListByCustomer returns orders placed by the account or under the email.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID, email string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByCustomerSQL, customerID, email)
	if err != nil {
		return nil, fmt.Errorf("listing customer orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing customer orders: %w", err)
	}
	return orders, nil
}

// Each streams every order matching f's status and date range to fn, oldest
// first. Paging fields are ignored.
func (r *OrderRepository) Each(ctx context.Context, f order.Filter, fn func(*order.Order) error) error {
	where, args := orderFilter(f)
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders`+where+` ORDER BY number`, args...)
	if err != nil {
		return fmt.Errorf("streaming orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return fmt.Errorf("scanning order: %w", err)
		}
		if err := fn(&o); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("streaming orders: %w", err)
	}
	return nil
}

func orderFilter(f order.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at < ?", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.Email, &o.CustomerName,
		&o.BillingAddress, &o.ShippingAddress, &o.Lines, &o.Currency, &o.Zone, &o.FXRateUsed,
		&o.Totals.SubtotalExVat, &o.Totals.VATTotal, &o.Totals.Shipping, &o.Totals.Discount,
		&o.Totals.GrandTotal, &o.Totals.GrandTotalDisplay,
		&o.CouponCode, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
