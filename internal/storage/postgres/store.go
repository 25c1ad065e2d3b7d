package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var _ order.Transactor = (*Store)(nil)

// Store runs order work inside PostgreSQL transactions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that opens transactions on pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx runs fn in a READ COMMITTED transaction. Stock decrements are
// conditional updates, so row locks taken by the UPDATE are enough to keep
// concurrent checkouts from overselling.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow order.UnitOfWork) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, unitOfWork{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type unitOfWork struct {
	db dbtx
}

func (u unitOfWork) Products() product.Repository   { return &ProductRepository{db: u.db} }
func (u unitOfWork) Orders() order.Repository       { return &OrderRepository{db: u.db} }
func (u unitOfWork) Customers() customer.Repository { return &CustomerRepository{db: u.db} }
func (u unitOfWork) Coupons() coupon.Repository     { return &CouponRepository{db: u.db} }
func (u unitOfWork) Events() order.EventRecorder    { return &OutboxRepository{db: u.db} }
