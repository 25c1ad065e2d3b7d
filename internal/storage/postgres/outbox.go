package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/outbox"
)

const (
	recordEventSQL = `INSERT INTO order_events (order_id, type, payload, created_at, available_at)
		VALUES ($1, $2, $3, $4, $4)`

	claimEventsSQL = `UPDATE order_events SET available_at = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM order_events
			WHERE delivered_at IS NULL AND abandoned_at IS NULL AND available_at <= now()
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, type, payload, attempts, handled_by`

	markEventDeliveredSQL = `UPDATE order_events SET delivered_at = now(), attempts = attempts + 1
		WHERE id = $1`

	markEventFailedSQL = `UPDATE order_events SET
		attempts = attempts + 1,
		handled_by = $2,
		last_error = $3,
		available_at = $4,
		abandoned_at = CASE WHEN $5 THEN now() ELSE NULL END
		WHERE id = $1`

	countPendingEventsSQL = `SELECT count(*) FROM order_events
		WHERE delivered_at IS NULL AND abandoned_at IS NULL`
)

var (
	_ order.EventRecorder = (*OutboxRepository)(nil)
	_ outbox.Store        = (*OutboxRepository)(nil)
)

// OutboxRepository stores order events in order_events. Record is meant to
// run inside the order transaction; the other methods run on the pool.
type OutboxRepository struct {
	db dbtx
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: pool}
}

func (r *OutboxRepository) Record(ctx context.Context, e order.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := r.db.Exec(ctx, recordEventSQL, e.OrderID, string(e.Type), payload, e.OccurredAt); err != nil {
		return fmt.Errorf("recording %s event for order %q: %w", e.Type, e.OrderID, err)
	}
	return nil
}

// Claim leases due messages. Concurrent relays skip rows locked by each
// other, and a leased row is not due again until the lease expires.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Message, error) {
	rows, err := r.db.Query(ctx, claimEventsSQL, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claiming events: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.OrderID, &m.Type, &m.Payload, &m.Attempts, &m.Handled)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming events: %w", err)
	}
	return msgs, nil
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, markEventDeliveredSQL, id); err != nil {
		return fmt.Errorf("marking event %d delivered: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, handled []string, reason string, retryAt time.Time, abandon bool) error {
	if handled == nil {
		handled = []string{}
	}
	if _, err := r.db.Exec(ctx, markEventFailedSQL, id, handled, reason, retryAt, abandon); err != nil {
		return fmt.Errorf("marking event %d failed: %w", id, err)
	}
	return nil
}

// Pending counts messages still awaiting delivery.
func (r *OutboxRepository) Pending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, countPendingEventsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending events: %w", err)
	}
	return n, nil
}
