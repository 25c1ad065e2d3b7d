// Package outbox delivers order events recorded inside order transactions.
//
// Events are written to the order_events table in the same transaction as
// the order change, then claimed and handed to handlers by the Relay. A
// message is retried with backoff until every handler succeeds or it runs
// out of attempts. Handlers that already succeeded are recorded on the
// message and skipped on retry. Delivery is at-least-once per handler.
package outbox

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Defaults for Config.
const (
	DefaultInterval    = 5 * time.Second
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 8
	DefaultLease       = time.Minute
)

// Message is a stored event awaiting delivery.
type Message struct {
	ID       int64
	OrderID  string
	Type     string
	Payload  []byte
	Attempts int
	// Handled names the handlers that already processed the message.
	Handled []string
}

// Store claims and settles outbox messages.
type Store interface {
	// Claim leases up to limit due messages so other relays skip them.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	MarkDelivered(ctx context.Context, id int64) error
	// MarkFailed records a failed attempt and the handlers that succeeded
	// so far. An abandoned message is never claimed again; otherwise it
	// becomes due at retryAt.
	MarkFailed(ctx context.Context, id int64, handled []string, reason string, retryAt time.Time, abandon bool) error
	Pending(ctx context.Context) (int, error)
}

// Handler reacts to a delivered event.
type Handler interface {
	// Name is stored with the message once Handle succeeds, so it must
	// stay stable across releases.
	Name() string
	Handle(ctx context.Context, e order.Event) error
}

// Config tunes the Relay.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	return c
}

var _ order.Relay = (*Relay)(nil)

// Relay polls the Store and fans messages out to handlers.
type Relay struct {
	store    Store
	handlers []Handler
	cfg      Config
	kick     chan struct{}
	now      func() time.Time

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// NewRelay creates a Relay. mp may be nil. Handler names must be unique.
func NewRelay(store Store, cfg Config, mp metric.MeterProvider, handlers ...Handler) (*Relay, error) {
	seen := make(map[string]struct{}, len(handlers))
	for _, h := range handlers {
		if _, dup := seen[h.Name()]; dup {
			return nil, errors.Errorf("duplicate outbox handler %q", h.Name())
		}
		seen[h.Name()] = struct{}{}
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/storefront/internal/outbox")

	delivered, err := meter.Int64Counter("storefront.outbox.delivered",
		metric.WithDescription("Outbox messages delivered to every handler"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "delivered counter")
	}
	failed, err := meter.Int64Counter("storefront.outbox.failed",
		metric.WithDescription("Failed outbox delivery attempts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}

	return &Relay{
		store:     store,
		handlers:  handlers,
		cfg:       cfg.withDefaults(),
		kick:      make(chan struct{}, 1),
		now:       time.Now,
		delivered: delivered,
		failed:    failed,
	}, nil
}

// Kick asks the relay to poll now instead of waiting for the next tick.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	lg.Info("Relay started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			lg.Error("Outbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			lg.Info("Relay stopped")
			return nil
		case <-ticker.C:
		case <-r.kick:
		}
	}
}

// Drain processes batches until no due messages remain.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		n, err := r.processBatch(ctx)
		if err != nil {
			return err
		}
		if n < r.cfg.BatchSize {
			return nil
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) (int, error) {
	msgs, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim")
	}
	slices.SortFunc(msgs, func(a, b Message) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	for _, m := range msgs {
		if err := r.deliver(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

// deliver returns an error only when the outcome could not be stored.
func (r *Relay) deliver(ctx context.Context, m Message) error {
	lg := zctx.From(ctx).With(
		zap.Int64("message_id", m.ID),
		zap.String("order_id", m.OrderID),
		zap.String("type", m.Type),
	)

	handled, handleErr := r.dispatch(ctx, m)
	if handleErr == nil {
		r.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("type", m.Type)))
		if err := r.store.MarkDelivered(ctx, m.ID); err != nil {
			return errors.Wrapf(err, "mark %d delivered", m.ID)
		}
		return nil
	}

	r.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", m.Type)))
	attempts := m.Attempts + 1
	abandon := attempts >= r.cfg.MaxAttempts
	retryAt := r.now().Add(Backoff(attempts))
	if abandon {
		lg.Error("Giving up on outbox message", zap.Int("attempts", attempts), zap.Error(handleErr))
	} else {
		lg.Warn("Outbox delivery failed",
			zap.Int("attempts", attempts),
			zap.Time("retry_at", retryAt),
			zap.Strings("handled", handled),
			zap.Error(handleErr),
		)
	}
	if err := r.store.MarkFailed(ctx, m.ID, handled, handleErr.Error(), retryAt, abandon); err != nil {
		return errors.Wrapf(err, "mark %d failed", m.ID)
	}
	return nil
}

// dispatch runs every handler not yet recorded on m. It returns the
// handlers that have succeeded, including earlier attempts, and the errors
// of those that failed. A failing handler does not stop the others.
func (r *Relay) dispatch(ctx context.Context, m Message) ([]string, error) {
	handled := slices.Clone(m.Handled)

	var e order.Event
	if err := json.Unmarshal(m.Payload, &e); err != nil {
		return handled, errors.Wrap(err, "decode payload")
	}

	var errs []error
	for _, h := range r.handlers {
		name := h.Name()
		if slices.Contains(handled, name) {
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			errs = append(errs, errors.Wrap(err, name))
			continue
		}
		handled = append(handled, name)
	}
	return handled, stderrors.Join(errs...)
}

// Backoff is the delay before retry number attempt: 2^attempt seconds,
// capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt > 12 {
		return time.Hour
	}
	d := time.Duration(1<<attempt) * time.Second
	return min(d, time.Hour)
}
