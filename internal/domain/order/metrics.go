package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

type metrics struct {
	placed      metric.Int64Counter
	failed      metric.Int64Counter
	duration    metric.Float64Histogram
	transitions metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	placed, err := meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	failed, err := meter.Int64Counter("storefront.orders.failed",
		metric.WithDescription("Order placements rolled back, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	duration, err := meter.Float64Histogram("storefront.orders.place.duration",
		metric.WithDescription("Order placement latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	transitions, err := meter.Int64Counter("storefront.orders.status_changes",
		metric.WithDescription("Order status transitions, by target status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	return &metrics{
		placed:      placed,
		failed:      failed,
		duration:    duration,
		transitions: transitions,
	}, nil
}

func (m *metrics) recordPlacement(ctx context.Context, took time.Duration, err error) {
	m.duration.Record(ctx, took.Seconds())
	if err == nil {
		m.placed.Add(ctx, 1)
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
}

func (m *metrics) recordTransition(ctx context.Context, to Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}

func failureReason(err error) string {
	var (
		validation *ValidationError
		notFound   *ProductNotFoundError
		variant    *VariantNotFoundError
		stock      *InsufficientStockError
	)
	switch {
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &notFound), errors.As(err, &variant):
		return "not_found"
	case errors.As(err, &validation):
		return "validation"
	default:
		return "aborted"
	}
}
