package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Handle(t *testing.T) {
	w := &mockWriter{}
	p := &Publisher{w: w}

	e := order.Event{
		Type:           order.EventStatusChanged,
		OrderID:        "o-1",
		OrderNumber:    42,
		Email:          "buyer@example.com",
		Status:         order.StatusShipped,
		PreviousStatus: order.StatusPaid,
		OccurredAt:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Handle(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, e.OccurredAt, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "order.status_changed", string(msg.Headers[0].Value))

	var got order.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, e, got)
}

func TestPublisher_HandleError(t *testing.T) {
	p := &Publisher{w: &mockWriter{err: errors.New("leader not available")}}

	err := p.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "o-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.created")
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(Config{})
	require.Error(t, err)

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	kw, ok := p.w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, kw.Topic)
	require.NoError(t, p.Close())
}
