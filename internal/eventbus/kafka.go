// Package eventbus publishes order events to Kafka.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/outbox"
)

// DefaultTopic receives every order event.
const DefaultTopic = "storefront.orders"

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ outbox.Handler = (*Publisher)(nil)

// Publisher forwards outbox events to a Kafka topic, keyed by order id so
// events of one order stay ordered within a partition.
type Publisher struct {
	w messageWriter
}

// Config configures the Kafka writer.
type Config struct {
	Brokers []string
	Topic   string
}

// NewPublisher creates a Publisher with a synchronous writer.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

// HandlerName is the outbox handler name of the Publisher.
const HandlerName = "kafka"

func (p *Publisher) Name() string { return HandlerName }

func (p *Publisher) Handle(ctx context.Context, e order.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for order %s", e.Type, e.OrderID)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
