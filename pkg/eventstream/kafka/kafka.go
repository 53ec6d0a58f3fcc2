// Package kafka provides an eventstream publisher backed by a Kafka or
// Redpanda topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

const (
	// DefaultTopic is the topic fact events land on when none is configured.
	DefaultTopic = "engram.facts"

	// DefaultBatchTimeout keeps latency low for the trickle-rate fact stream.
	DefaultBatchTimeout = 100 * time.Millisecond
)

// Config holds the Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// writer is the subset of kafka-go's Writer the publisher uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher publishes fact events to a Kafka topic. Messages are keyed by
// fact subject so all events for one subject stay ordered on one partition.
type Publisher struct {
	writer writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: at least one broker is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: DefaultBatchTimeout,
		RequiredAcks: kafkago.RequireOne,
	}

	return &Publisher{writer: w, logger: logger}, nil
}

// PublishFact implements eventstream.Publisher.
func (p *Publisher) PublishFact(ctx context.Context, event *eventstream.FactIngestedEvent) error {
	if event == nil {
		return eventstream.ErrNilFactEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal event: %w", err)
	}

	var key []byte
	if event.Fact != nil {
		key = []byte(event.Fact.Subject)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   key,
		Value: payload,
	}); err != nil {
		return fmt.Errorf("kafka publisher: write message: %w", err)
	}

	p.logger.Debug("published fact event",
		zap.String("event_id", event.EventID),
		zap.String("action", event.Action))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Ensure Publisher implements eventstream.Publisher.
var _ eventstream.Publisher = (*Publisher)(nil)
