// Package kafka publishes pipeline events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/logger"
)

// messageWriter is the part of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures a Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds a single publish. Defaults to 5s.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Publisher writes events as JSON, keyed by conversation id so every event
// of one conversation lands on the same partition.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

var _ eventstream.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher backed by a kafka-go Writer.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, c), nil
}

func newPublisher(w messageWriter, c Config) *Publisher {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Publisher{writer: w, timeout: c.WriteTimeout, logger: c.Logger}
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	p.logger.Debug("published event",
		"event_type", event.EventType,
		"event_id", event.EventID,
		"conversation_id", event.ConversationID,
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
