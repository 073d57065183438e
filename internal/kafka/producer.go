package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes to one topic. Publish waits for the broker acks, so a failed
// write reaches the caller, which owns the retry.
type Producer struct {
	w      *kafka.Writer
	logger *slog.Logger
}

func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
		},
		logger: logger.With("topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Warn("kafka write failed", "key", string(key), "err", err)
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the connections.
func (p *Producer) Close() error { return p.w.Close() }
