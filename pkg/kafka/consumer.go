// Package kafka carries run events between termfreq processes over
// segmentio/kafka-go. The producer serialises events as JSON; the consumer
// hands raw messages to a MessageHandler and commits what it has finished
// with.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// ErrMalformed marks a message that can never be handled. The consumer
// commits such messages without retrying them.
var ErrMalformed = errors.New("malformed message")

// MessageHandler is called once per delivery attempt of a message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consume loop has done with messages.
type ConsumerStats struct {
	Handled int64
	Skipped int64
	Failed  int64
}

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	retry   resilience.RetryConfig
	backoff time.Duration
	logger  *slog.Logger

	handled atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// NewConsumer creates a Consumer for topic. A group that has no committed
// offset starts at the beginning of the topic.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable:    func(err error) bool { return !errors.Is(err, ErrMalformed) },
		},
		backoff: time.Second,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled and then closes the reader.
//
// A handler error is retried with backoff. Malformed messages and messages
// that exhaust their retries are committed and counted, so one bad record
// never stalls the partition. Fetch errors back off before the next fetch.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err, "backoff", c.backoff)
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		err = resilience.Retry(ctx, "handle message", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		switch {
		case err == nil:
			c.handled.Add(1)
			log.Debug("message handled", "value_size", len(msg.Value))
		case ctx.Err() != nil:
			// uncommitted; redelivered to the group after restart
			return nil
		case errors.Is(err, ErrMalformed):
			c.skipped.Add(1)
			log.Warn("skipping malformed message", "error", err)
		default:
			c.failed.Add(1)
			log.Error("giving up on message", "error", err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("commit failed", "error", err)
		}
	}
}

// Stats returns the loop counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled: c.handled.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}

// DecodeJSON unmarshals a message value into T. Decoding errors wrap
// ErrMalformed.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return result, nil
}
