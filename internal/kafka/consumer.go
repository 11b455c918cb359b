package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	Reader MessageReader
	Logger *logger.Logger
	// RetryDelay is the pause before a failed message is handled again.
	RetryDelay time.Duration
}

// NewConsumer creates a consumer group reader for the given topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{Reader: reader, Logger: log, RetryDelay: 2 * time.Second}
}

// Start consumes ledger events until ctx is cancelled. An offset is committed
// only after handler succeeds; a failing event is retried so the read model
// never skips ahead. Malformed messages are logged and committed.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, ev models.LedgerEvent) error) error {
	c.Logger.Info("KAFKA", "Ledger event consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev, err := DecodeMessage(msg)
		if err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Dropping malformed message at offset %d: %v", msg.Offset, err))
		} else if err := c.handle(ctx, handler, ev); err != nil {
			return nil
		}

		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handle retries handler until it succeeds or ctx ends.
func (c *Consumer) handle(ctx context.Context, handler func(context.Context, models.LedgerEvent) error, ev models.LedgerEvent) error {
	for {
		err := handler(ctx, ev)
		if err == nil {
			c.Logger.LogKafka("CONSUMED", ev.Type, fmt.Sprintf("seq=%d ticket=%d", ev.Seq, ev.TicketID))
			return nil
		}
		c.Logger.Error("KAFKA", fmt.Sprintf("Handling seq %d failed, retrying: %v", ev.Seq, err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
