package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ticket-ledger/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event-type"
	headerTicketID  = "ticket-id"
	// ledgerKey is the key of every message: the whole log shares one
	// partition so consumers see it in sequence order.
	ledgerKey = "ledger"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{Writer: writer, Topic: topic}
}

// PublishEvents streams committed ledger events in sequence order.
func (p *Producer) PublishEvents(ctx context.Context, events []models.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := EncodeMessage(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d ledger events to %s: %w", len(msgs), p.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// EncodeMessage turns a log row into a Kafka message.
func EncodeMessage(ev models.LedgerEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal ledger event %d: %w", ev.Seq, err)
	}
	return kafka.Message{
		Key:   []byte(ledgerKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(ev.Type)},
			{Key: headerTicketID, Value: []byte(strconv.FormatUint(ev.TicketID, 10))},
		},
	}, nil
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(msg kafka.Message) (models.LedgerEvent, error) {
	var ev models.LedgerEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return models.LedgerEvent{}, fmt.Errorf("unmarshal ledger event: %w", err)
	}
	if ev.Seq == 0 || ev.Type == "" {
		return models.LedgerEvent{}, fmt.Errorf("ledger event without seq or type")
	}
	return ev, nil
}
