package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

// fakeReader serves queued messages then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func sampleEvent(seq int64, ticketID uint64) models.LedgerEvent {
	return models.LedgerEvent{
		Seq:        seq,
		Type:       "ticket.minted",
		TicketID:   ticketID,
		EventID:    7,
		Attributes: map[string]string{"ticket_id": "1"},
		CreatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEncodeMessageKeys(t *testing.T) {
	msg, err := EncodeMessage(sampleEvent(1, 42))
	require.NoError(t, err)
	assert.Equal(t, "ledger", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "ticket.minted", string(msg.Headers[0].Value))
	assert.Equal(t, "42", string(msg.Headers[1].Value))

	role := sampleEvent(2, 0)
	role.Type = "role.granted"
	msg, err = EncodeMessage(role)
	require.NoError(t, err)
	assert.Equal(t, "ledger", string(msg.Key))

	decoded, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, role, decoded)
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
	_, err = DecodeMessage(kafka.Message{Value: []byte(`{"type":"ticket.minted"}`)})
	assert.Error(t, err)
}

func TestPublishEvents(t *testing.T) {
	w := new(MockWriter)
	p := &Producer{Writer: w, Topic: "ticketly.ledger.events"}
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 2 || string(msgs[0].Key) != string(msgs[1].Key) {
			return false
		}
		first, err1 := DecodeMessage(msgs[0])
		second, err2 := DecodeMessage(msgs[1])
		return err1 == nil && err2 == nil && first.Seq == 1 && second.Seq == 2
	})).Return(nil).Once()

	err := p.PublishEvents(context.Background(), []models.LedgerEvent{sampleEvent(1, 1), sampleEvent(2, 2)})
	assert.NoError(t, err)
	assert.NoError(t, p.PublishEvents(context.Background(), nil))
	w.AssertExpectations(t)
}

func TestPublishEventsWrapsWriterError(t *testing.T) {
	w := new(MockWriter)
	p := &Producer{Writer: w, Topic: "t"}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := p.PublishEvents(context.Background(), []models.LedgerEvent{sampleEvent(1, 1)})
	assert.ErrorContains(t, err, "broker down")
}

func TestConsumerCommitsAfterHandler(t *testing.T) {
	good, err := EncodeMessage(sampleEvent(1, 1))
	require.NoError(t, err)
	good.Offset = 10
	bad := kafka.Message{Offset: 11, Value: []byte("not json")}
	next, err := EncodeMessage(sampleEvent(2, 1))
	require.NoError(t, err)
	next.Offset = 12

	reader := &fakeReader{queue: []kafka.Message{good, bad, next}}
	c := &Consumer{Reader: reader, Logger: logger.Discard(), RetryDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []int64
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, ev models.LedgerEvent) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if ev.Seq == 2 && attempts < 4 {
				return errors.New("db busy")
			}
			handled = append(handled, ev.Seq)
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2}, handled)
	assert.Equal(t, []int64{10, 11, 12}, reader.commits())
}
