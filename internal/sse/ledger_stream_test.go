package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticket-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceHex = "0x00000000000000000000000000000000000A11cE"
	bobHex   = "0x0000000000000000000000000000000000000b0b"
)

func transferEvent(seq int64, eventID uint64) models.LedgerEvent {
	return models.LedgerEvent{
		Seq:      seq,
		Type:     "ticket.transferred",
		TicketID: 1,
		EventID:  eventID,
		Attributes: map[string]string{
			"from": aliceHex,
			"to":   bobHex,
		},
	}
}

func TestSubscribeFiltersByEvent(t *testing.T) {
	s := NewLedgerStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, ch := s.Subscribe(ctx, Filter{EventID: 7})
	s.Publish([]models.LedgerEvent{transferEvent(1, 8), transferEvent(2, 7)})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(2), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Empty(t, ch)
}

func TestSubscribeFiltersByAccount(t *testing.T) {
	s := NewLedgerStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, mine := s.Subscribe(ctx, Filter{Account: strings.ToLower(aliceHex)})
	_, other := s.Subscribe(ctx, Filter{Account: "0x0000000000000000000000000000000000000c01"})
	s.Publish([]models.LedgerEvent{transferEvent(1, 7)})

	assert.Len(t, mine, 1)
	assert.Empty(t, other)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewLedgerStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch := s.Subscribe(ctx, Filter{})

	batch := make([]models.LedgerEvent, clientBuffer+10)
	for i := range batch {
		batch[i] = transferEvent(int64(i+1), 7)
	}
	s.Publish(batch)
	assert.Len(t, ch, clientBuffer)
}

func TestCancelRemovesClient(t *testing.T) {
	s := NewLedgerStream()
	ctx, cancel := context.WithCancel(context.Background())
	_, ch := s.Subscribe(ctx, Filter{})
	assert.Equal(t, 1, s.ClientCount())

	cancel()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)

	s.Publish([]models.LedgerEvent{transferEvent(1, 7)})
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	s := NewLedgerStream()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?event_id=7")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	s.Publish([]models.LedgerEvent{transferEvent(5, 7)})

	var got []string
	for len(got) < 5 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Contains(t, got, "id: 5\n")
	assert.Contains(t, got, "event: ticket.transferred\n")
}

func TestServeHTTPRejectsBadEventID(t *testing.T) {
	s := NewLedgerStream()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?event_id=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
