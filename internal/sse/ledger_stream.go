package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ticket-ledger/internal/models"

	"github.com/google/uuid"
)

const clientBuffer = 32

// Filter narrows a subscription. Zero fields match everything.
type Filter struct {
	EventID uint64
	// Account matches events where the account appears in any role.
	Account string
}

func (f Filter) matches(ev models.LedgerEvent) bool {
	if f.EventID != 0 && ev.EventID != f.EventID {
		return false
	}
	if f.Account == "" {
		return true
	}
	for _, v := range ev.Attributes {
		if strings.EqualFold(v, f.Account) {
			return true
		}
	}
	return false
}

type client struct {
	ch     chan models.LedgerEvent
	filter Filter
}

// LedgerStream fans committed ledger events out to live subscribers. Slow
// subscribers miss events rather than stall the ledger.
type LedgerStream struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewLedgerStream() *LedgerStream {
	return &LedgerStream{clients: make(map[string]*client)}
}

// Subscribe registers a client until ctx is done, when its channel is closed.
func (s *LedgerStream) Subscribe(ctx context.Context, filter Filter) (string, <-chan models.LedgerEvent) {
	id := uuid.NewString()
	c := &client{ch: make(chan models.LedgerEvent, clientBuffer), filter: filter}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.remove(id)
	}()
	return id, c.ch
}

// Publish delivers events to every matching subscriber without blocking.
func (s *LedgerStream) Publish(events []models.LedgerEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range events {
		for _, c := range s.clients {
			if !c.filter.matches(ev) {
				continue
			}
			select {
			case c.ch <- ev:
			default:
			}
		}
	}
}

func (s *LedgerStream) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		delete(s.clients, id)
		close(c.ch)
	}
}

// ClientCount returns the number of live subscribers.
func (s *LedgerStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP streams events as text/event-stream. Query parameters event_id
// and account set the filter.
func (s *LedgerStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	var filter Filter
	if raw := r.URL.Query().Get("event_id"); raw != "" {
		eventID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid event_id", http.StatusBadRequest)
			return
		}
		filter.EventID = eventID
	}
	filter.Account = r.URL.Query().Get("account")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, events := s.Subscribe(r.Context(), filter)
	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\":%q}\n\n", id)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
