// Package service hosts the ledger: it serializes calls, persists every
// committed call before it becomes visible and forwards the committed events
// to Kafka, the live stream and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ticket-ledger/internal/bank"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/ledger/db"
	"ticket-ledger/internal/ledger/qr"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/monitoring"
)

var (
	ErrPassesDisabled = errors.New("gate passes are not configured")
	ErrStalePass      = errors.New("pass holder no longer owns the ticket")
	ErrPassMismatch   = errors.New("pass does not match the ticket's event")
)

// Store is the durable side of the ledger.
type Store interface {
	AppendEvents(ctx context.Context, events []models.LedgerEvent, balances []models.Balance) error
	SaveBalances(ctx context.Context, balances []models.Balance) error
	LoadEvents(ctx context.Context, afterSeq int64) ([]models.LedgerEvent, error)
	LoadBalances(ctx context.Context) ([]models.Balance, error)
}

// Publisher forwards committed events to a message bus.
type Publisher interface {
	PublishEvents(ctx context.Context, events []models.LedgerEvent) error
}

// Broadcaster fans committed events out to live subscribers.
type Broadcaster interface {
	Publish(events []models.LedgerEvent)
}

type Options struct {
	Publisher Publisher
	Stream    Broadcaster
	Metrics   *monitoring.Metrics
	Passes    *qr.PassGenerator
	Logger    *logger.Logger
}

type Service struct {
	mu sync.Mutex
	// pubMu orders delivery of committed batches and guards backlog.
	pubMu   sync.Mutex
	backlog []models.LedgerEvent

	ledger *ledger.Ledger
	bank   *bank.Bank
	store  Store

	publisher Publisher
	stream    Broadcaster
	metrics   *monitoring.Metrics
	passes    *qr.PassGenerator
	logger    *logger.Logger
	now       func() time.Time

	seq int64
	// Set for the duration of one call.
	callCtx   context.Context
	committed []models.LedgerEvent
	typed     []ledger.Event
}

// New wires l to b and installs the persisting commit hook. Call Restore
// before serving.
func New(l *ledger.Ledger, b *bank.Bank, store Store, opts Options) *Service {
	s := &Service{
		ledger:    l,
		bank:      b,
		store:     store,
		publisher: opts.Publisher,
		stream:    opts.Stream,
		metrics:   opts.Metrics,
		passes:    opts.Passes,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	l.SetVault(b)
	l.SetCommitHook(s.persist)
	return s
}

// Restore replays the persisted log and balances into the in-memory state.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.LoadEvents(ctx, 0)
	if err != nil {
		return err
	}
	events, err := db.DecodeRows(rows)
	if err != nil {
		return err
	}
	if err := s.ledger.Restore(events); err != nil {
		return err
	}
	if len(rows) > 0 {
		s.seq = rows[len(rows)-1].Seq
	}

	balances, err := s.store.LoadBalances(ctx)
	if err != nil {
		return err
	}
	for _, bal := range balances {
		amount, err := uint256.FromDecimal(bal.Amount)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", bal.Account, err)
		}
		s.bank.Load(common.HexToAddress(bal.Account), amount)
	}
	if s.metrics != nil {
		s.metrics.SetState(s.ledger.Supply(), s.ledger.Listings())
	}
	s.logger.LogDatabase("RESTORE", "ledger_events", fmt.Sprintf("replayed %d events, %d balances, %d live tickets", len(rows), len(balances), s.ledger.Supply()))
	return nil
}

// Seq returns the sequence number of the last committed event.
func (s *Service) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// persist is the ledger commit hook. It runs before the call's events are
// released; an error rolls the whole call back.
func (s *Service) persist(events []ledger.Event) error {
	at := s.now().UTC()
	rows := make([]models.LedgerEvent, len(events))
	for i, ev := range events {
		rows[i] = db.EventRow(s.seq+int64(i)+1, ev, at)
	}
	if err := s.store.AppendEvents(s.callCtx, rows, s.dirtyBalances(at)); err != nil {
		return err
	}
	s.seq += int64(len(rows))
	s.committed = rows
	s.typed = events
	return nil
}

func (s *Service) dirtyBalances(at time.Time) []models.Balance {
	dirty := s.bank.Dirty()
	out := make([]models.Balance, 0, len(dirty))
	for account, amount := range dirty {
		out = append(out, models.Balance{Account: account.Hex(), Amount: amount.Dec(), UpdatedAt: at})
	}
	return out
}

// maxBacklog bounds the events kept for redelivery while the bus is down.
const maxBacklog = 10_000

type callResult struct {
	err       error
	committed []models.LedgerEvent
	typed     []ledger.Event
	live      int
	listings  int
}

// exec runs one ledger call under the host lock and forwards what it committed.
func (s *Service) exec(ctx context.Context, op string, caller common.Address, fn func() error) error {
	start := time.Now()
	res := s.run(ctx, fn)
	err := res.err

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = ledger.KindOf(err).String()
		s.logger.LogCall(op, caller.Hex(), fmt.Sprintf("%s: %v", outcome, err), elapsed)
	} else {
		s.logger.LogCall(op, caller.Hex(), outcome, elapsed)
	}
	if s.metrics != nil {
		s.metrics.ObserveCall(op, err, elapsed)
	}
	if err != nil || len(res.committed) == 0 {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveEvents(res.typed)
		s.metrics.SetState(res.live, res.listings)
	}
	defer s.pubMu.Unlock()
	s.forward(ctx, res.committed)
	return nil
}

// run executes fn under the host lock. The lock is released even when fn
// panics. A call that committed events returns holding pubMu, taken before
// the host lock is dropped, so forwarding follows commit order.
func (s *Service) run(ctx context.Context, fn func() error) (res callResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		s.callCtx, s.committed, s.typed = nil, nil, nil
		s.bank.Finalize()
	}()

	s.callCtx = ctx
	res.err = fn()
	res.committed, res.typed = s.committed, s.typed
	res.live, res.listings = s.ledger.Supply(), s.ledger.Listings()
	if res.err == nil && len(res.committed) > 0 {
		s.pubMu.Lock()
	}
	return res
}

// forward delivers committed events. The log is the source of truth, so
// delivery failures are logged and counted, never returned. Undelivered
// events are kept and sent ahead of the next batch. Callers hold pubMu.
func (s *Service) forward(ctx context.Context, rows []models.LedgerEvent) {
	if s.stream != nil {
		s.stream.Publish(rows)
	}
	if s.publisher == nil {
		return
	}
	batch := append(s.backlog, rows...)
	if err := s.publisher.PublishEvents(ctx, batch); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish seq %d..%d: %v", batch[0].Seq, batch[len(batch)-1].Seq, err))
		if s.metrics != nil {
			s.metrics.PublishFailed("kafka")
		}
		if over := len(batch) - maxBacklog; over > 0 {
			s.logger.Error("KAFKA", fmt.Sprintf("backlog full, dropping seq %d..%d; indexers must catch up from the log", batch[0].Seq, batch[over-1].Seq))
			batch = batch[over:]
		}
		s.backlog = batch
		return
	}
	if len(s.backlog) > 0 {
		s.logger.LogKafka("REDELIVERED", "ledger", fmt.Sprintf("%d delayed events", len(s.backlog)))
	}
	s.backlog = nil
}

// Backlog returns the number of committed events not yet delivered to the bus.
func (s *Service) Backlog() int {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	return len(s.backlog)
}

// read runs fn under the host lock.
func (s *Service) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
