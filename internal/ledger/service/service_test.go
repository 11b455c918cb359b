package service_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticket-ledger/internal/bank"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/ledger/db"
	"ticket-ledger/internal/ledger/qr"
	"ticket-ledger/internal/ledger/service"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/monitoring"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var (
	deployer  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	escrow    = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	organizer = common.HexToAddress("0x0000000000000000000000000000000000000042")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	scanner   = common.HexToAddress("0x0000000000000000000000000000000000005ca9")
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvents(ctx context.Context, events []models.LedgerEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type streamRecorder struct {
	rows []models.LedgerEvent
}

func (s *streamRecorder) Publish(events []models.LedgerEvent) { s.rows = append(s.rows, events...) }

// failingStore wraps a real store and fails appends while fail is set, or
// panics while panics is set.
type failingStore struct {
	*db.DB
	fail   bool
	panics bool
}

func (f *failingStore) AppendEvents(ctx context.Context, events []models.LedgerEvent, balances []models.Balance) error {
	if f.panics {
		panic("driver exploded")
	}
	if f.fail {
		return errors.New("disk full")
	}
	return f.DB.AppendEvents(ctx, events, balances)
}

func setupTestDB(t *testing.T) *db.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	store := &db.DB{Bun: bun.NewDB(sqldb, sqlitedialect.New())}
	t.Cleanup(func() { store.Bun.Close() })
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

type fixture struct {
	svc     *service.Service
	store   *failingStore
	pub     *MockPublisher
	stream  *streamRecorder
	reg     *prometheus.Registry
	passes  *qr.PassGenerator
	ledger  *ledger.Ledger
	bank    *bank.Bank
	context context.Context
}

func newService(t *testing.T, store *failingStore, pub *MockPublisher) *fixture {
	t.Helper()
	l, err := ledger.New(ledger.Config{
		Deployer:         deployer,
		Escrow:           escrow,
		RoyaltyRecipient: organizer,
		RoyaltyRate:      500,
	})
	require.NoError(t, err)
	passes, err := qr.NewPassGenerator("gate-secret", 128, 0)
	require.NoError(t, err)
	b := bank.New()
	reg := prometheus.NewRegistry()
	stream := &streamRecorder{}
	opts := service.Options{Stream: stream, Metrics: monitoring.New(reg), Passes: passes}
	if pub != nil {
		opts.Publisher = pub
	}
	svc := service.New(l, b, store, opts)
	require.NoError(t, svc.Restore(context.Background()))
	return &fixture{svc: svc, store: store, pub: pub, stream: stream, reg: reg, passes: passes, ledger: l, bank: b, context: context.Background()}
}

func newFixture(t *testing.T) *fixture {
	pub := &MockPublisher{}
	pub.On("PublishEvents", mock.Anything, mock.Anything).Return(nil).Maybe()
	return newService(t, &failingStore{DB: setupTestDB(t)}, pub)
}

func TestMintPersistsAndForwards(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Mint(f.context, deployer, alice, 7, "ipfs://1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, int64(1), f.svc.Seq())

	logged, err := f.store.LoadEvents(f.context, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, ledger.TypeTicketMinted, logged[0].Type)
	assert.Equal(t, int64(1), logged[0].Seq)

	ticket, err := f.store.GetTicket(f.context, 1)
	require.NoError(t, err)
	assert.Equal(t, alice.Hex(), ticket.Owner)

	require.Len(t, f.stream.rows, 1)
	assert.Equal(t, uint64(1), f.stream.rows[0].TicketID)
	f.pub.AssertCalled(t, "PublishEvents", mock.Anything, mock.MatchedBy(func(rows []models.LedgerEvent) bool {
		return len(rows) == 1 && rows[0].Type == ledger.TypeTicketMinted
	}))
}

func TestRejectedCallForwardsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Mint(f.context, alice, alice, 7, "")
	assert.ErrorIs(t, err, ledger.ErrMissingRole)
	assert.Equal(t, int64(0), f.svc.Seq())
	assert.Empty(t, f.stream.rows)
	f.pub.AssertNotCalled(t, "PublishEvents", mock.Anything, mock.Anything)
}

func TestBuyPersistsBalances(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	_, err = f.svc.Deposit(f.context, deployer, bob, uint256.NewInt(150))
	require.NoError(t, err)
	require.NoError(t, f.svc.List(f.context, alice, id, uint256.NewInt(100)))

	sale, err := f.svc.Buy(f.context, bob, id, uint256.NewInt(150))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), sale.Royalty.Uint64())
	assert.Equal(t, uint64(50), sale.Refund.Uint64())

	for account, want := range map[common.Address]string{
		bob:       "50",
		alice:     "95",
		organizer: "5",
		escrow:    "0",
	} {
		bal, err := f.store.GetBalance(f.context, account.Hex())
		require.NoError(t, err, account.Hex())
		assert.Equal(t, want, bal.Amount, account.Hex())
	}

	types := make([]string, 0, len(f.stream.rows))
	for _, row := range f.stream.rows {
		types = append(types, row.Type)
	}
	assert.Equal(t, []string{
		ledger.TypeTicketMinted,
		ledger.TypeTicketListed,
		ledger.TypeTicketTransferred,
		ledger.TypeTicketSold,
	}, types)
}

func TestStoreFailureRollsBackCall(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	_, err = f.svc.Deposit(f.context, deployer, bob, uint256.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, f.svc.List(f.context, alice, id, uint256.NewInt(100)))
	published := len(f.stream.rows)

	f.store.fail = true
	_, err = f.svc.Buy(f.context, bob, id, uint256.NewInt(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrCommitRejected)
	assert.Equal(t, ledger.KindHost, ledger.KindOf(err))

	ticket, listing, err := f.svc.Ticket(id)
	require.NoError(t, err)
	assert.Equal(t, alice, ticket.Owner)
	require.NotNil(t, listing)
	assert.Equal(t, uint64(100), f.svc.BalanceOf(bob).Uint64())
	assert.True(t, f.svc.BalanceOf(alice).IsZero())
	assert.Equal(t, published, len(f.stream.rows))
	assert.Equal(t, int64(2), f.svc.Seq())

	f.store.fail = false
	_, err = f.svc.Buy(f.context, bob, id, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.svc.Seq())
}

func TestRestoreRebuildsState(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "ipfs://1")
	require.NoError(t, err)
	_, err = f.svc.Deposit(f.context, deployer, bob, uint256.NewInt(120))
	require.NoError(t, err)
	require.NoError(t, f.svc.List(f.context, alice, id, uint256.NewInt(100)))
	_, err = f.svc.Buy(f.context, bob, id, uint256.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, f.svc.Grant(f.context, deployer, ledger.RoleGatekeeper, scanner))
	require.NoError(t, f.svc.SetRoyalty(f.context, deployer, organizer, 300))

	restored := newService(t, f.store, nil)
	assert.Equal(t, f.svc.Seq(), restored.svc.Seq())

	ticket, listing, err := restored.svc.Ticket(id)
	require.NoError(t, err)
	assert.Equal(t, bob, ticket.Owner)
	assert.Nil(t, listing)
	assert.Equal(t, uint64(20), restored.svc.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(95), restored.svc.BalanceOf(alice).Uint64())
	assert.Contains(t, restored.svc.RoleMembers(ledger.RoleGatekeeper), scanner)
	cfg, _ := restored.svc.Royalty()
	assert.Equal(t, uint16(300), cfg.Rate)

	next, err := restored.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishEvents", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f := newService(t, &failingStore{DB: setupTestDB(t)}, pub)

	_, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	pub.AssertExpectations(t)

	rec := httptest.NewRecorder()
	monitoring.Handler(f.reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `ticket_ledger_publish_failures_total{sink="kafka"} 1`)
	assert.Contains(t, rec.Body.String(), `ticket_ledger_calls_total{op="mint",outcome="ok"} 1`)
}

func TestPublishFailureRedeliversInOrder(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishEvents", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	pub.On("PublishEvents", mock.Anything, mock.Anything).Return(nil).Once()
	f := newService(t, &failingStore{DB: setupTestDB(t)}, pub)

	_, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.Backlog())

	_, err = f.svc.Mint(f.context, deployer, bob, 7, "")
	require.NoError(t, err)
	assert.Equal(t, 0, f.svc.Backlog())

	pub.AssertExpectations(t)
	require.Len(t, pub.Calls, 2)
	redelivered := pub.Calls[1].Arguments.Get(1).([]models.LedgerEvent)
	require.Len(t, redelivered, 2)
	assert.Equal(t, int64(1), redelivered[0].Seq)
	assert.Equal(t, int64(2), redelivered[1].Seq)
}

func TestPanicInCommitReleasesHost(t *testing.T) {
	f := newFixture(t)
	f.store.panics = true

	assert.Panics(t, func() {
		_, _ = f.svc.Mint(f.context, deployer, alice, 7, "")
	})

	done := make(chan int64, 1)
	go func() { done <- f.svc.Seq() }()
	select {
	case seq := <-done:
		assert.Equal(t, int64(0), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("host lock still held after a panicking call")
	}

	f.store.panics = false
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, int64(1), f.svc.Seq())
	assert.Empty(t, f.svc.TicketsOf(bob))
	assert.Len(t, f.svc.TicketsOf(alice), 1)
}

func TestDepositRequiresAdministrator(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Deposit(f.context, alice, alice, uint256.NewInt(10))
	assert.ErrorIs(t, err, ledger.ErrMissingRole)
	assert.True(t, f.svc.BalanceOf(alice).IsZero())

	_, err = f.svc.Deposit(f.context, deployer, alice, uint256.NewInt(0))
	assert.ErrorIs(t, err, ledger.ErrPrecondition)

	bal, err := f.svc.Deposit(f.context, deployer, alice, uint256.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal.Uint64())
}

func TestDepositStoreFailureReverts(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Bun.NewDropTable().Model((*models.Balance)(nil)).Exec(f.context)
	require.NoError(t, err)

	_, err = f.svc.Deposit(f.context, deployer, alice, uint256.NewInt(10))
	assert.ErrorIs(t, err, ledger.ErrHost)
	assert.True(t, f.svc.BalanceOf(alice).IsZero())
}

func TestScanPass(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Grant(f.context, deployer, ledger.RoleGatekeeper, scanner))

	token, err := f.passes.Seal(f.passes.Issue(id, 7, alice))
	require.NoError(t, err)

	scanned, err := f.svc.ScanPass(f.context, scanner, token)
	require.NoError(t, err)
	assert.Equal(t, id, scanned)
	ticket, _, err := f.svc.Ticket(id)
	require.NoError(t, err)
	assert.True(t, ticket.Scanned)

	_, err = f.svc.ScanPass(f.context, scanner, token)
	assert.ErrorIs(t, err, ledger.ErrAlreadyScanned)
}

func TestScanPassRejectsStaleAndForgedPasses(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)

	stale, err := f.passes.Seal(f.passes.Issue(id, 7, alice))
	require.NoError(t, err)
	require.NoError(t, f.svc.Transfer(f.context, alice, id, bob))

	_, err = f.svc.ScanPass(f.context, deployer, stale)
	assert.ErrorIs(t, err, service.ErrStalePass)
	assert.ErrorIs(t, err, ledger.ErrPrecondition)

	wrongEvent, err := f.passes.Seal(f.passes.Issue(id, 8, bob))
	require.NoError(t, err)
	_, err = f.svc.ScanPass(f.context, deployer, wrongEvent)
	assert.ErrorIs(t, err, service.ErrPassMismatch)

	other, err := qr.NewPassGenerator("other", 0, 0)
	require.NoError(t, err)
	forged, err := other.Seal(other.Issue(id, 7, bob))
	require.NoError(t, err)
	_, err = f.svc.ScanPass(f.context, deployer, forged)
	assert.ErrorIs(t, err, qr.ErrInvalidPass)

	ticket, _, err := f.svc.Ticket(id)
	require.NoError(t, err)
	assert.False(t, ticket.Scanned)
}

func TestPassOnlyForOwner(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Mint(f.context, deployer, alice, 7, "")
	require.NoError(t, err)

	png, err := f.svc.Pass(alice, id)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = f.svc.Pass(bob, id)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)

	_, err = f.svc.Pass(alice, 99)
	assert.ErrorIs(t, err, ledger.ErrTicketNotFound)
}
