// Package ledger is the ticket-ownership state machine: role-gated minting,
// single-use scanning and a resale market with royalty settlement.
//
// A Ledger is a singly-owned state object. It is not safe for concurrent use;
// the host serializes calls. Every entry point is atomic: on failure all of its
// effects, including those of nested calls made from value-transfer callbacks,
// are undone and no events are released.
package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// BasisPoints is the royalty rate denominator.
	BasisPoints = 10_000
	// DefaultRoyaltyCeiling caps the royalty rate at 20%.
	DefaultRoyaltyCeiling = 2_000
)

// Vault is the native value-transfer primitive provided by the host. Transfers
// may call back into the ledger synchronously. Snapshot and RevertToSnapshot
// let a failed call discard value movements it already made.
type Vault interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// CommitHook runs when an outermost call is about to commit. Returning an
// error rolls the call back.
type CommitHook func(events []Event) error

// Config holds construction parameters.
type Config struct {
	// Deployer receives every role.
	Deployer common.Address
	// Escrow is the ledger's own account in the vault; buyer payments land
	// here before being split.
	Escrow common.Address

	RoyaltyCeiling   uint16
	RoyaltyRecipient common.Address
	RoyaltyRate      uint16
}

type Ledger struct {
	nextID   uint64
	tickets  map[uint64]Ticket
	listings map[uint64]Listing
	roles    map[common.Address]RoleSet
	royalty  RoyaltyConfig
	ceiling  uint16
	escrow   common.Address

	vault      Vault
	emitter    Emitter
	commitHook CommitHook

	tx      *journal
	entered map[string]bool
}

// New creates a ledger with the deployer holding all roles.
func New(cfg Config) (*Ledger, error) {
	if cfg.Deployer == (common.Address{}) {
		return nil, fmt.Errorf("%w: deployer", ErrZeroAccount)
	}
	if cfg.Escrow == (common.Address{}) {
		return nil, fmt.Errorf("%w: escrow", ErrZeroAccount)
	}
	ceiling := cfg.RoyaltyCeiling
	if ceiling == 0 {
		ceiling = DefaultRoyaltyCeiling
	}
	if ceiling > BasisPoints {
		return nil, fmt.Errorf("%w: ceiling %d exceeds %d", ErrRateAboveCeiling, ceiling, BasisPoints)
	}
	if cfg.RoyaltyRate > ceiling {
		return nil, fmt.Errorf("%w: %d > %d", ErrRateAboveCeiling, cfg.RoyaltyRate, ceiling)
	}
	recipient := cfg.RoyaltyRecipient
	if recipient == (common.Address{}) {
		recipient = cfg.Deployer
	}
	l := &Ledger{
		nextID:   1,
		tickets:  make(map[uint64]Ticket),
		listings: make(map[uint64]Listing),
		roles:    make(map[common.Address]RoleSet),
		royalty:  RoyaltyConfig{Recipient: recipient, Rate: cfg.RoyaltyRate},
		ceiling:  ceiling,
		escrow:   cfg.Escrow,
		emitter:  NoopEmitter{},
		entered:  make(map[string]bool),
	}
	l.roles[cfg.Deployer] = RoleSet(RoleIssuer | RoleGatekeeper | RoleAdministrator)
	return l, nil
}

// SetVault configures the value-transfer primitive used by Buy.
func (l *Ledger) SetVault(v Vault) { l.vault = v }

// SetEmitter configures where committed events go. Passing nil discards them.
func (l *Ledger) SetEmitter(e Emitter) {
	if e == nil {
		l.emitter = NoopEmitter{}
		return
	}
	l.emitter = e
}

// SetCommitHook installs a hook that can veto the commit of a call.
func (l *Ledger) SetCommitHook(h CommitHook) { l.commitHook = h }

// Escrow returns the ledger's own vault account.
func (l *Ledger) Escrow() common.Address { return l.escrow }

// RoyaltyCeiling returns the maximum accepted royalty rate in basis points.
func (l *Ledger) RoyaltyCeiling() uint16 { return l.ceiling }

// NextTicketID returns the id the next mint will allocate.
func (l *Ledger) NextTicketID() uint64 { return l.nextID }

// call runs fn as one atomic unit. Nested calls fold their journal into the
// enclosing call on success so an outer failure undoes them too.
func (l *Ledger) call(fn func() error) (err error) {
	j := &journal{parent: l.tx}
	snap := -1
	if l.vault != nil {
		snap = l.vault.Snapshot()
	}
	l.tx = j

	rollback := func() {
		j.revert()
		if snap >= 0 {
			l.vault.RevertToSnapshot(snap)
		}
	}
	defer func() {
		l.tx = j.parent
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		rollback()
		return err
	}
	if j.parent != nil {
		j.parent.absorb(j)
		return nil
	}
	if l.commitHook != nil {
		if hookErr := l.commitHook(j.events); hookErr != nil {
			rollback()
			return fmt.Errorf("%w: %w", ErrCommitRejected, hookErr)
		}
	}
	for _, ev := range j.events {
		l.emitter.Emit(ev)
	}
	return nil
}

// nonReentrant rejects a nested entry into op while op is executing.
func (l *Ledger) nonReentrant(op string, fn func() error) error {
	if l.entered[op] {
		return fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}
	l.entered[op] = true
	defer delete(l.entered, op)
	return fn()
}

func (l *Ledger) emit(ev Event) {
	if l.tx == nil {
		return
	}
	l.tx.events = append(l.tx.events, ev)
}
