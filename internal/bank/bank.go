// Package bank holds native value balances and moves them between accounts.
// It is the value vault behind the ledger's resale settlement.
//
// A Bank is not safe for concurrent use; the ledger host serializes access.
package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrRejected            = errors.New("bank: transfer rejected by receiver")
	ErrZeroAccount         = errors.New("bank: zero account")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
)

// Receiver runs synchronously after value lands in an account. Returning an
// error rejects the incoming transfer. A receiver may call back into the
// ledger.
type Receiver interface {
	Receive(from common.Address, amount *uint256.Int) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(from common.Address, amount *uint256.Int) error

func (f ReceiverFunc) Receive(from common.Address, amount *uint256.Int) error {
	return f(from, amount)
}

type change struct {
	account common.Address
	prev    *uint256.Int
}

type Bank struct {
	balances  map[common.Address]*uint256.Int
	receivers map[common.Address]Receiver

	journal   []change
	revisions []int
}

func New() *Bank {
	return &Bank{
		balances:  make(map[common.Address]*uint256.Int),
		receivers: make(map[common.Address]Receiver),
	}
}

// BalanceOf returns a copy of the account balance.
func (b *Bank) BalanceOf(account common.Address) *uint256.Int {
	if bal, ok := b.balances[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Load seeds a balance without journaling it. Used when restoring persisted
// state.
func (b *Bank) Load(account common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		delete(b.balances, account)
		return
	}
	b.balances[account] = amount.Clone()
}

// SetReceiver registers r for incoming transfers to account. A nil r removes it.
func (b *Bank) SetReceiver(account common.Address, r Receiver) {
	if r == nil {
		delete(b.receivers, account)
		return
	}
	b.receivers[account] = r
}

// Mint credits new value to account.
func (b *Bank) Mint(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return ErrZeroAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	next, overflow := new(uint256.Int).AddOverflow(b.BalanceOf(account), amount)
	if overflow {
		return ErrBalanceOverflow
	}
	b.set(account, next)
	return nil
}

// Transfer moves amount from one account to another, then notifies the
// receiver of `to`. A rejected transfer leaves both balances untouched.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAccount
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	src := b.BalanceOf(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	var dst *uint256.Int
	if from != to {
		var overflow bool
		dst, overflow = new(uint256.Int).AddOverflow(b.BalanceOf(to), amount)
		if overflow {
			return ErrBalanceOverflow
		}
	}
	snap := b.Snapshot()
	if dst != nil {
		b.set(from, src.Sub(src, amount))
		b.set(to, dst)
	}
	if r, ok := b.receivers[to]; ok {
		if err := r.Receive(from, amount.Clone()); err != nil {
			b.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %s: %w", ErrRejected, to.Hex(), err)
		}
	}
	return nil
}

// Snapshot returns a revision id for RevertToSnapshot.
func (b *Bank) Snapshot() int {
	b.revisions = append(b.revisions, len(b.journal))
	return len(b.revisions) - 1
}

// RevertToSnapshot undoes every balance change made since the snapshot id was
// taken. Snapshots taken after id are invalidated.
func (b *Bank) RevertToSnapshot(id int) {
	if id < 0 || id >= len(b.revisions) {
		panic(fmt.Sprintf("bank: revision id %d cannot be reverted", id))
	}
	mark := b.revisions[id]
	for i := len(b.journal) - 1; i >= mark; i-- {
		c := b.journal[i]
		if c.prev == nil {
			delete(b.balances, c.account)
		} else {
			b.balances[c.account] = c.prev
		}
	}
	b.journal = b.journal[:mark]
	b.revisions = b.revisions[:id]
}

// Dirty returns the current balance of every account changed since the last
// Finalize.
func (b *Bank) Dirty() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int)
	for _, c := range b.journal {
		out[c.account] = b.BalanceOf(c.account)
	}
	return out
}

// Finalize makes all changes permanent and drops outstanding snapshots.
func (b *Bank) Finalize() {
	b.journal = b.journal[:0]
	b.revisions = b.revisions[:0]
}

func (b *Bank) set(account common.Address, amount *uint256.Int) {
	prev := b.balances[account]
	b.journal = append(b.journal, change{account: account, prev: prev})
	if amount.IsZero() {
		delete(b.balances, account)
		return
	}
	b.balances[account] = amount
}
