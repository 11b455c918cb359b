package bank_test

import (
	"errors"
	"testing"

	"ticket-ledger/internal/bank"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestMintAndTransfer(t *testing.T) {
	b := bank.New()
	require.NoError(t, b.Mint(alice, uint256.NewInt(100)))

	err := b.Transfer(alice, bob, uint256.NewInt(40))
	assert.NoError(t, err)
	assert.Equal(t, uint64(60), b.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(40), b.BalanceOf(bob).Uint64())
}

func TestTransferInsufficientBalance(t *testing.T) {
	b := bank.New()
	require.NoError(t, b.Mint(alice, uint256.NewInt(10)))

	err := b.Transfer(alice, bob, uint256.NewInt(11))
	assert.ErrorIs(t, err, bank.ErrInsufficientBalance)
	assert.Equal(t, uint64(10), b.BalanceOf(alice).Uint64())
	assert.True(t, b.BalanceOf(bob).IsZero())
}

func TestMintRejectsZero(t *testing.T) {
	b := bank.New()
	assert.ErrorIs(t, b.Mint(common.Address{}, uint256.NewInt(1)), bank.ErrZeroAccount)
	assert.ErrorIs(t, b.Mint(alice, new(uint256.Int)), bank.ErrInvalidAmount)
}

func TestMintOverflow(t *testing.T) {
	b := bank.New()
	top := new(uint256.Int).SetAllOne()
	require.NoError(t, b.Mint(alice, top))
	assert.ErrorIs(t, b.Mint(alice, uint256.NewInt(1)), bank.ErrBalanceOverflow)
}

func TestReceiverRejectionRevertsTransfer(t *testing.T) {
	b := bank.New()
	require.NoError(t, b.Mint(alice, uint256.NewInt(100)))

	called := 0
	b.SetReceiver(bob, bank.ReceiverFunc(func(from common.Address, amount *uint256.Int) error {
		called++
		assert.Equal(t, alice, from)
		assert.Equal(t, uint64(30), amount.Uint64())
		return errors.New("no thanks")
	}))

	err := b.Transfer(alice, bob, uint256.NewInt(30))
	assert.ErrorIs(t, err, bank.ErrRejected)
	assert.Equal(t, 1, called)
	assert.Equal(t, uint64(100), b.BalanceOf(alice).Uint64())
	assert.True(t, b.BalanceOf(bob).IsZero())
}

func TestReceiverSeesCreditedBalance(t *testing.T) {
	b := bank.New()
	require.NoError(t, b.Mint(alice, uint256.NewInt(100)))

	var seen uint64
	b.SetReceiver(bob, bank.ReceiverFunc(func(common.Address, *uint256.Int) error {
		seen = b.BalanceOf(bob).Uint64()
		return nil
	}))

	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(25)))
	assert.Equal(t, uint64(25), seen)
}

func TestSnapshotRevert(t *testing.T) {
	b := bank.New()
	require.NoError(t, b.Mint(alice, uint256.NewInt(100)))

	outer := b.Snapshot()
	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(10)))
	inner := b.Snapshot()
	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(20)))

	b.RevertToSnapshot(inner)
	assert.Equal(t, uint64(90), b.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(10), b.BalanceOf(bob).Uint64())

	b.RevertToSnapshot(outer)
	assert.Equal(t, uint64(100), b.BalanceOf(alice).Uint64())
	assert.True(t, b.BalanceOf(bob).IsZero())

	assert.Panics(t, func() { b.RevertToSnapshot(inner) })
}

func TestDirtyAndFinalize(t *testing.T) {
	b := bank.New()
	b.Load(alice, uint256.NewInt(50))
	assert.Empty(t, b.Dirty())

	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(50)))
	dirty := b.Dirty()
	require.Len(t, dirty, 2)
	assert.True(t, dirty[alice].IsZero())
	assert.Equal(t, uint64(50), dirty[bob].Uint64())

	b.Finalize()
	assert.Empty(t, b.Dirty())
	assert.Equal(t, uint64(50), b.BalanceOf(bob).Uint64())
}

func TestZeroAmountIsNoop(t *testing.T) {
	b := bank.New()
	b.SetReceiver(bob, bank.ReceiverFunc(func(common.Address, *uint256.Int) error {
		t.Fatal("receiver must not run for empty transfers")
		return nil
	}))
	assert.NoError(t, b.Transfer(alice, bob, new(uint256.Int)))
}
