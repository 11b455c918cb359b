package ledger

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintRefusesToWrapCounter(t *testing.T) {
	admin := common.HexToAddress("0x01")
	l, err := New(Config{Deployer: admin, Escrow: common.HexToAddress("0x02")})
	require.NoError(t, err)

	l.nextID = math.MaxUint64 - 1
	id, err := l.Mint(admin, admin, 1, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), id)

	_, err = l.Mint(admin, admin, 1, "")
	assert.ErrorIs(t, err, ErrTicketIDOverflow)
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, uint64(math.MaxUint64), l.NextTicketID())
	assert.Equal(t, 1, l.Supply())
}

func TestFailedCallLeavesNoJournal(t *testing.T) {
	admin := common.HexToAddress("0x01")
	l, err := New(Config{Deployer: admin, Escrow: common.HexToAddress("0x02")})
	require.NoError(t, err)

	_, err = l.Mint(admin, admin, 0, "")
	require.Error(t, err)
	assert.Nil(t, l.tx)
	assert.Empty(t, l.entered)
}
