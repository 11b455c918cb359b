package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RoyaltyConfig is the cut taken from every resale.
type RoyaltyConfig struct {
	Recipient common.Address
	// Rate is in basis points of the sale price.
	Rate uint16
}

// Royalty returns the current configuration.
func (l *Ledger) Royalty() RoyaltyConfig { return l.royalty }

// SetRoyalty replaces the royalty recipient and rate for subsequent sales.
// Administrator only.
func (l *Ledger) SetRoyalty(caller, recipient common.Address, rate uint16) error {
	return l.call(func() error {
		if err := l.requireRole(caller, RoleAdministrator); err != nil {
			return err
		}
		if recipient == (common.Address{}) {
			return ErrZeroAccount
		}
		if rate > l.ceiling {
			return fmt.Errorf("%w: %d > %d", ErrRateAboveCeiling, rate, l.ceiling)
		}
		l.setRoyalty(RoyaltyConfig{Recipient: recipient, Rate: rate})
		l.emit(RoyaltyUpdated{Recipient: recipient, Rate: rate})
		return nil
	})
}

// SplitRoyalty divides price into floor(price*rate/10000) and the remainder.
// The two parts always sum to price.
func SplitRoyalty(price *uint256.Int, rate uint16) (royalty, payout *uint256.Int) {
	if price == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	if rate > BasisPoints {
		rate = BasisPoints
	}
	// price*rate/10000 <= price, so the quotient cannot overflow.
	royalty, _ = new(uint256.Int).MulDivOverflow(price, uint256.NewInt(uint64(rate)), uint256.NewInt(BasisPoints))
	payout = new(uint256.Int).Sub(price, royalty)
	return royalty, payout
}
