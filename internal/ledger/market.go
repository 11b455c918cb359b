package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const opBuy = "buy"

// Listing is an owner's open offer to sell a ticket at a fixed price.
type Listing struct {
	TicketID uint64
	Seller   common.Address
	Price    *uint256.Int
}

// Sale describes a settled purchase.
type Sale struct {
	TicketID uint64
	Seller   common.Address
	Buyer    common.Address
	Price    *uint256.Int
	Royalty  *uint256.Int
	Payout   *uint256.Int
	Refund   *uint256.Int
}

// ListingOf returns the active listing for a ticket.
func (l *Ledger) ListingOf(ticketID uint64) (Listing, bool) {
	listing, ok := l.listings[ticketID]
	if ok {
		listing.Price = listing.Price.Clone()
	}
	return listing, ok
}

// Listings returns the number of active listings.
func (l *Ledger) Listings() int { return len(l.listings) }

// List offers a ticket for sale, replacing any earlier listing of it.
func (l *Ledger) List(caller common.Address, ticketID uint64, price *uint256.Int) error {
	return l.call(func() error {
		t, ok := l.tickets[ticketID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		if t.Owner != caller {
			return fmt.Errorf("%w: %d", ErrNotOwner, ticketID)
		}
		if price == nil || price.IsZero() {
			return ErrInvalidPrice
		}
		listing := Listing{TicketID: ticketID, Seller: caller, Price: price.Clone()}
		setEntry(l, l.listings, ticketID, listing)
		l.emit(TicketListed{TicketID: ticketID, EventID: t.EventID, Seller: caller, Price: price.Clone()})
		return nil
	})
}

// Cancel withdraws a listing. Only the seller or an administrator may cancel.
func (l *Ledger) Cancel(caller common.Address, ticketID uint64) error {
	return l.call(func() error {
		listing, ok := l.listings[ticketID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoListing, ticketID)
		}
		if listing.Seller != caller && !l.HasRole(caller, RoleAdministrator) {
			return fmt.Errorf("%w: %d", ErrNotSeller, ticketID)
		}
		deleteEntry(l, l.listings, ticketID)
		l.emit(ListingCancelled{TicketID: ticketID, EventID: l.tickets[ticketID].EventID, CancelledBy: caller})
		return nil
	})
}

// Buy settles the listing of ticketID for caller, who pays payment into the
// ledger escrow. The listing is consumed and ownership moved before any value
// leaves escrow; royalty, payout and any refund are then paid in that order.
// A failure at any step rolls back the whole call.
func (l *Ledger) Buy(caller common.Address, ticketID uint64, payment *uint256.Int) (Sale, error) {
	var sale Sale
	err := l.nonReentrant(opBuy, func() error {
		return l.call(func() error {
			if caller == (common.Address{}) {
				return ErrZeroAccount
			}
			listing, ok := l.listings[ticketID]
			if !ok {
				return fmt.Errorf("%w: %d", ErrNoListing, ticketID)
			}
			t, ok := l.tickets[ticketID]
			if !ok || t.Owner != listing.Seller {
				return fmt.Errorf("%w: %d", ErrNoListing, ticketID)
			}
			if caller == listing.Seller {
				return ErrSelfPurchase
			}
			if payment == nil || payment.Lt(listing.Price) {
				return fmt.Errorf("%w: %d", ErrInsufficientPayment, ticketID)
			}
			if l.vault == nil {
				return ErrVaultNotConfigured
			}

			price := listing.Price.Clone()
			recipient := l.royalty.Recipient
			royalty, payout := SplitRoyalty(price, l.royalty.Rate)
			refund := new(uint256.Int).Sub(payment, price)

			deleteEntry(l, l.listings, ticketID)
			l.moveTicket(t, caller)

			if err := l.vault.Transfer(caller, l.escrow, payment); err != nil {
				return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
			}
			if !royalty.IsZero() {
				if err := l.vault.Transfer(l.escrow, recipient, royalty); err != nil {
					return fmt.Errorf("%w: %w", ErrRoyaltyTransfer, err)
				}
			}
			if !payout.IsZero() {
				if err := l.vault.Transfer(l.escrow, listing.Seller, payout); err != nil {
					return fmt.Errorf("%w: %w", ErrPayoutTransfer, err)
				}
			}
			if !refund.IsZero() {
				if err := l.vault.Transfer(l.escrow, caller, refund); err != nil {
					return fmt.Errorf("%w: %w", ErrRefundTransfer, err)
				}
			}

			sale = Sale{
				TicketID: ticketID,
				Seller:   listing.Seller,
				Buyer:    caller,
				Price:    price,
				Royalty:  royalty,
				Payout:   payout,
				Refund:   refund,
			}
			l.emit(TicketSold{
				TicketID:         ticketID,
				EventID:          t.EventID,
				Seller:           listing.Seller,
				Buyer:            caller,
				Price:            price.Clone(),
				Royalty:          royalty.Clone(),
				RoyaltyRecipient: recipient,
			})
			return nil
		})
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}
