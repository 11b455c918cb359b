package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Ticket is a live ticket token.
type Ticket struct {
	ID          uint64
	EventID     uint64
	Owner       common.Address
	MetadataURI string
	Scanned     bool
}

// Info is the read-only view returned by Info.
type Info struct {
	EventID uint64
	Scanned bool
	Listing *Listing
}

// Mint issues the next ticket id to `to` for eventID. Issuer only.
func (l *Ledger) Mint(caller, to common.Address, eventID uint64, metadataURI string) (uint64, error) {
	var id uint64
	err := l.call(func() error {
		if err := l.requireRole(caller, RoleIssuer); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAccount
		}
		if eventID == 0 {
			return ErrZeroEventID
		}
		if l.nextID == math.MaxUint64 {
			return ErrTicketIDOverflow
		}
		id = l.nextID
		l.setNextID(id + 1)
		setEntry(l, l.tickets, id, Ticket{ID: id, EventID: eventID, Owner: to, MetadataURI: metadataURI})
		l.emit(TicketMinted{TicketID: id, Owner: to, EventID: eventID, MetadataURI: metadataURI})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Transfer moves a ticket from its owner to `to`, clearing any listing.
func (l *Ledger) Transfer(caller common.Address, ticketID uint64, to common.Address) error {
	return l.call(func() error {
		t, ok := l.tickets[ticketID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		if t.Owner != caller {
			return fmt.Errorf("%w: %d", ErrNotOwner, ticketID)
		}
		if to == (common.Address{}) {
			return ErrZeroAccount
		}
		if to == t.Owner {
			return ErrSelfTransfer
		}
		l.moveTicket(t, to)
		return nil
	})
}

// moveTicket changes ownership. Any listing is dropped since it was made by
// the previous owner.
func (l *Ledger) moveTicket(t Ticket, to common.Address) {
	from := t.Owner
	deleteEntry(l, l.listings, t.ID)
	t.Owner = to
	setEntry(l, l.tickets, t.ID, t)
	l.emit(TicketTransferred{TicketID: t.ID, EventID: t.EventID, From: from, To: to})
}

// Scan marks a ticket used. Gatekeeper only; a ticket scans at most once.
func (l *Ledger) Scan(caller common.Address, ticketID uint64) error {
	return l.call(func() error {
		if err := l.requireRole(caller, RoleGatekeeper); err != nil {
			return err
		}
		t, ok := l.tickets[ticketID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		if t.Scanned {
			return fmt.Errorf("%w: %d", ErrAlreadyScanned, ticketID)
		}
		t.Scanned = true
		setEntry(l, l.tickets, ticketID, t)
		l.emit(TicketScanned{TicketID: ticketID, EventID: t.EventID, Scanner: caller})
		return nil
	})
}

// Burn destroys a ticket and its listing. Administrator only. The id is never
// reissued.
func (l *Ledger) Burn(caller common.Address, ticketID uint64) error {
	return l.call(func() error {
		if err := l.requireRole(caller, RoleAdministrator); err != nil {
			return err
		}
		t, ok := l.tickets[ticketID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		deleteEntry(l, l.listings, ticketID)
		deleteEntry(l, l.tickets, ticketID)
		l.emit(TicketBurned{TicketID: ticketID, EventID: t.EventID, Owner: t.Owner})
		return nil
	})
}

// Info returns the event binding, scan state and active listing of a ticket.
func (l *Ledger) Info(ticketID uint64) (Info, error) {
	t, ok := l.tickets[ticketID]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
	}
	info := Info{EventID: t.EventID, Scanned: t.Scanned}
	if listing, ok := l.listings[ticketID]; ok {
		listing.Price = listing.Price.Clone()
		info.Listing = &listing
	}
	return info, nil
}

// Ticket returns the full record of a live ticket.
func (l *Ledger) Ticket(ticketID uint64) (Ticket, error) {
	t, ok := l.tickets[ticketID]
	if !ok {
		return Ticket{}, fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
	}
	return t, nil
}

// OwnerOf returns the owner of a live ticket.
func (l *Ledger) OwnerOf(ticketID uint64) (common.Address, error) {
	t, err := l.Ticket(ticketID)
	if err != nil {
		return common.Address{}, err
	}
	return t.Owner, nil
}

// TicketsOf returns the live tickets held by owner in id order.
func (l *Ledger) TicketsOf(owner common.Address) []Ticket {
	var out []Ticket
	for _, t := range l.tickets {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Supply returns the number of live tickets.
func (l *Ledger) Supply() int { return len(l.tickets) }
