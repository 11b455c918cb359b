package ledger

import "fmt"

// Restore rebuilds state from a committed event log. Events are applied as
// facts: no authorization runs and nothing is emitted. The ledger must be
// freshly constructed with the same Config that produced the log.
func (l *Ledger) Restore(events []Event) error {
	if l.tx != nil {
		return fmt.Errorf("%w: restore during a call", ErrCorruptLog)
	}
	for i, ev := range events {
		if err := l.apply(ev); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.EventType(), err)
		}
	}
	return nil
}

func (l *Ledger) apply(ev Event) error {
	switch e := ev.(type) {
	case TicketMinted:
		if e.TicketID != l.nextID {
			return fmt.Errorf("%w: minted id %d, expected %d", ErrCorruptLog, e.TicketID, l.nextID)
		}
		l.tickets[e.TicketID] = Ticket{ID: e.TicketID, EventID: e.EventID, Owner: e.Owner, MetadataURI: e.MetadataURI}
		l.nextID = e.TicketID + 1
	case TicketTransferred:
		t, ok := l.tickets[e.TicketID]
		if !ok || t.Owner != e.From {
			return fmt.Errorf("%w: transfer of %d", ErrCorruptLog, e.TicketID)
		}
		t.Owner = e.To
		l.tickets[e.TicketID] = t
		delete(l.listings, e.TicketID)
	case TicketScanned:
		t, ok := l.tickets[e.TicketID]
		if !ok || t.Scanned {
			return fmt.Errorf("%w: scan of %d", ErrCorruptLog, e.TicketID)
		}
		t.Scanned = true
		l.tickets[e.TicketID] = t
	case TicketBurned:
		if _, ok := l.tickets[e.TicketID]; !ok {
			return fmt.Errorf("%w: burn of %d", ErrCorruptLog, e.TicketID)
		}
		delete(l.tickets, e.TicketID)
		delete(l.listings, e.TicketID)
	case TicketListed:
		t, ok := l.tickets[e.TicketID]
		if !ok || t.Owner != e.Seller {
			return fmt.Errorf("%w: listing of %d", ErrCorruptLog, e.TicketID)
		}
		l.listings[e.TicketID] = Listing{TicketID: e.TicketID, Seller: e.Seller, Price: e.Price.Clone()}
	case ListingCancelled:
		delete(l.listings, e.TicketID)
	case TicketSold:
		// Ownership moved with the preceding TicketTransferred.
		delete(l.listings, e.TicketID)
	case RoleGranted:
		l.roles[e.Account] = l.roles[e.Account].With(e.Role)
	case RoleRevoked:
		next := l.roles[e.Account].Without(e.Role)
		if next == 0 {
			delete(l.roles, e.Account)
		} else {
			l.roles[e.Account] = next
		}
	case RoyaltyUpdated:
		l.royalty = RoyaltyConfig{Recipient: e.Recipient, Rate: e.Rate}
	default:
		return fmt.Errorf("%w: unknown event %T", ErrCorruptLog, ev)
	}
	return nil
}
