package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/models"

	"github.com/uptrace/bun"
)

// PrimaryCursor names the projection maintained by the ledger service itself.
const PrimaryCursor = "primary"

var (
	ErrNotFound    = errors.New("record not found")
	ErrSequenceGap = errors.New("ledger event arrived ahead of its predecessor")
)

// EventSource is a log projections can catch up from.
type EventSource interface {
	LoadEvents(ctx context.Context, afterSeq int64) ([]models.LedgerEvent, error)
}

type DB struct {
	Bun *bun.DB
}

// InitSchema creates every ledger table that does not exist yet.
func (d *DB) InitSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.LedgerEvent)(nil),
		(*models.ProjectionCursor)(nil),
		(*models.Ticket)(nil),
		(*models.Listing)(nil),
		(*models.Sale)(nil),
		(*models.Balance)(nil),
	}
	for _, model := range tables {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// AppendEvents writes a committed batch to the log, projects it into the read
// model and stores the changed balances, all in one transaction.
func (d *DB) AppendEvents(ctx context.Context, events []models.LedgerEvent, balances []models.Balance) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range events {
			if _, err := project(ctx, tx, PrimaryCursor, &events[i]); err != nil {
				return err
			}
		}
		for i := range balances {
			if err := upsertBalance(ctx, tx, &balances[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Project applies one event to the read model under the named cursor. Events
// at or below the cursor are skipped, so redelivery is harmless; an event past
// cursor+1 fails with ErrSequenceGap and leaves the cursor where it was. It
// reports whether the event was applied.
func (d *DB) Project(ctx context.Context, cursor string, ev models.LedgerEvent) (bool, error) {
	var applied bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		applied, err = project(ctx, tx, cursor, &ev)
		return err
	})
	return applied, err
}

// CatchUp projects every event source holds past the named cursor, in
// order, and returns how many were applied.
func (d *DB) CatchUp(ctx context.Context, cursor string, source EventSource) (int, error) {
	last, err := d.Cursor(ctx, cursor)
	if err != nil {
		return 0, err
	}
	events, err := source.LoadEvents(ctx, last)
	if err != nil {
		return 0, fmt.Errorf("load events after %d: %w", last, err)
	}
	applied := 0
	for _, ev := range events {
		ok, err := d.Project(ctx, cursor, ev)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// Cursor returns the last sequence applied under name, or 0.
func (d *DB) Cursor(ctx context.Context, name string) (int64, error) {
	return cursorSeq(ctx, d.Bun, name)
}

// LoadEvents returns the log in sequence order, starting after afterSeq.
func (d *DB) LoadEvents(ctx context.Context, afterSeq int64) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := d.Bun.NewSelect().
		Model(&events).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest sequence number in the log, or 0 when empty.
func (d *DB) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := d.Bun.NewSelect().
		Model((*models.LedgerEvent)(nil)).
		ColumnExpr("MAX(seq)").
		Scan(ctx, &seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func (d *DB) LoadBalances(ctx context.Context) ([]models.Balance, error) {
	var balances []models.Balance
	if err := d.Bun.NewSelect().Model(&balances).Scan(ctx); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	return balances, nil
}

// SaveBalances stores balances changed outside a ledger call.
func (d *DB) SaveBalances(ctx context.Context, balances []models.Balance) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range balances {
			if err := upsertBalance(ctx, tx, &balances[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetTicket(ctx context.Context, ticketID uint64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByOwner(ctx context.Context, owner string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner = ?", owner).
		Order("ticket_id ASC").
		Scan(ctx)
	return tickets, err
}

// GetListings returns active listings for a concert event in ticket order.
// Prices are decimal strings; callers compare them numerically.
func (d *DB) GetListings(ctx context.Context, eventID uint64) ([]models.Listing, error) {
	var listings []models.Listing
	err := d.Bun.NewSelect().
		Model(&listings).
		Where("event_id = ?", eventID).
		Order("ticket_id ASC").
		Scan(ctx)
	return listings, err
}

func (d *DB) GetSales(ctx context.Context, eventID uint64) ([]models.Sale, error) {
	var sales []models.Sale
	err := d.Bun.NewSelect().
		Model(&sales).
		Where("event_id = ?", eventID).
		Order("seq ASC").
		Scan(ctx)
	return sales, err
}

func (d *DB) GetScannedCount(ctx context.Context, eventID uint64) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("scanned = ?", true).
		Count(ctx)
}

// CountEvents counts log entries of one type for a concert event.
func (d *DB) CountEvents(ctx context.Context, eventType string, eventID uint64) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.LedgerEvent)(nil)).
		Where("type = ?", eventType).
		Where("event_id = ?", eventID).
		Count(ctx)
}

func (d *DB) GetBalance(ctx context.Context, account string) (*models.Balance, error) {
	var balance models.Balance
	err := d.Bun.NewSelect().
		Model(&balance).
		Where("account = ?", account).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func cursorSeq(ctx context.Context, db bun.IDB, name string) (int64, error) {
	var cursor models.ProjectionCursor
	err := db.NewSelect().Model(&cursor).Where("name = ?", name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor %s: %w", name, err)
	}
	return cursor.Seq, nil
}

func project(ctx context.Context, tx bun.Tx, cursor string, ev *models.LedgerEvent) (bool, error) {
	last, err := cursorSeq(ctx, tx, cursor)
	if err != nil {
		return false, err
	}
	if ev.Seq <= last {
		return false, nil
	}
	if ev.Seq != last+1 {
		return false, fmt.Errorf("%w: cursor %s at %d, got %d", ErrSequenceGap, cursor, last, ev.Seq)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err = tx.NewInsert().Model(ev).On("CONFLICT (seq) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	if err := applyReadModel(ctx, tx, ev); err != nil {
		return false, fmt.Errorf("project event %d (%s): %w", ev.Seq, ev.Type, err)
	}
	_, err = tx.NewInsert().
		Model(&models.ProjectionCursor{Name: cursor, Seq: ev.Seq, UpdatedAt: ev.CreatedAt}).
		On("CONFLICT (name) DO UPDATE").
		Set("seq = EXCLUDED.seq").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("advance cursor %s: %w", cursor, err)
	}
	return true, nil
}

func applyReadModel(ctx context.Context, tx bun.Tx, row *models.LedgerEvent) error {
	ev, err := ledger.Decode(ledger.Record{Type: row.Type, Attributes: row.Attributes})
	if err != nil {
		return err
	}
	at := row.CreatedAt

	switch e := ev.(type) {
	case ledger.TicketMinted:
		_, err = tx.NewInsert().Model(&models.Ticket{
			TicketID:    e.TicketID,
			EventID:     e.EventID,
			Owner:       e.Owner.Hex(),
			MetadataURI: e.MetadataURI,
			MintedAt:    at,
			UpdatedAt:   at,
		}).On("CONFLICT (ticket_id) DO NOTHING").Exec(ctx)
	case ledger.TicketTransferred:
		_, err = tx.NewUpdate().Model((*models.Ticket)(nil)).
			Set("owner = ?", e.To.Hex()).
			Set("updated_at = ?", at).
			Where("ticket_id = ?", e.TicketID).
			Exec(ctx)
		if err == nil {
			err = deleteListing(ctx, tx, e.TicketID)
		}
	case ledger.TicketScanned:
		_, err = tx.NewUpdate().Model((*models.Ticket)(nil)).
			Set("scanned = ?", true).
			Set("scanned_by = ?", e.Scanner.Hex()).
			Set("scanned_at = ?", at).
			Set("updated_at = ?", at).
			Where("ticket_id = ?", e.TicketID).
			Exec(ctx)
	case ledger.TicketBurned:
		_, err = tx.NewDelete().Model((*models.Ticket)(nil)).Where("ticket_id = ?", e.TicketID).Exec(ctx)
		if err == nil {
			err = deleteListing(ctx, tx, e.TicketID)
		}
	case ledger.TicketListed:
		_, err = tx.NewInsert().Model(&models.Listing{
			TicketID: e.TicketID,
			EventID:  e.EventID,
			Seller:   e.Seller.Hex(),
			Price:    e.Price.Dec(),
			ListedAt: at,
		}).
			On("CONFLICT (ticket_id) DO UPDATE").
			Set("seller = EXCLUDED.seller").
			Set("price = EXCLUDED.price").
			Set("listed_at = EXCLUDED.listed_at").
			Exec(ctx)
	case ledger.ListingCancelled:
		err = deleteListing(ctx, tx, e.TicketID)
	case ledger.TicketSold:
		_, err = tx.NewInsert().Model(&models.Sale{
			Seq:              row.Seq,
			TicketID:         e.TicketID,
			EventID:          e.EventID,
			Seller:           e.Seller.Hex(),
			Buyer:            e.Buyer.Hex(),
			Price:            e.Price.Dec(),
			Royalty:          e.Royalty.Dec(),
			RoyaltyRecipient: e.RoyaltyRecipient.Hex(),
			SoldAt:           at,
		}).On("CONFLICT (seq) DO NOTHING").Exec(ctx)
		if err == nil {
			err = deleteListing(ctx, tx, e.TicketID)
		}
	}
	// Role and royalty changes live only in the log.
	return err
}

func deleteListing(ctx context.Context, tx bun.Tx, ticketID uint64) error {
	_, err := tx.NewDelete().Model((*models.Listing)(nil)).Where("ticket_id = ?", ticketID).Exec(ctx)
	return err
}

func upsertBalance(ctx context.Context, tx bun.Tx, balance *models.Balance) error {
	if balance.UpdatedAt.IsZero() {
		balance.UpdatedAt = time.Now().UTC()
	}
	_, err := tx.NewInsert().Model(balance).
		On("CONFLICT (account) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store balance %s: %w", balance.Account, err)
	}
	return nil
}

// EventRow converts a committed ledger event into its log row.
func EventRow(seq int64, ev ledger.Event, at time.Time) models.LedgerEvent {
	rec := ev.Record()
	return models.LedgerEvent{
		Seq:        seq,
		Type:       rec.Type,
		TicketID:   ledger.TicketIDOf(ev),
		EventID:    ledger.EventIDOf(ev),
		Attributes: rec.Attributes,
		CreatedAt:  at,
	}
}

// DecodeRows turns log rows back into ledger events.
func DecodeRows(rows []models.LedgerEvent) ([]ledger.Event, error) {
	out := make([]ledger.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := ledger.Decode(ledger.Record{Type: row.Type, Attributes: row.Attributes})
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.Seq, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
