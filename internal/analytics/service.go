package analytics

import (
	"context"
	"fmt"
	"sort"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/models"

	"github.com/holiman/uint256"
)

// Reader is the slice of the read model analytics needs.
type Reader interface {
	CountEvents(ctx context.Context, eventType string, eventID uint64) (int, error)
	GetScannedCount(ctx context.Context, eventID uint64) (int, error)
	GetListings(ctx context.Context, eventID uint64) ([]models.Listing, error)
	GetSales(ctx context.Context, eventID uint64) ([]models.Sale, error)
}

// Service aggregates resale and entry activity per concert event.
type Service struct {
	db Reader
}

func NewService(db Reader) *Service {
	return &Service{db: db}
}

// DailySalesMetrics contains resale totals for a single UTC day.
type DailySalesMetrics struct {
	Date      string `json:"date"`
	Sales     int    `json:"sales"`
	Volume    string `json:"volume"`
	Royalties string `json:"royalties"`
}

// BatchEventStats sums the stats of several events.
type BatchEventStats struct {
	EventIDs  []uint64            `json:"event_ids"`
	Minted    int                 `json:"minted"`
	Scanned   int                 `json:"scanned"`
	Sales     int                 `json:"sales"`
	Volume    string              `json:"volume"`
	Royalties string              `json:"royalties"`
	Events    []models.EventStats `json:"events"`
}

// GetEventStats returns minted, scanned, listing and resale totals for eventID.
// Amounts are summed exactly and returned as decimal strings.
func (s *Service) GetEventStats(ctx context.Context, eventID uint64) (*models.EventStats, error) {
	minted, err := s.db.CountEvents(ctx, ledger.TypeTicketMinted, eventID)
	if err != nil {
		return nil, fmt.Errorf("count mints: %w", err)
	}
	scanned, err := s.db.GetScannedCount(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count scans: %w", err)
	}
	listings, err := s.db.GetListings(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	sales, err := s.db.GetSales(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}

	stats := &models.EventStats{
		EventID:      eventID,
		Minted:       minted,
		Scanned:      scanned,
		ActiveListed: len(listings),
		Sales:        len(sales),
	}

	var floor *uint256.Int
	for _, listing := range listings {
		price, err := uint256.FromDecimal(listing.Price)
		if err != nil {
			return nil, fmt.Errorf("listing %d price: %w", listing.TicketID, err)
		}
		if floor == nil || price.Lt(floor) {
			floor = price
		}
	}
	if floor != nil {
		stats.FloorPrice = floor.Dec()
	}

	volume, royalties, err := sumSales(sales)
	if err != nil {
		return nil, err
	}
	stats.Volume, stats.Royalties = volume.Dec(), royalties.Dec()
	return stats, nil
}

// GetDailySales groups the resales of eventID by the UTC day they settled.
func (s *Service) GetDailySales(ctx context.Context, eventID uint64) ([]DailySalesMetrics, error) {
	sales, err := s.db.GetSales(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}
	byDay := make(map[string][]models.Sale)
	for _, sale := range sales {
		day := sale.SoldAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], sale)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]DailySalesMetrics, 0, len(days))
	for _, day := range days {
		volume, royalties, err := sumSales(byDay[day])
		if err != nil {
			return nil, err
		}
		out = append(out, DailySalesMetrics{
			Date:      day,
			Sales:     len(byDay[day]),
			Volume:    volume.Dec(),
			Royalties: royalties.Dec(),
		})
	}
	return out, nil
}

// GetBatchEventStats returns per-event stats plus their totals.
func (s *Service) GetBatchEventStats(ctx context.Context, eventIDs []uint64) (*BatchEventStats, error) {
	batch := &BatchEventStats{EventIDs: eventIDs, Events: []models.EventStats{}}
	volume, royalties := new(uint256.Int), new(uint256.Int)
	for _, id := range eventIDs {
		stats, err := s.GetEventStats(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", id, err)
		}
		batch.Events = append(batch.Events, *stats)
		batch.Minted += stats.Minted
		batch.Scanned += stats.Scanned
		batch.Sales += stats.Sales
		// Per-event totals were parsed from valid decimals above.
		v, _ := uint256.FromDecimal(stats.Volume)
		r, _ := uint256.FromDecimal(stats.Royalties)
		volume.Add(volume, v)
		royalties.Add(royalties, r)
	}
	batch.Volume, batch.Royalties = volume.Dec(), royalties.Dec()
	return batch, nil
}

func sumSales(sales []models.Sale) (volume, royalties *uint256.Int, err error) {
	volume, royalties = new(uint256.Int), new(uint256.Int)
	for _, sale := range sales {
		price, err := uint256.FromDecimal(sale.Price)
		if err != nil {
			return nil, nil, fmt.Errorf("sale %d price: %w", sale.Seq, err)
		}
		royalty, err := uint256.FromDecimal(sale.Royalty)
		if err != nil {
			return nil, nil, fmt.Errorf("sale %d royalty: %w", sale.Seq, err)
		}
		volume.Add(volume, price)
		royalties.Add(royalties, royalty)
	}
	return volume, royalties, nil
}
