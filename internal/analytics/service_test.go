package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReader struct {
	mock.Mock
}

func (m *MockReader) CountEvents(ctx context.Context, eventType string, eventID uint64) (int, error) {
	args := m.Called(ctx, eventType, eventID)
	return args.Int(0), args.Error(1)
}

func (m *MockReader) GetScannedCount(ctx context.Context, eventID uint64) (int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Error(1)
}

func (m *MockReader) GetListings(ctx context.Context, eventID uint64) ([]models.Listing, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockReader) GetSales(ctx context.Context, eventID uint64) ([]models.Sale, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]models.Sale), args.Error(1)
}

var day1 = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

func sale(seq int64, price, royalty string, at time.Time) models.Sale {
	return models.Sale{Seq: seq, EventID: 7, Price: price, Royalty: royalty, SoldAt: at}
}

func stubEvent(m *MockReader, eventID uint64, minted, scanned int, listings []models.Listing, sales []models.Sale) {
	m.On("CountEvents", mock.Anything, ledger.TypeTicketMinted, eventID).Return(minted, nil)
	m.On("GetScannedCount", mock.Anything, eventID).Return(scanned, nil)
	m.On("GetListings", mock.Anything, eventID).Return(listings, nil)
	m.On("GetSales", mock.Anything, eventID).Return(sales, nil)
}

func TestGetEventStats(t *testing.T) {
	reader := &MockReader{}
	stubEvent(reader, 7, 10, 4,
		[]models.Listing{{TicketID: 3, Price: "250"}, {TicketID: 5, Price: "120"}, {TicketID: 9, Price: "900"}},
		[]models.Sale{sale(1, "100", "5", day1), sale(2, "300", "15", day1)},
	)

	stats, err := NewService(reader).GetEventStats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), stats.EventID)
	assert.Equal(t, 10, stats.Minted)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 3, stats.ActiveListed)
	assert.Equal(t, 2, stats.Sales)
	assert.Equal(t, "400", stats.Volume)
	assert.Equal(t, "20", stats.Royalties)
	assert.Equal(t, "120", stats.FloorPrice)
	reader.AssertExpectations(t)
}

func TestGetEventStatsEmptyEvent(t *testing.T) {
	reader := &MockReader{}
	stubEvent(reader, 8, 0, 0, []models.Listing{}, []models.Sale{})

	stats, err := NewService(reader).GetEventStats(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "0", stats.Volume)
	assert.Equal(t, "0", stats.Royalties)
	assert.Empty(t, stats.FloorPrice)
}

func TestGetEventStatsExceedsUint64(t *testing.T) {
	reader := &MockReader{}
	big := "18446744073709551615"
	stubEvent(reader, 7, 2, 0, []models.Listing{}, []models.Sale{sale(1, big, "0", day1), sale(2, big, "1", day1)})

	stats, err := NewService(reader).GetEventStats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "36893488147419103230", stats.Volume)
}

func TestGetEventStatsErrors(t *testing.T) {
	reader := &MockReader{}
	reader.On("CountEvents", mock.Anything, ledger.TypeTicketMinted, uint64(7)).Return(0, errors.New("db down"))
	_, err := NewService(reader).GetEventStats(context.Background(), 7)
	assert.ErrorContains(t, err, "db down")

	corrupt := &MockReader{}
	stubEvent(corrupt, 7, 1, 0, []models.Listing{{TicketID: 1, Price: "abc"}}, []models.Sale{})
	_, err = NewService(corrupt).GetEventStats(context.Background(), 7)
	assert.ErrorContains(t, err, "listing 1 price")
}

func TestGetDailySales(t *testing.T) {
	reader := &MockReader{}
	day2 := day1.Add(26 * time.Hour)
	reader.On("GetSales", mock.Anything, uint64(7)).Return([]models.Sale{
		sale(3, "50", "2", day2),
		sale(1, "100", "5", day1),
		sale(2, "200", "10", day1.Add(time.Hour)),
	}, nil)

	daily, err := NewService(reader).GetDailySales(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, DailySalesMetrics{Date: "2026-05-01", Sales: 2, Volume: "300", Royalties: "15"}, daily[0])
	assert.Equal(t, DailySalesMetrics{Date: "2026-05-02", Sales: 1, Volume: "50", Royalties: "2"}, daily[1])
}

func TestGetBatchEventStats(t *testing.T) {
	reader := &MockReader{}
	stubEvent(reader, 1, 5, 1, []models.Listing{}, []models.Sale{sale(1, "100", "5", day1)})
	stubEvent(reader, 2, 3, 2, []models.Listing{}, []models.Sale{sale(2, "40", "2", day1)})

	batch, err := NewService(reader).GetBatchEventStats(context.Background(), []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 8, batch.Minted)
	assert.Equal(t, 3, batch.Scanned)
	assert.Equal(t, 2, batch.Sales)
	assert.Equal(t, "140", batch.Volume)
	assert.Equal(t, "7", batch.Royalties)
	assert.Len(t, batch.Events, 2)
}
