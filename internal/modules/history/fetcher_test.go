package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ericincode/my-investment-assets/internal/clients/yahoo"
	"github.com/Ericincode/my-investment-assets/internal/domain"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	testdb "github.com/Ericincode/my-investment-assets/internal/testing"
)

type fakeHistorySource struct {
	bars  []yahoo.DailyBar
	err   error
	calls int
	since *time.Time
}

func (f *fakeHistorySource) FetchDailyHistory(_ context.Context, _ string, since *time.Time) ([]yahoo.DailyBar, error) {
	f.calls++
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func setupFetcher(t *testing.T, source *fakeHistorySource) (*Fetcher, *universe.SecurityRepository, *universe.PriceRepository) {
	t.Helper()

	db, cleanup := testdb.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	secRepo := universe.NewSecurityRepository(db.Conn(), log)
	priceRepo := universe.NewPriceRepository(db.Conn(), log)

	require.NoError(t, secRepo.BulkCreate([]domain.Security{
		{Ticker: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", IsActive: true},
	}))

	return NewFetcher(secRepo, priceRepo, source, log), secRepo, priceRepo
}

func TestRefreshFullHistoryWhenEmpty(t *testing.T) {
	vol := int64(500)
	source := &fakeHistorySource{bars: []yahoo.DailyBar{
		{Date: "2025-01-02", Close: 100.0, Volume: &vol},
		{Date: "2025-01-03", Close: 102.0},
	}}
	fetcher, secRepo, priceRepo := setupFetcher(t, source)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// No stored history means a full-range request
	assert.Nil(t, source.since)

	count, err := priceRepo.CountForTicker("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Snapshot tracks the newest accepted close
	sec, err := secRepo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, sec.Price)
	assert.InDelta(t, 102.0, *sec.Price, 1e-9)
}

func TestRefreshIncrementalFromLatestDate(t *testing.T) {
	source := &fakeHistorySource{bars: []yahoo.DailyBar{
		{Date: "2025-01-06", Close: 103.0},
	}}
	fetcher, _, priceRepo := setupFetcher(t, source)

	_, err := priceRepo.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: "2025-01-03", Close: 102.0},
	})
	require.NoError(t, err)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	require.NotNil(t, source.since)
	assert.Equal(t, "2025-01-03", source.since.Format("2006-01-02"))
}

func TestRefreshNoOpWhenCurrent(t *testing.T) {
	source := &fakeHistorySource{}
	fetcher, _, priceRepo := setupFetcher(t, source)

	today := time.Now().UTC().Format("2006-01-02")
	_, err := priceRepo.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: today, Close: 102.0},
	})
	require.NoError(t, err)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 0, source.calls)
}

func TestRefreshProviderFailureIsZeroRows(t *testing.T) {
	source := &fakeHistorySource{err: fmt.Errorf("rate limited")}
	fetcher, _, _ := setupFetcher(t, source)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestRefreshSkipsNonPositiveCloses(t *testing.T) {
	source := &fakeHistorySource{bars: []yahoo.DailyBar{
		{Date: "2025-01-02", Close: 100.0},
		{Date: "2025-01-03", Close: 0},
		{Date: "2025-01-06", Close: -1},
	}}
	fetcher, _, priceRepo := setupFetcher(t, source)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	count, err := priceRepo.CountForTicker("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRefreshSnapshotUsesNewestDateRegardlessOfBarOrder(t *testing.T) {
	source := &fakeHistorySource{bars: []yahoo.DailyBar{
		{Date: "2025-01-06", Close: 104.0},
		{Date: "2025-01-02", Close: 100.0},
		{Date: "2025-01-03", Close: 101.0},
	}}
	fetcher, secRepo, _ := setupFetcher(t, source)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	sec, err := secRepo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, sec.Price)
	assert.InDelta(t, 104.0, *sec.Price, 1e-9)
}

func TestRefreshRedeliveredRowsNotDoubleCounted(t *testing.T) {
	source := &fakeHistorySource{bars: []yahoo.DailyBar{
		{Date: "2025-01-02", Close: 100.0},
		{Date: "2025-01-03", Close: 101.0},
	}}
	fetcher, _, priceRepo := setupFetcher(t, source)

	_, err := priceRepo.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: "2025-01-02", Close: 100.0},
	})
	require.NoError(t, err)

	inserted, err := fetcher.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}
