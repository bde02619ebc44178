// Package history fetches and stores incremental daily price history.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/clients/yahoo"
	"github.com/Ericincode/my-investment-assets/internal/domain"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
)

// HistorySource provides daily bars for a ticker. No ordering is assumed on
// the returned bars.
type HistorySource interface {
	FetchDailyHistory(ctx context.Context, ticker string, since *time.Time) ([]yahoo.DailyBar, error)
}

// Fetcher downloads the missing slice of a ticker's daily history and persists
// it. Stored rows are never modified: only dates after the latest stored date
// are requested, and re-delivered rows are ignored by the store.
type Fetcher struct {
	securities *universe.SecurityRepository
	prices     *universe.PriceRepository
	source     HistorySource
	log        zerolog.Logger
}

// NewFetcher creates a history fetcher
func NewFetcher(
	securities *universe.SecurityRepository,
	prices *universe.PriceRepository,
	source HistorySource,
	log zerolog.Logger,
) *Fetcher {
	return &Fetcher{
		securities: securities,
		prices:     prices,
		source:     source,
		log:        log.With().Str("service", "history").Logger(),
	}
}

// Refresh brings a ticker's stored history up to date and returns the number
// of newly inserted rows. No stored history requests the full range; history
// already at today's date is a no-op. A provider failure is logged and
// reported as zero new rows so batch runs keep going.
func (f *Fetcher) Refresh(ctx context.Context, ticker string) (int, error) {
	latest, err := f.prices.LatestDate(ticker)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest stored date for %s: %w", ticker, err)
	}

	var since *time.Time
	if latest != "" {
		latestDate, err := time.Parse("2006-01-02", latest)
		if err != nil {
			return 0, fmt.Errorf("corrupt stored date %q for %s: %w", latest, ticker, err)
		}

		today := time.Now().UTC().Truncate(24 * time.Hour)
		if !latestDate.Before(today) {
			f.log.Debug().Str("ticker", ticker).Str("latest", latest).Msg("History already current")
			return 0, nil
		}
		since = &latestDate
	}

	bars, err := f.source.FetchDailyHistory(ctx, ticker, since)
	if err != nil {
		f.log.Warn().Err(err).Str("ticker", ticker).Msg("History fetch failed, treating as no new data")
		return 0, nil
	}
	if len(bars) == 0 {
		f.log.Debug().Str("ticker", ticker).Msg("No new history rows")
		return 0, nil
	}

	// Track the newest accepted row by date; ISO dates compare lexically
	var newest domain.DailyPrice
	rows := make([]domain.DailyPrice, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			f.log.Debug().Str("ticker", ticker).Str("date", bar.Date).Msg("Skipping non-positive close")
			continue
		}
		row := domain.DailyPrice{
			Ticker: ticker,
			Date:   bar.Date,
			Close:  bar.Close,
			Volume: bar.Volume,
		}
		rows = append(rows, row)
		if row.Date > newest.Date {
			newest = row
		}
	}

	inserted, err := f.prices.InsertDailyPrices(ticker, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to store history for %s: %w", ticker, err)
	}

	if inserted > 0 {
		// Snapshot the newest accepted close onto the security row
		if err := f.securities.UpdateLatestPrice(ticker, newest.Close); err != nil {
			return inserted, fmt.Errorf("failed to update price snapshot for %s: %w", ticker, err)
		}

		f.log.Info().
			Str("ticker", ticker).
			Int("inserted", inserted).
			Str("through", newest.Date).
			Msg("Stored new history rows")
	}

	return inserted, nil
}
