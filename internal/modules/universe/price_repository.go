package universe

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/domain"
)

// PriceRepository provides access to daily closing price data.
// Rows are immutable once written: ingestion uses INSERT OR IGNORE keyed on
// (ticker, date), so re-fetching an already-stored date is a no-op.
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "price").Logger(),
	}
}

// LatestDate returns the most recent stored trading date (YYYY-MM-DD) for a
// ticker, or "" if no rows exist. Dates are stored as ISO strings, so the
// lexicographic MAX is also the chronological maximum.
func (r *PriceRepository) LatestDate(ticker string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRow("SELECT MAX(date) FROM daily_prices WHERE ticker = ?", ticker).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest price date: %w", err)
	}

	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// InsertDailyPrices persists daily price rows in a single transaction using
// duplicate-tolerant inserts. Returns the count of newly inserted rows;
// already-stored (ticker, date) pairs are silently skipped.
func (r *PriceRepository) InsertDailyPrices(ticker string, prices []domain.DailyPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO daily_prices (ticker, date, close, volume)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, price := range prices {
		volume := sql.NullInt64{}
		if price.Volume != nil {
			volume.Int64 = *price.Volume
			volume.Valid = true
		}

		result, err := stmt.Exec(ticker, price.Date, price.Close, volume)
		if err != nil {
			return 0, fmt.Errorf("failed to insert daily price for %s: %w", price.Date, err)
		}

		if affected, err := result.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("ticker", ticker).
		Int("rows", len(prices)).
		Int("inserted", inserted).
		Msg("Inserted daily prices")

	return inserted, nil
}

// RecentCloses returns the most recent daily prices for a ticker, newest first.
// A limit <= 0 returns the full history.
func (r *PriceRepository) RecentCloses(ticker string, limit int) ([]domain.DailyPrice, error) {
	query := "SELECT date, close, volume FROM daily_prices WHERE ticker = ? ORDER BY date DESC"
	args := []interface{}{ticker}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryPrices(ticker, query, args...)
}

// ClosesAscending returns the full price history for a ticker, oldest first.
func (r *PriceRepository) ClosesAscending(ticker string) ([]domain.DailyPrice, error) {
	return r.queryPrices(ticker,
		"SELECT date, close, volume FROM daily_prices WHERE ticker = ? ORDER BY date ASC", ticker)
}

// LatestPrice returns the most recent daily price row for a ticker, or nil
// when no rows exist.
func (r *PriceRepository) LatestPrice(ticker string) (*domain.DailyPrice, error) {
	prices, err := r.RecentCloses(ticker, 1)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return &prices[0], nil
}

// CloseOnOrBefore returns the most recent daily price with date <= the given
// date (YYYY-MM-DD), or nil when history does not reach back that far.
func (r *PriceRepository) CloseOnOrBefore(ticker string, date string) (*domain.DailyPrice, error) {
	prices, err := r.queryPrices(ticker, `
		SELECT date, close, volume FROM daily_prices
		WHERE ticker = ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1`, ticker, date)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return &prices[0], nil
}

// CountForTicker returns the number of stored daily prices for a ticker.
func (r *PriceRepository) CountForTicker(ticker string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM daily_prices WHERE ticker = ?", ticker).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily prices: %w", err)
	}
	return count, nil
}

func (r *PriceRepository) queryPrices(ticker, query string, args ...interface{}) ([]domain.DailyPrice, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []domain.DailyPrice
	for rows.Next() {
		var p domain.DailyPrice
		var volume sql.NullInt64

		if err := rows.Scan(&p.Date, &p.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		p.Ticker = ticker
		if volume.Valid {
			p.Volume = &volume.Int64
		}

		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}
