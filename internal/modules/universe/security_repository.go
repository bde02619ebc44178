// Package universe provides persistence for securities and their daily prices.
package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/domain"
)

// SecurityRepository handles security database operations
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// securityColumns is the list of columns for the securities table.
// Used to avoid SELECT * which can break when the schema changes.
// Column order must match scanSecurity.
const securityColumns = `ticker, name, name_translated, exchange, market_category, financial_status,
is_etf, is_active, market_cap, price,
return_1m, return_6m, return_1y, return_3y, return_5y, return_10y,
query_count, last_queried, updated_at`

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "security").Logger(),
	}
}

// GetByTicker returns a security by ticker, or nil if not found.
func (r *SecurityRepository) GetByTicker(ticker string) (*domain.Security, error) {
	query := "SELECT " + securityColumns + " FROM securities WHERE ticker = ?"

	rows, err := r.db.Query(query, strings.ToUpper(strings.TrimSpace(ticker)))
	if err != nil {
		return nil, fmt.Errorf("failed to query security by ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Security not found
	}

	security, err := scanSecurity(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security: %w", err)
	}

	return &security, nil
}

// GetAll returns every security in the store, active or not.
func (r *SecurityRepository) GetAll() ([]domain.Security, error) {
	return r.queryList("SELECT " + securityColumns + " FROM securities")
}

// GetAllActive returns all active securities.
func (r *SecurityRepository) GetAllActive() ([]domain.Security, error) {
	return r.queryList("SELECT " + securityColumns + " FROM securities WHERE is_active = 1")
}

// BulkCreate inserts new securities in a single transaction.
func (r *SecurityRepository) BulkCreate(securities []domain.Security) error {
	if len(securities) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO securities
		(ticker, name, name_translated, exchange, market_category, financial_status, is_etf, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, sec := range securities {
		_, err := stmt.Exec(
			strings.ToUpper(strings.TrimSpace(sec.Ticker)),
			sec.Name,
			nullableString(sec.NameTranslated),
			sec.Exchange,
			nullableString(sec.MarketCategory),
			nullableString(sec.FinancialStatus),
			boolToInt(sec.IsETF),
			boolToInt(sec.IsActive),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert security %s: %w", sec.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk create: %w", err)
	}

	r.log.Info().Int("count", len(securities)).Msg("Created securities")
	return nil
}

// BulkUpdateListing updates the listing fields of existing securities in a
// single transaction. Only the fixed listing field set is written; price
// history and derived fields are untouched.
func (r *SecurityRepository) BulkUpdateListing(securities []domain.Security) error {
	if len(securities) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE securities
		SET name = ?, exchange = ?, market_category = ?, financial_status = ?,
		    is_etf = ?, is_active = ?, name_translated = ?, updated_at = ?
		WHERE ticker = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, sec := range securities {
		_, err := stmt.Exec(
			sec.Name,
			sec.Exchange,
			nullableString(sec.MarketCategory),
			nullableString(sec.FinancialStatus),
			boolToInt(sec.IsETF),
			boolToInt(sec.IsActive),
			nullableString(sec.NameTranslated),
			now,
			sec.Ticker,
		)
		if err != nil {
			return fmt.Errorf("failed to update security %s: %w", sec.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk update: %w", err)
	}

	r.log.Info().Int("count", len(securities)).Msg("Updated securities")
	return nil
}

// UpdateSnapshot writes the latest price and market cap for a security.
func (r *SecurityRepository) UpdateSnapshot(ticker string, price *float64, marketCap *int64) error {
	_, err := r.db.Exec(
		"UPDATE securities SET price = ?, market_cap = ?, updated_at = ? WHERE ticker = ?",
		nullableFloat(price), nullableInt(marketCap), time.Now().Unix(), ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot for %s: %w", ticker, err)
	}
	return nil
}

// UpdateLatestPrice writes only the latest price snapshot for a security.
func (r *SecurityRepository) UpdateLatestPrice(ticker string, price float64) error {
	_, err := r.db.Exec(
		"UPDATE securities SET price = ?, updated_at = ? WHERE ticker = ?",
		price, time.Now().Unix(), ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to update latest price for %s: %w", ticker, err)
	}
	return nil
}

// UpdateReturns writes all six trailing-return fields in one statement.
// Partial computation is never persisted: callers pass the complete set,
// with nil meaning insufficient history.
func (r *SecurityRepository) UpdateReturns(ticker string, ret domain.Returns) error {
	_, err := r.db.Exec(`
		UPDATE securities
		SET return_1m = ?, return_6m = ?, return_1y = ?,
		    return_3y = ?, return_5y = ?, return_10y = ?, updated_at = ?
		WHERE ticker = ?
	`,
		nullableFloat(ret.M1), nullableFloat(ret.M6), nullableFloat(ret.Y1),
		nullableFloat(ret.Y3), nullableFloat(ret.Y5), nullableFloat(ret.Y10),
		time.Now().Unix(), ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to update returns for %s: %w", ticker, err)
	}
	return nil
}

// Deactivate marks a security inactive without deleting it.
func (r *SecurityRepository) Deactivate(ticker string) error {
	_, err := r.db.Exec(
		"UPDATE securities SET is_active = 0, updated_at = ? WHERE ticker = ?",
		time.Now().Unix(), ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate security %s: %w", ticker, err)
	}
	return nil
}

// IncrementQueryCounts bumps the popularity counters for a set of tickers as
// one batched statement, avoiding per-ticker write amplification.
func (r *SecurityRepository) IncrementQueryCounts(tickers []string, now time.Time) error {
	if len(tickers) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(tickers)-1) + "?"
	args := make([]interface{}, 0, len(tickers)+1)
	args = append(args, now.Unix())
	for _, t := range tickers {
		args = append(args, t)
	}

	query := "UPDATE securities SET query_count = query_count + 1, last_queried = ? WHERE ticker IN (" + placeholders + ")"
	_, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to increment query counts: %w", err)
	}

	return nil
}

// MissingTranslations returns active securities whose display name has no
// translation yet.
func (r *SecurityRepository) MissingTranslations() ([]domain.Security, error) {
	return r.queryList("SELECT " + securityColumns + ` FROM securities
		WHERE is_active = 1 AND (name_translated IS NULL OR name_translated = '')`)
}

// SetTranslationsByName backfills translated names keyed by the original
// display name, in one transaction.
func (r *SecurityRepository) SetTranslationsByName(translations map[string]string) error {
	if len(translations) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE securities SET name_translated = ? WHERE name = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare translation update: %w", err)
	}
	defer stmt.Close()

	for name, translated := range translations {
		if translated == "" {
			continue
		}
		if _, err := stmt.Exec(translated, name); err != nil {
			return fmt.Errorf("failed to set translation for %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit translations: %w", err)
	}

	return nil
}

// Search returns up to limit securities matching the query, ranked
// exact ticker > ticker prefix > substring (ticker, name or translation).
func (r *SecurityRepository) Search(query string, limit int) ([]domain.Security, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []domain.Security{}, nil
	}

	like := "%" + q + "%"
	sqlQuery := "SELECT " + securityColumns + ` FROM securities
		WHERE UPPER(ticker) LIKE ? OR UPPER(name) LIKE ? OR UPPER(COALESCE(name_translated, '')) LIKE ?
		ORDER BY
			CASE
				WHEN UPPER(ticker) = ? THEN 1
				WHEN UPPER(ticker) LIKE ? THEN 2
				ELSE 3
			END,
			ticker
		LIMIT ?`

	return r.queryList(sqlQuery, like, like, like, q, q+"%", limit)
}

// TopActiveByQueryCount returns the tickers of the most queried active securities.
func (r *SecurityRepository) TopActiveByQueryCount(n int) ([]string, error) {
	return r.queryTickers(`
		SELECT ticker FROM securities
		WHERE is_active = 1 AND query_count > 0
		ORDER BY query_count DESC
		LIMIT ?`, n)
}

// TopActiveByMarketCap returns the tickers of the largest active securities by
// market capitalization. Securities without a market cap are excluded.
func (r *SecurityRepository) TopActiveByMarketCap(n int) ([]string, error) {
	return r.queryTickers(`
		SELECT ticker FROM securities
		WHERE is_active = 1 AND market_cap IS NOT NULL
		ORDER BY market_cap DESC
		LIMIT ?`, n)
}

// ActiveTickersExcluding returns all active tickers not present in the given set.
func (r *SecurityRepository) ActiveTickersExcluding(exclude map[string]bool) ([]string, error) {
	tickers, err := r.queryTickers("SELECT ticker FROM securities WHERE is_active = 1 ORDER BY ticker")
	if err != nil {
		return nil, err
	}

	remainder := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if !exclude[t] {
			remainder = append(remainder, t)
		}
	}
	return remainder, nil
}

// returnColumns whitelists the sortable trailing-return columns for TopByReturn.
var returnColumns = map[string]bool{
	"return_1m":  true,
	"return_6m":  true,
	"return_1y":  true,
	"return_3y":  true,
	"return_5y":  true,
	"return_10y": true,
}

// TopByReturn returns the best-performing active securities by one of the
// trailing-return columns. Unknown sort columns fall back to return_5y.
func (r *SecurityRepository) TopByReturn(column string, limit int) ([]domain.Security, error) {
	if !returnColumns[column] {
		column = "return_5y"
	}

	query := "SELECT " + securityColumns + ` FROM securities
		WHERE is_active = 1 AND market_cap IS NOT NULL AND ` + column + ` IS NOT NULL
		ORDER BY ` + column + ` DESC
		LIMIT ?`

	return r.queryList(query, limit)
}

// Count returns the total number of securities.
func (r *SecurityRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM securities").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count securities: %w", err)
	}
	return count, nil
}

// PurgeAll hard-deletes every security (daily prices cascade).
// Administrative reset only; reconciliation never calls this.
func (r *SecurityRepository) PurgeAll() (int64, error) {
	result, err := r.db.Exec("DELETE FROM securities")
	if err != nil {
		return 0, fmt.Errorf("failed to purge securities: %w", err)
	}

	deleted, _ := result.RowsAffected()
	r.log.Warn().Int64("deleted", deleted).Msg("Purged all securities")
	return deleted, nil
}

// DeleteByNameKeywords hard-deletes securities whose name contains any of the
// given keywords (case-insensitive). Administrative cleanup path.
func (r *SecurityRepository) DeleteByNameKeywords(keywords []string) (int64, error) {
	if len(keywords) == 0 {
		return 0, nil
	}

	clauses := make([]string, len(keywords))
	args := make([]interface{}, len(keywords))
	for i, kw := range keywords {
		clauses[i] = "LOWER(name) LIKE ?"
		args[i] = "%" + strings.ToLower(kw) + "%"
	}

	query := "DELETE FROM securities WHERE " + strings.Join(clauses, " OR ")
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete securities by keywords: %w", err)
	}

	deleted, _ := result.RowsAffected()
	r.log.Warn().Int64("deleted", deleted).Msg("Deleted securities by name keywords")
	return deleted, nil
}

// queryList runs a securities SELECT and scans all rows.
func (r *SecurityRepository) queryList(query string, args ...interface{}) ([]domain.Security, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, sec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

// queryTickers runs a SELECT returning a single ticker column.
func (r *SecurityRepository) queryTickers(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}

	return tickers, nil
}

// scanSecurity scans one securities row. Column order matches securityColumns.
func scanSecurity(rows *sql.Rows) (domain.Security, error) {
	var sec domain.Security
	var nameTranslated, marketCategory, financialStatus sql.NullString
	var marketCap, lastQueried sql.NullInt64
	var price sql.NullFloat64
	var r1m, r6m, r1y, r3y, r5y, r10y sql.NullFloat64
	var isETF, isActive int

	err := rows.Scan(
		&sec.Ticker, &sec.Name, &nameTranslated, &sec.Exchange, &marketCategory, &financialStatus,
		&isETF, &isActive, &marketCap, &price,
		&r1m, &r6m, &r1y, &r3y, &r5y, &r10y,
		&sec.QueryCount, &lastQueried, &sec.UpdatedAt,
	)
	if err != nil {
		return domain.Security{}, err
	}

	sec.IsETF = isETF != 0
	sec.IsActive = isActive != 0
	sec.NameTranslated = stringPtr(nameTranslated)
	sec.MarketCategory = stringPtr(marketCategory)
	sec.FinancialStatus = stringPtr(financialStatus)
	if marketCap.Valid {
		sec.MarketCap = &marketCap.Int64
	}
	if lastQueried.Valid {
		sec.LastQueried = &lastQueried.Int64
	}
	if price.Valid {
		sec.Price = &price.Float64
	}
	sec.Returns = domain.Returns{
		M1:  floatPtr(r1m),
		M6:  floatPtr(r6m),
		Y1:  floatPtr(r1y),
		Y3:  floatPtr(r3y),
		Y5:  floatPtr(r5y),
		Y10: floatPtr(r10y),
	}

	return sec, nil
}

// Null conversion helpers

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid || s.String == "" {
		return nil
	}
	v := s.String
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
