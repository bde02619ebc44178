package database

// schemas maps database names to their embedded DDL.
// The schema is the single source of truth for each database's tables.
var schemas = map[string]string{
	"market": marketSchema,
}

const marketSchema = `
CREATE TABLE IF NOT EXISTS securities (
    ticker           TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    name_translated  TEXT,
    exchange         TEXT NOT NULL,
    market_category  TEXT,
    financial_status TEXT,
    is_etf           INTEGER NOT NULL DEFAULT 0,
    is_active        INTEGER NOT NULL DEFAULT 1,
    market_cap       INTEGER,
    price            REAL,
    return_1m        REAL,
    return_6m        REAL,
    return_1y        REAL,
    return_3y        REAL,
    return_5y        REAL,
    return_10y       REAL,
    query_count      INTEGER NOT NULL DEFAULT 0,
    last_queried     INTEGER,
    updated_at       INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_securities_active ON securities(is_active);
CREATE INDEX IF NOT EXISTS idx_securities_query_count ON securities(query_count DESC, is_active);
CREATE INDEX IF NOT EXISTS idx_securities_market_cap ON securities(market_cap DESC, is_active);

CREATE TABLE IF NOT EXISTS daily_prices (
    ticker TEXT NOT NULL REFERENCES securities(ticker) ON DELETE CASCADE,
    date   TEXT NOT NULL,
    close  REAL NOT NULL CHECK (close > 0),
    volume INTEGER,
    PRIMARY KEY (ticker, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_ticker_date ON daily_prices(ticker, date DESC);
CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
`
