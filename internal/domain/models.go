// Package domain contains the core data model shared by all modules.
package domain

import (
	"encoding/json"
	"time"
)

// Security represents one exchange-listed security keyed by its ticker symbol.
// The ticker is uppercase, stable and immutable. Delisted or excluded
// instruments are kept with IsActive=false so historical joins survive.
type Security struct {
	Ticker          string   `json:"ticker"`
	Name            string   `json:"name"`
	NameTranslated  *string  `json:"name_translated,omitempty"`
	Exchange        string   `json:"exchange"`
	MarketCategory  *string  `json:"market_category,omitempty"`
	FinancialStatus *string  `json:"financial_status,omitempty"`
	IsETF           bool     `json:"is_etf"`
	IsActive        bool     `json:"is_active"`
	MarketCap       *int64   `json:"market_cap,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Returns         Returns  `json:"returns"`
	QueryCount      int64    `json:"query_count"`
	LastQueried     *int64   `json:"-"` // Unix seconds, RFC3339 at the JSON boundary
	UpdatedAt       int64    `json:"-"`
}

// MarshalJSON converts Unix timestamps to RFC3339 strings for the API.
func (s Security) MarshalJSON() ([]byte, error) {
	type Alias Security
	aux := &struct {
		LastQueried string `json:"last_queried,omitempty"`
		UpdatedAt   string `json:"updated_at,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&s),
	}

	if s.LastQueried != nil {
		aux.LastQueried = time.Unix(*s.LastQueried, 0).UTC().Format(time.RFC3339)
	}
	if s.UpdatedAt != 0 {
		aux.UpdatedAt = time.Unix(s.UpdatedAt, 0).UTC().Format(time.RFC3339)
	}

	return json.Marshal(aux)
}

// Returns holds the materialized trailing-return cache for a security.
// A nil field means insufficient history, which is distinct from a zero return.
// Values are signed fractional rates, not percentages.
type Returns struct {
	M1  *float64 `json:"return_1m,omitempty"`
	M6  *float64 `json:"return_6m,omitempty"`
	Y1  *float64 `json:"return_1y,omitempty"`
	Y3  *float64 `json:"return_3y,omitempty"`
	Y5  *float64 `json:"return_5y,omitempty"`
	Y10 *float64 `json:"return_10y,omitempty"`
}

// DailyPrice is one immutable daily closing record, unique per (ticker, date).
type DailyPrice struct {
	Ticker string  `json:"-"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}
