// Package nasdaq downloads and parses the Nasdaq Trader symbol directory
// feeds (nasdaqlisted.txt and otherlisted.txt).
package nasdaq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client downloads listing feeds from nasdaqtrader.com
type Client struct {
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a new listing feed client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("client", "nasdaq").Logger(),
	}
}

// ListingRow is one security row from a symbol directory feed.
// Fields absent from a feed are left empty.
type ListingRow struct {
	Symbol          string
	SecurityName    string
	MarketCategory  string
	FinancialStatus string
	ExchangeCode    string // Single-letter code, only in the "other listed" feed
	ETF             bool
	TestIssue       bool
	NextShares      bool
}

// exchangeNames maps the single-letter exchange codes used by the
// "other listed" feed to display names.
var exchangeNames = map[string]string{
	"N": "NYSE",
	"A": "NYSE_AMERICAN",
	"P": "NYSE_ARCA",
	"Z": "BATS",
	"V": "IEX",
}

// Exchange resolves the row's exchange display name, falling back to the
// feed-level default when the row carries no recognized code.
func (r ListingRow) Exchange(defaultExchange string) string {
	if name, ok := exchangeNames[r.ExchangeCode]; ok {
		return name
	}
	return defaultExchange
}

// FetchListings downloads and parses one symbol directory feed.
// The feed is pipe-delimited with a header row and a "File Creation Time"
// trailer, both of which are consumed here.
func (c *Client) FetchListings(ctx context.Context, feedURL string) ([]ListingRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download listing feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing feed returned status %d", resp.StatusCode)
	}

	rows, err := c.parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing feed: %w", err)
	}

	c.log.Info().
		Str("url", feedURL).
		Int("rows", len(rows)).
		Msg("Fetched listing feed")

	return rows, nil
}

func (c *Client) parse(r io.Reader) ([]ListingRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1 // trailer row has fewer fields
	reader.LazyQuotes = true    // security names may contain stray quotes

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Column positions vary between the two feeds, so resolve by name.
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	symbolIdx, ok := cols["Symbol"]
	if !ok {
		if symbolIdx, ok = cols["ACT Symbol"]; !ok {
			return nil, fmt.Errorf("feed has no symbol column")
		}
	}

	var rows []ListingRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		// Trailer: "File Creation Time: ..." in the first field
		if len(record) <= symbolIdx || strings.HasPrefix(record[0], "File Creation Time") {
			continue
		}

		symbol := strings.TrimSpace(record[symbolIdx])
		if symbol == "" {
			continue
		}

		row := ListingRow{
			Symbol:          symbol,
			SecurityName:    field(record, cols, "Security Name"),
			MarketCategory:  field(record, cols, "Market Category"),
			FinancialStatus: field(record, cols, "Financial Status"),
			ExchangeCode:    field(record, cols, "Exchange"),
			ETF:             field(record, cols, "ETF") == "Y",
			TestIssue:       field(record, cols, "Test Issue") == "Y",
			NextShares:      field(record, cols, "NextShares") == "Y",
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func field(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
