// Package yahoo is a Yahoo Finance API client covering the chart (daily
// history) and quote (snapshot) endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	chartBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"
	quoteBaseURL = "https://query1.finance.yahoo.com/v7/finance/quote"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// Client is a Yahoo Finance API client
type Client struct {
	client     *http.Client
	log        zerolog.Logger
	maxRetries int
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:        log.With().Str("client", "yahoo").Logger(),
		maxRetries: 3,
	}
}

// DailyBar is one daily close from the chart endpoint.
// Volume is nil when Yahoo omits it for the day.
type DailyBar struct {
	Date   string // YYYY-MM-DD, UTC
	Close  float64
	Volume *int64
}

// Snapshot holds the point-in-time quote fields we care about.
// Fields are nil when Yahoo does not report them for the symbol.
type Snapshot struct {
	Symbol    string
	Price     *float64
	MarketCap *int64
}

// FetchDailyHistory fetches daily closing bars for a ticker.
// When since is nil the full available history is requested (range=max);
// otherwise only bars strictly after since are requested, so callers can
// resume from the last stored date. Bars with a null close are dropped.
func (c *Client) FetchDailyHistory(ctx context.Context, ticker string, since *time.Time) ([]DailyBar, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	if since == nil {
		params.Add("range", "max")
	} else {
		// period1 is inclusive, so start one day after the last stored bar
		start := since.UTC().AddDate(0, 0, 1)
		params.Add("period1", fmt.Sprintf("%d", start.Unix()))
		params.Add("period2", fmt.Sprintf("%d", time.Now().UTC().Unix()))
	}

	reqURL := chartBaseURL + url.QueryEscape(ticker) + "?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch daily history for %s: %w", ticker, err)
	}

	var result struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close  []*float64 `json:"close"`
						Volume []*int64   `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *apiError `json:"error"`
		} `json:"chart"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse chart response for %s: %w", ticker, err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error for %s: %s", ticker, result.Chart.Error.Description)
	}

	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		c.log.Warn().Str("ticker", ticker).Msg("No chart data returned")
		return nil, nil
	}

	chartData := result.Chart.Result[0]
	quote := chartData.Indicators.Quote[0]

	var bars []DailyBar
	for i, ts := range chartData.Timestamp {
		// Yahoo pads incomplete sessions with null closes
		if i >= len(quote.Close) || quote.Close[i] == nil || *quote.Close[i] <= 0 {
			continue
		}

		bar := DailyBar{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: *quote.Close[i],
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = quote.Volume[i]
		}

		bars = append(bars, bar)
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Msg("Fetched daily history")

	return bars, nil
}

// FetchSnapshot fetches the current price and market cap for a single ticker,
// retrying transient failures with exponential backoff.
func (c *Client) FetchSnapshot(ctx context.Context, ticker string) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(attempt)
			c.log.Warn().Err(lastErr).
				Str("ticker", ticker).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("Snapshot fetch failed, retrying")

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		snapshots, err := c.FetchSnapshots(ctx, []string{ticker})
		if err != nil {
			lastErr = err
			continue
		}
		if len(snapshots) == 0 {
			lastErr = fmt.Errorf("no quote data returned for %s", ticker)
			continue
		}

		return &snapshots[0], nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// FetchSnapshots fetches quotes for a batch of tickers in a single request.
// Symbols Yahoo does not recognize are silently absent from the result, so
// the returned slice may be shorter than the input.
func (c *Client) FetchSnapshots(ctx context.Context, tickers []string) ([]Snapshot, error) {
	if len(tickers) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Add("symbols", strings.Join(tickers, ","))
	params.Add("fields", "symbol,regularMarketPrice,marketCap")

	body, err := c.get(ctx, quoteBaseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}

	var result struct {
		QuoteResponse struct {
			Result []struct {
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				MarketCap          *int64   `json:"marketCap"`
			} `json:"result"`
			Error *apiError `json:"error"`
		} `json:"quoteResponse"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("quote API error: %s", result.QuoteResponse.Error.Description)
	}

	snapshots := make([]Snapshot, 0, len(result.QuoteResponse.Result))
	for _, q := range result.QuoteResponse.Result {
		snapshots = append(snapshots, Snapshot{
			Symbol:    q.Symbol,
			Price:     q.RegularMarketPrice,
			MarketCap: q.MarketCap,
		})
	}

	return snapshots, nil
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Yahoo rejects requests without a browser-like User-Agent
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// backoffDelay returns the exponential backoff delay for the given attempt,
// with jitter to avoid thundering herds across workers.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return base + jitter
}
