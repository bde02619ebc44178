// Package returns computes trailing-return caches from stored price history.
package returns

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/domain"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
)

// windowDays maps each trailing-return field to its lookback in calendar days.
var windowDays = map[string]int{
	"1m":  30,
	"6m":  182,
	"1y":  365,
	"3y":  1095,
	"5y":  1825,
	"10y": 3650,
}

// Calculator recomputes a security's trailing returns from daily_prices.
type Calculator struct {
	securities *universe.SecurityRepository
	prices     *universe.PriceRepository
	log        zerolog.Logger
}

// NewCalculator creates a return calculator
func NewCalculator(
	securities *universe.SecurityRepository,
	prices *universe.PriceRepository,
	log zerolog.Logger,
) *Calculator {
	return &Calculator{
		securities: securities,
		prices:     prices,
		log:        log.With().Str("service", "returns").Logger(),
	}
}

// Recalculate computes all six trailing returns for a ticker against the
// latest stored close and writes them in one statement. Windows reaching past
// the start of stored history come out nil, which is distinct from a zero
// return. No stored prices is a logged no-op.
func (c *Calculator) Recalculate(ticker string) error {
	latest, err := c.prices.LatestPrice(ticker)
	if err != nil {
		return fmt.Errorf("failed to load latest price for %s: %w", ticker, err)
	}
	if latest == nil {
		c.log.Warn().Str("ticker", ticker).Msg("No price history, skipping return calculation")
		return nil
	}

	// Anchor on today, not the latest close date, so stale histories decay
	today := time.Now().UTC()

	ret := domain.Returns{}
	fields := map[string]**float64{
		"1m":  &ret.M1,
		"6m":  &ret.M6,
		"1y":  &ret.Y1,
		"3y":  &ret.Y3,
		"5y":  &ret.Y5,
		"10y": &ret.Y10,
	}

	for name, days := range windowDays {
		pastDate := today.AddDate(0, 0, -days).Format("2006-01-02")

		past, err := c.prices.CloseOnOrBefore(ticker, pastDate)
		if err != nil {
			return fmt.Errorf("failed to load close on or before %s for %s: %w", pastDate, ticker, err)
		}
		if past == nil || past.Close <= 0 {
			continue // insufficient history, leave nil
		}

		rate := (latest.Close - past.Close) / past.Close
		*fields[name] = &rate
	}

	if err := c.securities.UpdateReturns(ticker, ret); err != nil {
		return fmt.Errorf("failed to store returns for %s: %w", ticker, err)
	}

	c.log.Debug().Str("ticker", ticker).Msg("Recalculated trailing returns")
	return nil
}
