// Package sync orchestrates full and single-ticker market data update runs.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/clients/yahoo"
	"github.com/Ericincode/my-investment-assets/internal/modules/history"
	"github.com/Ericincode/my-investment-assets/internal/modules/listing"
	"github.com/Ericincode/my-investment-assets/internal/modules/returns"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
)

// ErrRunInProgress is returned when a full run is requested while one is active.
var ErrRunInProgress = fmt.Errorf("sync run already in progress")

// QuoteSource provides point-in-time quote snapshots.
type QuoteSource interface {
	FetchSnapshot(ctx context.Context, ticker string) (*yahoo.Snapshot, error)
	FetchSnapshots(ctx context.Context, tickers []string) ([]yahoo.Snapshot, error)
}

// ListingReconciler converges the store to the listing feeds.
type ListingReconciler interface {
	Run(ctx context.Context) (*listing.Result, error)
}

// Options bounds a full run.
type Options struct {
	Workers          int
	DeepTopQueried   int // top-N active tickers by query popularity
	DeepTopMarketCap int // top-M active tickers by market capitalization
	ShallowBatchSize int
	BatchPause       time.Duration // pause between shallow quote batches
}

// RunResult summarizes one full run.
type RunResult struct {
	Listing        *listing.Result
	DeepTargets    int
	DeepOutcomes   []string
	ShallowUpdated int
	Duration       time.Duration
}

// Orchestrator drives the sync pipeline: listing reconciliation, concurrent
// deep updates for popular and large-cap tickers, and a shallow snapshot pass
// over the rest of the active universe. At most one full run is active at a
// time.
type Orchestrator struct {
	securities *universe.SecurityRepository
	reconciler ListingReconciler
	history    *history.Fetcher
	returns    *returns.Calculator
	quotes     QuoteSource
	opts       Options
	log        zerolog.Logger

	running atomic.Bool
}

// NewOrchestrator creates a sync orchestrator
func NewOrchestrator(
	securities *universe.SecurityRepository,
	reconciler ListingReconciler,
	historyFetcher *history.Fetcher,
	returnsCalc *returns.Calculator,
	quotes QuoteSource,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.ShallowBatchSize <= 0 {
		opts.ShallowBatchSize = 50
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = time.Second
	}

	return &Orchestrator{
		securities: securities,
		reconciler: reconciler,
		history:    historyFetcher,
		returns:    returnsCalc,
		quotes:     quotes,
		opts:       opts,
		log:        log.With().Str("service", "sync").Logger(),
	}
}

// IsRunning reports whether a full run is currently active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// RunFull executes the complete pipeline. Returns ErrRunInProgress when
// another full run is already active.
func (o *Orchestrator) RunFull(ctx context.Context) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	start := time.Now()
	result := &RunResult{}

	o.log.Info().Msg("Starting full sync run")

	listingResult, err := o.reconciler.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliation failed: %w", err)
	}
	result.Listing = listingResult

	deepTickers, err := o.selectDeepTargets()
	if err != nil {
		return nil, err
	}
	result.DeepTargets = len(deepTickers)

	if len(deepTickers) > 0 {
		// Bump popularity counters up front in one statement so concurrent
		// workers never race on the counter column.
		if err := o.securities.IncrementQueryCounts(deepTickers, time.Now()); err != nil {
			return nil, fmt.Errorf("failed to bump query counters: %w", err)
		}

		o.log.Info().Int("tickers", len(deepTickers)).Msg("Starting deep update stage")

		pool := newWorkerPool(o.opts.Workers)
		result.DeepOutcomes = pool.Run(ctx, deepTickers, o.deepUpdate)

		for _, outcome := range result.DeepOutcomes {
			o.log.Info().Msg(outcome)
		}
	}

	shallowUpdated, err := o.shallowStage(ctx, deepTickers)
	if err != nil {
		o.log.Error().Err(err).Msg("Shallow update stage failed")
	}
	result.ShallowUpdated = shallowUpdated

	result.Duration = time.Since(start)
	o.log.Info().
		Int("deep_targets", result.DeepTargets).
		Int("shallow_updated", result.ShallowUpdated).
		Dur("duration", result.Duration).
		Msg("Full sync run complete")

	return result, nil
}

// UpdateTicker runs the deep pipeline for one ticker. Used by the fetch queue
// and the single-ticker CLI mode; does not contend with the full-run guard.
func (o *Orchestrator) UpdateTicker(ctx context.Context, ticker string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	sec, err := o.securities.GetByTicker(ticker)
	if err != nil {
		return "", fmt.Errorf("failed to load security %s: %w", ticker, err)
	}
	if sec == nil {
		return "", fmt.Errorf("security %s not found", ticker)
	}

	return o.deepUpdate(ctx, ticker), nil
}

// selectDeepTargets returns the union of the most queried and the largest
// active tickers, deduplicated with input order preserved.
func (o *Orchestrator) selectDeepTargets() ([]string, error) {
	topQueried, err := o.securities.TopActiveByQueryCount(o.opts.DeepTopQueried)
	if err != nil {
		return nil, fmt.Errorf("failed to select top queried tickers: %w", err)
	}

	topCap, err := o.securities.TopActiveByMarketCap(o.opts.DeepTopMarketCap)
	if err != nil {
		return nil, fmt.Errorf("failed to select top market cap tickers: %w", err)
	}

	seen := make(map[string]bool, len(topQueried)+len(topCap))
	targets := make([]string, 0, len(topQueried)+len(topCap))
	for _, t := range append(topQueried, topCap...) {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	return targets, nil
}

// deepUpdate refreshes one ticker end to end: quote snapshot, incremental
// history, and trailing returns when new rows arrived.
func (o *Orchestrator) deepUpdate(ctx context.Context, ticker string) string {
	snapshot, err := o.quotes.FetchSnapshot(ctx, ticker)
	if err != nil {
		o.log.Warn().Err(err).Str("ticker", ticker).Msg("Snapshot refresh failed")
	} else if err := o.securities.UpdateSnapshot(ticker, snapshot.Price, snapshot.MarketCap); err != nil {
		return fmt.Sprintf("%s: snapshot store failed: %v", ticker, err)
	}

	inserted, err := o.history.Refresh(ctx, ticker)
	if err != nil {
		return fmt.Sprintf("%s: history failed: %v", ticker, err)
	}

	if inserted > 0 {
		if err := o.returns.Recalculate(ticker); err != nil {
			return fmt.Sprintf("%s: returns failed: %v", ticker, err)
		}
		return fmt.Sprintf("%s: updated (%d new rows)", ticker, inserted)
	}

	return fmt.Sprintf("%s: up to date", ticker)
}

// shallowStage refreshes price and market cap for every active ticker not
// covered by the deep stage, in sequential bulk-quote batches with a pause
// between batches.
func (o *Orchestrator) shallowStage(ctx context.Context, deepTickers []string) (int, error) {
	exclude := make(map[string]bool, len(deepTickers))
	for _, t := range deepTickers {
		exclude[t] = true
	}

	remainder, err := o.securities.ActiveTickersExcluding(exclude)
	if err != nil {
		return 0, fmt.Errorf("failed to select shallow tickers: %w", err)
	}
	if len(remainder) == 0 {
		return 0, nil
	}

	o.log.Info().Int("tickers", len(remainder)).Msg("Starting shallow update stage")

	updated := 0
	for start := 0; start < len(remainder); start += o.opts.ShallowBatchSize {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		end := start + o.opts.ShallowBatchSize
		if end > len(remainder) {
			end = len(remainder)
		}
		batch := remainder[start:end]

		snapshots, err := o.quotes.FetchSnapshots(ctx, batch)
		if err != nil {
			o.log.Warn().Err(err).
				Int("from", start).
				Int("to", end).
				Msg("Shallow quote batch failed, skipping")
			continue
		}

		for _, snap := range snapshots {
			if snap.Price == nil && snap.MarketCap == nil {
				continue
			}
			if err := o.securities.UpdateSnapshot(snap.Symbol, snap.Price, snap.MarketCap); err != nil {
				o.log.Warn().Err(err).Str("ticker", snap.Symbol).Msg("Failed to store shallow snapshot")
				continue
			}
			updated++
		}

		if end < len(remainder) {
			select {
			case <-time.After(o.opts.BatchPause):
			case <-ctx.Done():
				return updated, ctx.Err()
			}
		}
	}

	return updated, nil
}
