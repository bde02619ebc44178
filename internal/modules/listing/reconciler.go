package listing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/clients/nasdaq"
	"github.com/Ericincode/my-investment-assets/internal/config"
	"github.com/Ericincode/my-investment-assets/internal/domain"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
)

// ListingSource downloads one listing feed.
type ListingSource interface {
	FetchListings(ctx context.Context, feedURL string) ([]nasdaq.ListingRow, error)
}

// Translator translates a batch of display names, preserving order.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string) ([]string, error)
}

// Result summarizes one reconciliation run across all feeds.
type Result struct {
	Created     int
	Updated     int
	Deactivated int
	Translated  int
	FeedErrors  int
}

// Reconciler converges the securities store to the state of the listing feeds.
// Listed-and-included rows are created or updated, excluded rows are
// deactivated, and rows absent from all feeds are left untouched so delisted
// securities keep their history.
type Reconciler struct {
	securities     *universe.SecurityRepository
	source         ListingSource
	translator     Translator
	feeds          []config.ListingFeed
	translateBatch int
	log            zerolog.Logger
}

// NewReconciler creates a listing reconciler
func NewReconciler(
	securities *universe.SecurityRepository,
	source ListingSource,
	translator Translator,
	feeds []config.ListingFeed,
	translateBatch int,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		securities:     securities,
		source:         source,
		translator:     translator,
		feeds:          feeds,
		translateBatch: translateBatch,
		log:            log.With().Str("service", "listing").Logger(),
	}
}

// Run reconciles every configured feed, then backfills missing translations.
// A failing feed is logged and skipped so one unreachable source never blocks
// the others.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, feed := range r.feeds {
		if err := r.reconcileFeed(ctx, feed, result); err != nil {
			result.FeedErrors++
			r.log.Error().Err(err).
				Str("url", feed.URL).
				Msg("Feed reconciliation failed, continuing with next feed")
		}
	}

	if err := r.backfillTranslations(ctx, result); err != nil {
		r.log.Error().Err(err).Msg("Translation backfill failed")
	}

	r.log.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deactivated", result.Deactivated).
		Int("translated", result.Translated).
		Int("feed_errors", result.FeedErrors).
		Msg("Listing reconciliation complete")

	return result, nil
}

func (r *Reconciler) reconcileFeed(ctx context.Context, feed config.ListingFeed, result *Result) error {
	rows, err := r.source.FetchListings(ctx, feed.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	existing, err := r.securities.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load existing securities: %w", err)
	}

	existingByTicker := make(map[string]*domain.Security, len(existing))
	for i := range existing {
		existingByTicker[existing[i].Ticker] = &existing[i]
	}

	var creates, updates []domain.Security
	var deactivations []string

	for _, row := range rows {
		ticker := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if ticker == "" {
			continue
		}

		if Excluded(row.TestIssue, row.NextShares, row.SecurityName) {
			// Deactivation is idempotent: only stage a write when the
			// security is currently active.
			if cur, ok := existingByTicker[ticker]; ok && cur.IsActive {
				deactivations = append(deactivations, ticker)
			}
			continue
		}

		incoming := domain.Security{
			Ticker:   ticker,
			Name:     row.SecurityName,
			Exchange: row.Exchange(feed.DefaultExchange),
			IsETF:    row.ETF,
			IsActive: true,
		}
		// The "other listed" feed carries no category or status columns
		if !feed.HasExchangeCode {
			incoming.MarketCategory = optional(row.MarketCategory)
			incoming.FinancialStatus = optional(row.FinancialStatus)
		}

		cur, ok := existingByTicker[ticker]
		if !ok {
			creates = append(creates, incoming)
			continue
		}

		if listingChanged(cur, &incoming) {
			// Preserve the translation unless the name itself changed,
			// in which case the backfill pass re-translates it.
			if cur.Name == incoming.Name {
				incoming.NameTranslated = cur.NameTranslated
			}
			updates = append(updates, incoming)
		}
	}

	if err := r.securities.BulkCreate(creates); err != nil {
		return fmt.Errorf("failed to create securities: %w", err)
	}
	if err := r.securities.BulkUpdateListing(updates); err != nil {
		return fmt.Errorf("failed to update securities: %w", err)
	}
	for _, ticker := range deactivations {
		if err := r.securities.Deactivate(ticker); err != nil {
			return fmt.Errorf("failed to deactivate %s: %w", ticker, err)
		}
	}

	result.Created += len(creates)
	result.Updated += len(updates)
	result.Deactivated += len(deactivations)

	r.log.Info().
		Str("url", feed.URL).
		Int("rows", len(rows)).
		Int("created", len(creates)).
		Int("updated", len(updates)).
		Int("deactivated", len(deactivations)).
		Msg("Reconciled listing feed")

	return nil
}

// listingChanged compares the fixed listing field set.
func listingChanged(cur, incoming *domain.Security) bool {
	return cur.Name != incoming.Name ||
		cur.Exchange != incoming.Exchange ||
		cur.IsETF != incoming.IsETF ||
		cur.IsActive != incoming.IsActive ||
		!equalStrPtr(cur.MarketCategory, incoming.MarketCategory) ||
		!equalStrPtr(cur.FinancialStatus, incoming.FinancialStatus)
}

// backfillTranslations translates display names for securities that have
// none, in bounded chunks. A failing chunk is logged and skipped; the next
// run retries it.
func (r *Reconciler) backfillTranslations(ctx context.Context, result *Result) error {
	missing, err := r.securities.MissingTranslations()
	if err != nil {
		return fmt.Errorf("failed to load securities missing translations: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	// Deduplicate: share-class variants often repeat the same name
	seen := make(map[string]bool, len(missing))
	names := make([]string, 0, len(missing))
	for _, sec := range missing {
		if sec.Name == "" || seen[sec.Name] {
			continue
		}
		seen[sec.Name] = true
		names = append(names, sec.Name)
	}

	r.log.Info().Int("names", len(names)).Msg("Backfilling name translations")

	for start := 0; start < len(names); start += r.translateBatch {
		end := start + r.translateBatch
		if end > len(names) {
			end = len(names)
		}
		chunk := names[start:end]

		translated, err := r.translator.TranslateBatch(ctx, chunk)
		if err != nil {
			r.log.Warn().Err(err).
				Int("from", start).
				Int("to", end).
				Msg("Translation chunk failed, skipping")
			continue
		}

		translations := make(map[string]string, len(chunk))
		for i, name := range chunk {
			if i < len(translated) && translated[i] != "" {
				translations[name] = translated[i]
			}
		}

		if err := r.securities.SetTranslationsByName(translations); err != nil {
			return fmt.Errorf("failed to store translations: %w", err)
		}
		result.Translated += len(translations)
	}

	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
