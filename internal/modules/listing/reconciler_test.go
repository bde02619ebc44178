package listing

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ericincode/my-investment-assets/internal/clients/nasdaq"
	"github.com/Ericincode/my-investment-assets/internal/config"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	testdb "github.com/Ericincode/my-investment-assets/internal/testing"
)

type fakeSource struct {
	rows map[string][]nasdaq.ListingRow
	errs map[string]error
}

func (f *fakeSource) FetchListings(_ context.Context, feedURL string) ([]nasdaq.ListingRow, error) {
	if err := f.errs[feedURL]; err != nil {
		return nil, err
	}
	return f.rows[feedURL], nil
}

type fakeTranslator struct {
	prefix string
	err    error
	calls  int
}

func (f *fakeTranslator) TranslateBatch(_ context.Context, texts []string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = f.prefix + text
	}
	return out, nil
}

func setupReconciler(t *testing.T, source *fakeSource, translator *fakeTranslator, feeds []config.ListingFeed) (*Reconciler, *universe.SecurityRepository) {
	t.Helper()

	db, cleanup := testdb.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := universe.NewSecurityRepository(db.Conn(), log)

	return NewReconciler(repo, source, translator, feeds, 100, log), repo
}

var nasdaqFeed = config.ListingFeed{URL: "nasdaq", DefaultExchange: "NASDAQ"}
var otherFeed = config.ListingFeed{URL: "other", DefaultExchange: "NYSE", HasExchangeCode: true}

func TestReconcilerCreatesFromFeeds(t *testing.T) {
	source := &fakeSource{rows: map[string][]nasdaq.ListingRow{
		"nasdaq": {
			{Symbol: "AAPL", SecurityName: "Apple Inc. - Common Stock", MarketCategory: "Q", FinancialStatus: "N"},
			{Symbol: "ZTST", SecurityName: "Nasdaq Test Issue", TestIssue: true},
		},
		"other": {
			{Symbol: "IBM", SecurityName: "International Business Machines", ExchangeCode: "N"},
			{Symbol: "SPY", SecurityName: "SPDR S&P 500 ETF Trust", ExchangeCode: "P", ETF: true},
		},
	}}
	translator := &fakeTranslator{prefix: "zh:"}

	rec, repo := setupReconciler(t, source, translator, []config.ListingFeed{nasdaqFeed, otherFeed})

	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.FeedErrors)
	assert.Equal(t, 3, result.Translated)

	aapl, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.Equal(t, "NASDAQ", aapl.Exchange)
	require.NotNil(t, aapl.MarketCategory)
	assert.Equal(t, "Q", *aapl.MarketCategory)
	require.NotNil(t, aapl.NameTranslated)
	assert.Equal(t, "zh:Apple Inc. - Common Stock", *aapl.NameTranslated)

	// Test issue never entered the store
	ztst, err := repo.GetByTicker("ZTST")
	require.NoError(t, err)
	assert.Nil(t, ztst)

	// Exchange code resolution for the other-listed feed
	ibm, err := repo.GetByTicker("IBM")
	require.NoError(t, err)
	require.NotNil(t, ibm)
	assert.Equal(t, "NYSE", ibm.Exchange)

	spy, err := repo.GetByTicker("SPY")
	require.NoError(t, err)
	require.NotNil(t, spy)
	assert.Equal(t, "NYSE_ARCA", spy.Exchange)
	assert.True(t, spy.IsETF)
}

func TestReconcilerUpdatesOnlyOnChange(t *testing.T) {
	source := &fakeSource{rows: map[string][]nasdaq.ListingRow{
		"nasdaq": {
			{Symbol: "AAPL", SecurityName: "Apple Inc. - Common Stock"},
		},
	}}
	translator := &fakeTranslator{prefix: "zh:"}

	rec, repo := setupReconciler(t, source, translator, []config.ListingFeed{nasdaqFeed})

	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	// Identical second run stages nothing
	result, err = rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Deactivated)

	// Name change stages an update and clears the translation for backfill
	source.rows["nasdaq"][0].SecurityName = "Apple Incorporated - Common Stock"
	result, err = rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	aapl, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Incorporated - Common Stock", aapl.Name)
	require.NotNil(t, aapl.NameTranslated)
	assert.Equal(t, "zh:Apple Incorporated - Common Stock", *aapl.NameTranslated)
}

func TestReconcilerDeactivatesExcluded(t *testing.T) {
	source := &fakeSource{rows: map[string][]nasdaq.ListingRow{
		"nasdaq": {
			{Symbol: "ACME", SecurityName: "Acme Corp - Common Stock"},
		},
	}}
	translator := &fakeTranslator{}

	rec, repo := setupReconciler(t, source, translator, []config.ListingFeed{nasdaqFeed})

	_, err := rec.Run(context.Background())
	require.NoError(t, err)

	// The listing now reclassifies ACME as a test issue
	source.rows["nasdaq"][0].TestIssue = true

	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)

	// Second pass is idempotent: already inactive, nothing staged
	result, err = rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deactivated)

	acme, err := repo.GetByTicker("ACME")
	require.NoError(t, err)
	require.NotNil(t, acme)
	assert.False(t, acme.IsActive)
}

func TestReconcilerIsolatesFeedFailures(t *testing.T) {
	source := &fakeSource{
		rows: map[string][]nasdaq.ListingRow{
			"other": {{Symbol: "IBM", SecurityName: "International Business Machines", ExchangeCode: "N"}},
		},
		errs: map[string]error{"nasdaq": fmt.Errorf("connection refused")},
	}
	translator := &fakeTranslator{}

	rec, repo := setupReconciler(t, source, translator, []config.ListingFeed{nasdaqFeed, otherFeed})

	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FeedErrors)
	assert.Equal(t, 1, result.Created)

	ibm, err := repo.GetByTicker("IBM")
	require.NoError(t, err)
	assert.NotNil(t, ibm)
}

func TestReconcilerSkipsFailedTranslationChunks(t *testing.T) {
	source := &fakeSource{rows: map[string][]nasdaq.ListingRow{
		"nasdaq": {{Symbol: "AAPL", SecurityName: "Apple Inc. - Common Stock"}},
	}}
	translator := &fakeTranslator{err: fmt.Errorf("quota exceeded")}

	rec, repo := setupReconciler(t, source, translator, []config.ListingFeed{nasdaqFeed})

	result, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Translated)

	aapl, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	assert.Nil(t, aapl.NameTranslated)

	// Next run retries the untranslated names
	translator.err = nil
	translator.prefix = "zh:"
	result, err = rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Translated)
}
