package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ericincode/my-investment-assets/internal/domain"
	syncmod "github.com/Ericincode/my-investment-assets/internal/modules/sync"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	"github.com/Ericincode/my-investment-assets/internal/queue"
	testdb "github.com/Ericincode/my-investment-assets/internal/testing"
)

type blockedUpdater struct{}

func (blockedUpdater) UpdateTicker(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type testEnv struct {
	srv        *Server
	securities *universe.SecurityRepository
	prices     *universe.PriceRepository
	queue      *queue.Queue
	syncBusy   bool
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	db, cleanup := testdb.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	secRepo := universe.NewSecurityRepository(db.Conn(), log)
	priceRepo := universe.NewPriceRepository(db.Conn(), log)

	// Worker never started: jobs stay pending so handlers are observable
	q := queue.New(blockedUpdater{}, 8, log)

	env := &testEnv{securities: secRepo, prices: priceRepo, queue: q}
	env.srv = New(Config{
		Log:        log,
		DB:         db,
		Securities: secRepo,
		Prices:     priceRepo,
		Queue:      q,
		TriggerSync: func() error {
			if env.syncBusy {
				return syncmod.ErrRunInProgress
			}
			return nil
		},
		BenchmarkTicker: "QQQ",
		Port:            0,
		DevMode:         true,
	})

	return env
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func seedSecurities(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, env.securities.BulkCreate([]domain.Security{
		{Ticker: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", IsActive: true},
		{Ticker: "QQQ", Name: "Invesco QQQ Trust", Exchange: "NASDAQ", IsETF: true, IsActive: true},
	}))
}

func TestSearchShortQueryReturnsEmptyList(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	rec := env.get(t, "/api/stocks/search?q=a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSearch(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	rec := env.get(t, "/api/stocks/search?q=apple")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []map[string]interface{}
	decodeJSON(t, rec, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "AAPL", results[0]["ticker"])
}

func TestDetailUnknownTicker(t *testing.T) {
	env := setupServer(t)

	rec := env.get(t, "/api/stocks/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "security not found", body["error"])
}

func TestDetailWithoutHistoryEnqueuesFetch(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	rec := env.get(t, "/api/stocks/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Ticker      string        `json:"ticker"`
		Downloading bool          `json:"downloading"`
		Historical  []interface{} `json:"historical"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "AAPL", body.Ticker)
	assert.True(t, body.Downloading)
	assert.Empty(t, body.Historical)

	// The handler handed off to the queue instead of fetching itself
	assert.True(t, env.queue.Pending("AAPL"))

	// And bumped the popularity counter
	sec, err := env.securities.GetByTicker("AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sec.QueryCount)
}

func TestDetailWithHistory(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	_, err := env.prices.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: "2025-01-02", Close: 100},
		{Date: "2025-01-03", Close: 101},
		{Date: "2025-01-06", Close: 102},
	})
	require.NoError(t, err)

	rec := env.get(t, "/api/stocks/AAPL?range=MAX")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Downloading bool `json:"downloading"`
		Historical  []struct {
			Date  string  `json:"date"`
			Close float64 `json:"close"`
		} `json:"historical"`
	}
	decodeJSON(t, rec, &body)
	assert.False(t, body.Downloading)
	require.Len(t, body.Historical, 3)

	// Chronological order for charting
	assert.Equal(t, "2025-01-02", body.Historical[0].Date)
	assert.Equal(t, "2025-01-06", body.Historical[2].Date)

	assert.False(t, env.queue.Pending("AAPL"))
}

func TestStatus(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	rec := env.get(t, "/api/stocks/AAPL/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeJSON(t, rec, &body)
	assert.Equal(t, false, body["has_data"])
	assert.Equal(t, float64(0), body["record_count"])
	assert.Nil(t, body["latest_date"])
	assert.Equal(t, false, body["downloading"])

	_, err := env.prices.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: "2025-01-02", Close: 100},
	})
	require.NoError(t, err)

	rec = env.get(t, "/api/stocks/AAPL/status")
	decodeJSON(t, rec, &body)
	assert.Equal(t, true, body["has_data"])
	assert.Equal(t, float64(1), body["record_count"])
	assert.Equal(t, "2025-01-02", body["latest_date"])
}

func TestRatio(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	_, err := env.prices.InsertDailyPrices("AAPL", []domain.DailyPrice{
		{Date: "2025-01-02", Close: 100},
		{Date: "2025-01-03", Close: 110},
		{Date: "2025-01-06", Close: 120}, // no benchmark close this day
	})
	require.NoError(t, err)
	_, err = env.prices.InsertDailyPrices("QQQ", []domain.DailyPrice{
		{Date: "2025-01-02", Close: 400},
		{Date: "2025-01-03", Close: 440},
	})
	require.NoError(t, err)

	rec := env.get(t, "/api/stocks/AAPL/ratio")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Benchmark string `json:"benchmark"`
		RatioData []struct {
			Date  string  `json:"date"`
			Ratio float64 `json:"ratio"`
		} `json:"ratio_data"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "QQQ", body.Benchmark)
	require.Len(t, body.RatioData, 2)
	assert.Equal(t, "2025-01-02", body.RatioData[0].Date)
	assert.InDelta(t, 0.25, body.RatioData[0].Ratio, 1e-9)
	assert.InDelta(t, 0.25, body.RatioData[1].Ratio, 1e-9)
}

func TestTop(t *testing.T) {
	env := setupServer(t)
	seedSecurities(t, env)

	cap := int64(1000)
	require.NoError(t, env.securities.UpdateSnapshot("AAPL", nil, &cap))
	require.NoError(t, env.securities.UpdateSnapshot("QQQ", nil, &cap))

	low, high := 0.1, 0.9
	require.NoError(t, env.securities.UpdateReturns("AAPL", domain.Returns{Y5: &low}))
	require.NoError(t, env.securities.UpdateReturns("QQQ", domain.Returns{Y5: &high}))

	rec := env.get(t, "/api/stocks/top?sort=return_5y")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []map[string]interface{}
	decodeJSON(t, rec, &results)
	require.Len(t, results, 2)
	assert.Equal(t, "QQQ", results[0]["ticker"])
}

func TestTriggerSync(t *testing.T) {
	env := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/run", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	env.syncBusy = true
	req = httptest.NewRequest(http.MethodPost, "/api/sync/run", nil)
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	env := setupServer(t)

	rec := env.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
