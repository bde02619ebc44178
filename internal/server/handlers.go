package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/database"
	"github.com/Ericincode/my-investment-assets/internal/domain"
	syncmod "github.com/Ericincode/my-investment-assets/internal/modules/sync"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	"github.com/Ericincode/my-investment-assets/internal/queue"
)

// searchLimit caps search results.
const searchLimit = 10

// topLimit caps the top-performers list.
const topLimit = 20

// rangeBars maps the detail range parameter to a trading-day count.
// MAX (or anything unknown) returns the full series.
var rangeBars = map[string]int{
	"1M":  21,
	"6M":  126,
	"1Y":  252,
	"5Y":  1260,
	"10Y": 2520,
}

// HandlersConfig holds handler dependencies
type HandlersConfig struct {
	Log             zerolog.Logger
	DB              *database.DB
	Securities      *universe.SecurityRepository
	Prices          *universe.PriceRepository
	Queue           *queue.Queue
	TriggerSync     func() error
	BenchmarkTicker string
}

// Handlers contains the HTTP handlers for the query API
type Handlers struct {
	log         zerolog.Logger
	db          *database.DB
	securities  *universe.SecurityRepository
	prices      *universe.PriceRepository
	queue       *queue.Queue
	triggerSync func() error
	benchmark   string
}

// NewHandlers creates the API handlers
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		log:         cfg.Log.With().Str("component", "handlers").Logger(),
		db:          cfg.DB,
		securities:  cfg.Securities,
		prices:      cfg.Prices,
		queue:       cfg.Queue,
		triggerSync: cfg.TriggerSync,
		benchmark:   cfg.BenchmarkTicker,
	}
}

// Search handles GET /api/stocks/search?q=
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < 2 {
		respondJSON(w, http.StatusOK, []searchResult{})
		return
	}

	securities, err := h.securities.Search(query, searchLimit)
	if err != nil {
		h.serverError(w, err, "search failed")
		return
	}

	results := make([]searchResult, 0, len(securities))
	for _, sec := range securities {
		results = append(results, searchResult{
			Ticker:         sec.Ticker,
			Name:           sec.Name,
			NameTranslated: sec.NameTranslated,
		})
	}

	respondJSON(w, http.StatusOK, results)
}

type searchResult struct {
	Ticker         string  `json:"ticker"`
	Name           string  `json:"name"`
	NameTranslated *string `json:"name_translated,omitempty"`
}

// Detail handles GET /api/stocks/{ticker}?range=1Y
func (h *Handlers) Detail(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	sec, err := h.securities.GetByTicker(ticker)
	if err != nil {
		h.serverError(w, err, "failed to load security")
		return
	}
	if sec == nil {
		respondError(w, http.StatusNotFound, "security not found")
		return
	}

	if err := h.securities.IncrementQueryCounts([]string{sec.Ticker}, time.Now()); err != nil {
		h.log.Warn().Err(err).Str("ticker", sec.Ticker).Msg("Failed to bump query counter")
	}

	limit := rangeBars[strings.ToUpper(r.URL.Query().Get("range"))]
	history, err := h.prices.RecentCloses(sec.Ticker, limit)
	if err != nil {
		h.serverError(w, err, "failed to load price history")
		return
	}

	resp := detailResponse{
		Ticker:         sec.Ticker,
		Name:           sec.Name,
		NameTranslated: sec.NameTranslated,
		Exchange:       sec.Exchange,
		IsETF:          sec.IsETF,
		Price:          sec.Price,
		MarketCap:      sec.MarketCap,
		Returns:        sec.Returns,
		Historical:     []historicalPoint{},
	}

	if len(history) == 0 {
		// Hand off to the fetch queue; the handler itself never fetches
		if _, _, err := h.queue.Enqueue(sec.Ticker); err != nil {
			h.log.Warn().Err(err).Str("ticker", sec.Ticker).Msg("Failed to enqueue fetch request")
		}
		resp.Downloading = true
	} else {
		// RecentCloses is newest-first; charts want chronological order
		resp.Historical = make([]historicalPoint, len(history))
		for i, p := range history {
			resp.Historical[len(history)-1-i] = historicalPoint{Date: p.Date, Close: p.Close}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

type detailResponse struct {
	Ticker         string            `json:"ticker"`
	Name           string            `json:"name"`
	NameTranslated *string           `json:"name_translated,omitempty"`
	Exchange       string            `json:"exchange"`
	IsETF          bool              `json:"is_etf"`
	Price          *float64          `json:"price"`
	MarketCap      *int64            `json:"market_cap"`
	Returns        domain.Returns    `json:"returns"`
	Historical     []historicalPoint `json:"historical"`
	Downloading    bool              `json:"downloading"`
}

type historicalPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// Status handles GET /api/stocks/{ticker}/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	sec, err := h.securities.GetByTicker(ticker)
	if err != nil {
		h.serverError(w, err, "failed to load security")
		return
	}
	if sec == nil {
		respondError(w, http.StatusNotFound, "security not found")
		return
	}

	count, err := h.prices.CountForTicker(sec.Ticker)
	if err != nil {
		h.serverError(w, err, "failed to count price history")
		return
	}

	latest, err := h.prices.LatestDate(sec.Ticker)
	if err != nil {
		h.serverError(w, err, "failed to read latest date")
		return
	}

	resp := map[string]interface{}{
		"ticker":       sec.Ticker,
		"has_data":     count > 0,
		"record_count": count,
		"latest_date":  nil,
		"downloading":  h.queue.Pending(sec.Ticker),
	}
	if latest != "" {
		resp["latest_date"] = latest
	}

	respondJSON(w, http.StatusOK, resp)
}

// Ratio handles GET /api/stocks/{ticker}/ratio — the security's close divided
// by the benchmark's close on every common trading date.
func (h *Handlers) Ratio(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	sec, err := h.securities.GetByTicker(ticker)
	if err != nil {
		h.serverError(w, err, "failed to load security")
		return
	}
	if sec == nil {
		respondError(w, http.StatusNotFound, "security not found")
		return
	}

	benchmark := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("benchmark")))
	if benchmark == "" {
		benchmark = h.benchmark
	}

	secPrices, err := h.prices.ClosesAscending(sec.Ticker)
	if err != nil {
		h.serverError(w, err, "failed to load price history")
		return
	}

	benchPrices, err := h.prices.ClosesAscending(benchmark)
	if err != nil {
		h.serverError(w, err, "failed to load benchmark history")
		return
	}

	benchByDate := make(map[string]float64, len(benchPrices))
	for _, p := range benchPrices {
		benchByDate[p.Date] = p.Close
	}

	ratios := make([]ratioPoint, 0, len(secPrices))
	for _, p := range secPrices {
		benchClose, ok := benchByDate[p.Date]
		if !ok || benchClose <= 0 {
			continue
		}
		ratios = append(ratios, ratioPoint{Date: p.Date, Ratio: p.Close / benchClose})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":     sec.Ticker,
		"benchmark":  benchmark,
		"ratio_data": ratios,
	})
}

type ratioPoint struct {
	Date  string  `json:"date"`
	Ratio float64 `json:"ratio"`
}

// Top handles GET /api/stocks/top?sort=return_5y
func (h *Handlers) Top(w http.ResponseWriter, r *http.Request) {
	sort := r.URL.Query().Get("sort")

	securities, err := h.securities.TopByReturn(sort, topLimit)
	if err != nil {
		h.serverError(w, err, "failed to load top securities")
		return
	}
	if securities == nil {
		securities = []domain.Security{}
	}

	respondJSON(w, http.StatusOK, securities)
}

// TriggerSync handles POST /api/sync/run
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.triggerSync == nil {
		respondError(w, http.StatusNotImplemented, "sync trigger not configured")
		return
	}

	if err := h.triggerSync(); err != nil {
		if errors.Is(err, syncmod.ErrRunInProgress) {
			respondError(w, http.StatusConflict, "sync run already in progress")
			return
		}
		h.serverError(w, err, "failed to start sync run")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Health handles GET /api/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.QuickCheck(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) serverError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	respondError(w, http.StatusInternalServerError, msg)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
