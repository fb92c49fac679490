package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"marketd/internal/analysis"
	"marketd/internal/config"
	"marketd/internal/domain"
	"marketd/internal/marketcal"
	"marketd/internal/provider"
	"marketd/internal/queue"
	"marketd/internal/service"
	"marketd/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQuoteProvider struct {
	quotes map[string]domain.Quote
}

func (f *fakeQuoteProvider) Name() string { return "q1" }

func (f *fakeQuoteProvider) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

type fakeLister struct {
	codes []domain.SymbolInfo
}

func (f *fakeLister) FetchListing(ctx context.Context) ([]domain.SymbolInfo, error) {
	return f.codes, nil
}

// newTestServer wires a Server over a seeded store, a fake quote provider,
// and a weekend-pinned calendar so nothing schedules or fuses.
func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bars.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Providers.QuoteOrder = []string{"q1"}
	weekend := time.Date(2024, 6, 15, 12, 0, 0, 0, marketcal.CST)
	cal := marketcal.New(func() time.Time { return weekend })

	qp := &fakeQuoteProvider{quotes: map[string]domain.Quote{
		"600519": {Symbol: "600519", Name: "贵州茅台", Now: 1700, PrevClose: 1680},
	}}
	quotes := service.NewQuoteService([]provider.QuoteProvider{qp}, nil, nil, cfg, discard())
	bars := service.NewBarService(st, nil, quotes, nil, cfg, cal, discard())
	analyzer := analysis.NewAnalyzer(bars, discard())

	dataDir := t.TempDir()
	directory := service.NewDirectory(dataDir, &fakeLister{codes: []domain.SymbolInfo{
		{Code: "600519", Name: "贵州茅台"},
		{Code: "000001", Name: "平安银行"},
	}}, nil, discard())
	if err := directory.Refresh(context.Background()); err != nil {
		t.Fatalf("directory refresh: %v", err)
	}
	watchlist := service.NewWatchlist(dataDir, discard())

	q := queue.New(1, discard())
	t.Cleanup(func() { q.Shutdown(time.Second) })

	return NewServer(bars, quotes, analyzer, directory, watchlist, st, q, discard()), st
}

func seedBars(t *testing.T, st *store.Store, symbol string, n int) {
	t.Helper()
	bars := make([]domain.Bar, n)
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, marketcal.CST).AddDate(0, 0, -(n - 1))
	for i := 0; i < n; i++ {
		price := 1600 + float64(i)
		bars[i] = domain.Bar{
			Symbol: symbol,
			Date:   day.Format(domain.DateLayout),
			Open:   price - 5, High: price + 10, Low: price - 10, Close: price, Volume: 10000,
		}
		day = day.AddDate(0, 0, 1)
	}
	if _, err := st.Upsert(context.Background(), symbol, bars); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestBarsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedBars(t, st, "600519", 80)

	rec := doRequest(t, s, http.MethodGet, "/api/stock/600519/bars?days=90")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[BarsResponse](t, rec)
	if resp.Count != 80 || len(resp.Bars) != 80 {
		t.Errorf("count = %d, want 80", resp.Count)
	}
	if resp.Name != "贵州茅台" {
		t.Errorf("name = %q, want the directory name", resp.Name)
	}
}

func TestBarsEndpointUnknownSymbol(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/stock/999999/bars")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidSymbolIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{
		"/api/stock/abc/bars",
		"/api/stock/abc/quote",
		"/api/stock/abc/intraday",
		"/api/stock/abc/analysis",
	} {
		rec := doRequest(t, s, http.MethodGet, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestQuoteEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/stock/600519/quote")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[QuoteResponse](t, rec)
	if resp.Now != 1700 {
		t.Errorf("now = %v, want 1700", resp.Now)
	}
	if resp.ChangePct == 0 {
		t.Error("changePct should be derived from prevClose")
	}
}

func TestQuotesBatchEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/quotes?codes=600519")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[QuotesResponse](t, rec)
	if _, ok := resp.Quotes["600519"]; !ok {
		t.Errorf("quotes = %v, want 600519 present", resp.Quotes)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/quotes")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing codes: status = %d, want 400", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/search?q=%E8%8C%85%E5%8F%B0") // 茅台
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[SearchResponse](t, rec)
	if len(resp.Results) != 1 || resp.Results[0].Code != "600519" {
		t.Errorf("results = %v", resp.Results)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/search")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}
}

func TestWatchlistRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/watchlist/favorites/600519")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/watchlist")
	resp := decode[WatchlistResponse](t, rec)
	favs := resp.Groups["favorites"]
	if len(favs) != 1 || favs[0] != "600519" {
		t.Errorf("favorites = %v", favs)
	}
	if q, ok := resp.Quotes["600519"]; !ok || q.Now != 1700 {
		t.Errorf("quotes = %v, want a live quote attached for 600519", resp.Quotes)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/watchlist/favorites/600519")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove: status = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/watchlist/nope/600519")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown group: status = %d, want 400", rec.Code)
	}
}

func TestAnalysisEndpointShortHistory(t *testing.T) {
	s, st := newTestServer(t)
	seedBars(t, st, "600519", 10)

	rec := doRequest(t, s, http.MethodGet, "/api/stock/600519/analysis")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 below the minimum history", rec.Code)
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedBars(t, st, "600519", 120)
	// Analysis asks for the full history window; the latch makes the
	// 120-bar archive authoritative.
	if err := st.MarkFullHistory(context.Background(), "600519"); err != nil {
		t.Fatalf("MarkFullHistory: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/stock/600519/analysis")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decode[analysis.Report](t, rec)
	if report.Symbol != "600519" || report.BarCount != 120 {
		t.Errorf("report = %+v", report)
	}
}

func TestSyncStatsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedBars(t, st, "600519", 30)

	rec := doRequest(t, s, http.MethodGet, "/api/sync/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[SyncStatsResponse](t, rec)
	if resp.Symbols != 1 || resp.TotalRows != 30 {
		t.Errorf("stats = %+v", resp)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].Symbol != "600519" {
		t.Errorf("recent = %v", resp.Recent)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/queue/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := decode[queue.Stats](t, rec)
	if stats.Workers != 1 {
		t.Errorf("workers = %d, want 1", stats.Workers)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodOptions, "/api/health")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
