package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"marketd/internal/analysis"
	"marketd/internal/domain"
	"marketd/internal/queue"
	"marketd/internal/service"
	"marketd/internal/store"
)

// Request bounds. Bars are capped at ten years; search results at one page.
const (
	defaultBarDays     = 90
	maxBarDays         = 3650
	maxSearchHits      = 50
	maxWatchlistQuotes = 50
)

// Server serves the market data REST API.
type Server struct {
	bars      *service.BarService
	quotes    *service.QuoteService
	analyzer  *analysis.Analyzer
	directory *service.Directory
	watchlist *service.Watchlist
	store     *store.Store
	queue     *queue.Queue
	log       *slog.Logger
}

// NewServer creates the API server over the wired services.
func NewServer(
	bars *service.BarService,
	quotes *service.QuoteService,
	analyzer *analysis.Analyzer,
	directory *service.Directory,
	watchlist *service.Watchlist,
	st *store.Store,
	q *queue.Queue,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		bars:      bars,
		quotes:    quotes,
		analyzer:  analyzer,
		directory: directory,
		watchlist: watchlist,
		store:     st,
		queue:     q,
		log:       log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stock/{code}/bars", s.handleBars)
	mux.HandleFunc("GET /api/stock/{code}/quote", s.handleQuote)
	mux.HandleFunc("GET /api/stock/{code}/intraday", s.handleIntraday)
	mux.HandleFunc("GET /api/stock/{code}/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/quotes", s.handleQuotes)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/market/indices", s.handleIndices)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("POST /api/watchlist/{group}/{code}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{group}/{code}", s.handleRemoveWatchlist)
	mux.HandleFunc("GET /api/sync/stats", s.handleSyncStats)
	mux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeLookupError maps a symbol-lookup failure: a malformed code is the
// caller's fault, anything else reads as no data for the symbol.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidSymbol) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusNotFound, err.Error())
}

// parseDays extracts the "days" query param, clamped to the request bounds.
func parseDays(r *http.Request) int {
	s := r.URL.Query().Get("days")
	if s == "" {
		return defaultBarDays
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultBarDays
	}
	if n > maxBarDays {
		return maxBarDays
	}
	return n
}

func parseBool(r *http.Request, key string) bool {
	switch r.URL.Query().Get(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	days := parseDays(r)
	live := parseBool(r, "live")

	bars, err := s.bars.GetBars(r.Context(), code, days, live)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	resp := BarsResponse{
		Symbol: code,
		Days:   days,
		Live:   live,
		Count:  len(bars),
		Bars:   bars,
	}
	if len(bars) > 0 {
		resp.Symbol = bars[0].Symbol
	}
	if s.directory != nil {
		resp.Name = s.directory.Name(resp.Symbol)
	}
	writeJSON(w, resp)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.GetQuote(r.Context(), r.PathValue("code"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, toQuoteResponse(q))
}

func (s *Server) handleIntraday(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	points, err := s.quotes.GetIntraday(r.Context(), code)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	resp := IntradayResponse{Symbol: code, Points: points}
	// The quote header is best-effort; the curve alone is still useful.
	if q, err := s.quotes.GetQuote(r.Context(), code); err == nil {
		resp.Quote = toQuoteResponse(q)
		resp.Symbol = q.Symbol
	}
	writeJSON(w, resp)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	report, err := s.analyzer.Analyze(r.Context(), r.PathValue("code"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("codes")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "codes required")
		return
	}
	var codes []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}

	quotes, err := s.quotes.GetQuoteBatch(r.Context(), codes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make(map[string]QuoteResponse, len(quotes))
	for sym := range quotes {
		q := quotes[sym]
		out[sym] = QuoteResponse{Quote: q, ChangePct: q.ChangePct()}
	}
	writeJSON(w, QuotesResponse{Quotes: out})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit := 20
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= maxSearchHits {
		limit = n
	}

	results := s.directory.Search(q, limit)
	if results == nil {
		results = []domain.SymbolInfo{}
	}
	writeJSON(w, SearchResponse{Query: q, Results: results})
}

func (s *Server) handleIndices(w http.ResponseWriter, r *http.Request) {
	indices, err := s.quotes.MarketIndices(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, IndicesResponse{Indices: indices})
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	groups := s.watchlist.Groups()
	resp := WatchlistResponse{Groups: groups}

	// Attach live quotes, best-effort and capped at one provider batch.
	var symbols []string
	seen := make(map[string]bool)
	for _, syms := range groups {
		for _, sym := range syms {
			if !seen[sym] && len(symbols) < maxWatchlistQuotes {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	if len(symbols) > 0 {
		if quotes, err := s.quotes.GetQuoteBatch(r.Context(), symbols); err == nil && len(quotes) > 0 {
			resp.Quotes = make(map[string]QuoteResponse, len(quotes))
			for sym := range quotes {
				q := quotes[sym]
				resp.Quotes[sym] = QuoteResponse{Quote: q, ChangePct: q.ChangePct()}
			}
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	code := r.PathValue("code")
	if err := s.watchlist.Add(group, code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	code := r.PathValue("code")
	if err := s.watchlist.Remove(group, code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading archive stats failed")
		return
	}

	resp := SyncStatsResponse{
		Symbols:   stats.Symbols,
		TotalRows: stats.TotalRows,
		SizeBytes: stats.SizeBytes,
		Recent:    []SyncSymbolJSON{},
	}
	symbols, err := s.store.CachedSymbols(r.Context())
	if err == nil {
		for _, sym := range symbols {
			st, err := s.store.SyncState(r.Context(), sym)
			if err != nil || st == nil {
				continue
			}
			resp.Recent = append(resp.Recent, SyncSymbolJSON{
				Symbol:               st.Symbol,
				LastSyncAt:           st.LastSyncAt.Format("2006-01-02 15:04:05"),
				FirstBarDate:         st.FirstBarDate,
				LastBarDate:          st.LastBarDate,
				BarCount:             st.BarCount,
				FullHistoryCompleted: st.FullHistoryCompleted,
			})
			if len(resp.Recent) >= 20 {
				break
			}
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.queue.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %v", err))
		return
	}
	writeJSON(w, HealthResponse{Status: "ok", Symbols: stats.Symbols})
}
