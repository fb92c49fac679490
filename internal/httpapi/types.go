// Package httpapi provides the REST surface of the market data engine:
// bars, quotes, intraday curves, analysis reports, search, watchlist, and
// operational stats, all as JSON.
package httpapi

import (
	"marketd/internal/domain"
)

// BarsResponse holds a symbol's daily bars.
type BarsResponse struct {
	Symbol string       `json:"symbol"`
	Name   string       `json:"name,omitempty"`
	Days   int          `json:"days"`
	Live   bool         `json:"live"`
	Count  int          `json:"count"`
	Bars   []domain.Bar `json:"bars"`
}

// QuoteResponse is a live quote plus the derived change percentage.
type QuoteResponse struct {
	domain.Quote
	ChangePct float64 `json:"changePct"`
}

// IntradayResponse holds the current session's minute curve, with the live
// quote attached when available.
type IntradayResponse struct {
	Symbol string                 `json:"symbol"`
	Quote  *QuoteResponse         `json:"quote,omitempty"`
	Points []domain.IntradayPoint `json:"points"`
}

// QuotesResponse maps symbol codes to live quotes for the batch endpoint.
type QuotesResponse struct {
	Quotes map[string]QuoteResponse `json:"quotes"`
}

// SearchResponse lists directory matches for a query.
type SearchResponse struct {
	Query   string              `json:"query"`
	Results []domain.SymbolInfo `json:"results"`
}

// IndicesResponse lists the market index snapshot set.
type IndicesResponse struct {
	Indices []domain.IndexQuote `json:"indices"`
}

// WatchlistResponse holds every watchlist group and its symbols, with live
// quotes attached for the symbols a provider answered for.
type WatchlistResponse struct {
	Groups map[string][]string      `json:"groups"`
	Quotes map[string]QuoteResponse `json:"quotes,omitempty"`
}

// SyncSymbolJSON is one symbol's archive state in the sync stats response.
type SyncSymbolJSON struct {
	Symbol               string `json:"symbol"`
	LastSyncAt           string `json:"lastSyncAt"`
	FirstBarDate         string `json:"firstBarDate"`
	LastBarDate          string `json:"lastBarDate"`
	BarCount             int    `json:"barCount"`
	FullHistoryCompleted bool   `json:"fullHistoryCompleted"`
}

// SyncStatsResponse summarizes the bar archive.
type SyncStatsResponse struct {
	Symbols   int              `json:"symbols"`
	TotalRows int              `json:"totalRows"`
	SizeBytes int64            `json:"sizeBytes"`
	Recent    []SyncSymbolJSON `json:"recent"`
}

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Symbols int    `json:"symbols"`
}

func toQuoteResponse(q *domain.Quote) *QuoteResponse {
	if q == nil {
		return nil
	}
	return &QuoteResponse{Quote: *q, ChangePct: q.ChangePct()}
}
