// Package domain defines the core value types shared across the engine:
// daily bars, live quotes, per-symbol sync state, and the symbol code rules
// used when talking to upstream providers.
package domain

import "time"

// DateLayout is the canonical calendar-day format used throughout the
// engine. Dates are exchange-local civil days; lexicographic comparison of
// two DateLayout strings matches chronological order.
const DateLayout = "2006-01-02"

// Bar is one trading day's OHLCV record for one symbol. Prices are
// forward-adjusted for corporate actions.
type Bar struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Quote is a live market snapshot. Ephemeral; never persisted.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Now       float64   `json:"now"`
	Open      float64   `json:"open"`
	PrevClose float64   `json:"prevClose"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	Turnover  float64   `json:"turnover"`
	Bid1      float64   `json:"bid1"`
	Ask1      float64   `json:"ask1"`
	AsOf      time.Time `json:"asOf"`
}

// ChangePct returns the percent change of the live price against the
// previous close, or 0 when the previous close is unknown.
func (q Quote) ChangePct() float64 {
	if q.PrevClose <= 0 {
		return 0
	}
	return (q.Now - q.PrevClose) / q.PrevClose * 100
}

// IndexQuote is a live snapshot of a market index.
type IndexQuote struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"changePct"`
	Time      string  `json:"time"`
}

// IntradayPoint is one minute of the current session's price curve.
type IntradayPoint struct {
	Time   string  `json:"time"`
	Price  float64 `json:"price"`
	Avg    float64 `json:"avg"`
	Volume int64   `json:"volume"`
}

// SyncState tracks how much of a symbol's history the local store holds.
// FullHistoryCompleted is a one-way latch: once the earliest upstream bar
// has been reached it never resets.
type SyncState struct {
	Symbol               string    `json:"symbol"`
	LastSyncAt           time.Time `json:"lastSyncAt"`
	FirstBarDate         string    `json:"firstBarDate"`
	LastBarDate          string    `json:"lastBarDate"`
	BarCount             int       `json:"barCount"`
	FullHistoryCompleted bool      `json:"fullHistoryCompleted"`
}

// SymbolInfo pairs a symbol code with its display name.
type SymbolInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
