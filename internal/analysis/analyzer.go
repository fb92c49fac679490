package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"marketd/internal/domain"
)

// Default analyzer settings. An analysis needs at least MinBars closes to
// say anything useful; the deepest indicator window is MultiLine's 114.
const (
	MinBars     = 60
	historyDays = 3650
	defaultSize = 50
	defaultTTL  = 5 * time.Minute
)

// BarSource supplies daily bars; in production it is the bar service.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, days int, withLive bool) ([]domain.Bar, error)
}

// Report is one symbol's computed indicator snapshot.
type Report struct {
	Symbol      string          `json:"symbol"`
	Date        string          `json:"date"`
	LatestPrice float64         `json:"latestPrice"`
	BarCount    int             `json:"barCount"`
	MA5         float64         `json:"ma5"`
	MA10        float64         `json:"ma10"`
	MA20        float64         `json:"ma20"`
	MA60        float64         `json:"ma60"`
	K           float64         `json:"kdjK"`
	D           float64         `json:"kdjD"`
	J           float64         `json:"kdjJ"`
	MACD        float64         `json:"macd"`
	MACDSignal  float64         `json:"macdSignal"`
	MACDHist    float64         `json:"macdHist"`
	BBI         float64         `json:"bbi"`
	Trend       float64         `json:"trend"`
	Multi       float64         `json:"multi"`
	Signals     map[string]bool `json:"signals"`
	Score       int             `json:"score"`
}

// Analyzer computes and caches indicator reports.
type Analyzer struct {
	source BarSource
	cache  *Cache
	log    *slog.Logger
}

// NewAnalyzer creates an Analyzer over the given bar source.
func NewAnalyzer(source BarSource, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		source: source,
		cache:  NewCache(defaultSize, defaultTTL),
		log:    log,
	}
}

// Cache exposes the report cache, mainly so tests can pin its clock.
func (a *Analyzer) Cache() *Cache { return a.cache }

// Analyze returns the indicator report for symbol, serving from cache when
// a fresh entry exists. It pulls the full archived history (no live fusion;
// indicators want settled bars).
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*Report, error) {
	if r := a.cache.Get(symbol); r != nil {
		a.log.Debug("analysis cache hit", "symbol", symbol)
		return r, nil
	}

	bars, err := a.source.GetBars(ctx, symbol, historyDays, false)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", symbol, err)
	}
	if len(bars) < MinBars {
		return nil, fmt.Errorf("analyzing %s: %d bars, need %d", symbol, len(bars), MinBars)
	}

	r := Compute(symbol, bars)
	a.cache.Set(symbol, r)
	a.log.Info("analysis computed", "symbol", symbol, "bars", len(bars), "score", r.Score)
	return r, nil
}

// Compute builds a Report from ascending daily bars.
func Compute(symbol string, bars []domain.Bar) *Report {
	n := len(bars)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i] = b.High, b.Low, b.Close
	}

	ma5 := SMA(closes, 5)
	ma10 := SMA(closes, 10)
	ma20 := SMA(closes, 20)
	ma60 := SMA(closes, 60)
	k, d, j := KDJ(high, low, closes, 9, 3, 3)
	macd, sig, hist := MACD(closes, 12, 26, 9)
	bbi := BBI(closes)
	trend := TrendLine(closes)
	multi := MultiLine(closes)

	last := n - 1
	r := &Report{
		Symbol:      symbol,
		Date:        bars[last].Date,
		LatestPrice: closes[last],
		BarCount:    n,
		MA5:         zeroNaN(ma5[last]),
		MA10:        zeroNaN(ma10[last]),
		MA20:        zeroNaN(ma20[last]),
		MA60:        zeroNaN(ma60[last]),
		K:           zeroNaN(k[last]),
		D:           zeroNaN(d[last]),
		J:           zeroNaN(j[last]),
		MACD:        zeroNaN(macd[last]),
		MACDSignal:  zeroNaN(sig[last]),
		MACDHist:    zeroNaN(hist[last]),
		BBI:         zeroNaN(bbi[last]),
		Trend:       zeroNaN(trend[last]),
		Multi:       zeroNaN(multi[last]),
	}
	r.Signals = signals(closes[last], k[last], d[last], macd[last], sig[last], hist[last], bbi[last], trend[last])
	r.Score = score(r.Signals)
	return r
}

// signals derives the buy/sell flags from the latest indicator values.
func signals(close, k, d, macd, sig, hist, bbi, trend float64) map[string]bool {
	s := make(map[string]bool)
	if !math.IsNaN(k) && !math.IsNaN(d) {
		s["kdj_buy"] = k < 20 && d < 20 && k > d
		s["kdj_sell"] = k > 80 && d > 80 && k < d
	}
	if !math.IsNaN(bbi) {
		s["bbi_buy"] = close > bbi*1.02
		s["bbi_sell"] = close < bbi*0.98
	}
	if !math.IsNaN(macd) && !math.IsNaN(sig) {
		s["macd_buy"] = macd > sig && hist > 0
		s["macd_sell"] = macd < sig && hist < 0
	}
	if !math.IsNaN(trend) {
		s["trend_buy"] = close > trend
		s["trend_sell"] = close < trend
	}
	return s
}

// score folds the signals into a 0–100 rating around a neutral 50. Trend
// carries the most weight, oscillators the least.
func score(signals map[string]bool) int {
	weights := map[string]int{
		"trend": 25,
		"bbi":   22,
		"macd":  20,
		"kdj":   18,
	}
	total := 50
	for key, on := range signals {
		if !on {
			continue
		}
		for family, w := range weights {
			if !strings.HasPrefix(key, family+"_") {
				continue
			}
			if strings.HasSuffix(key, "_buy") {
				total += w
			} else {
				total -= w
			}
		}
	}
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
