package analysis

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"marketd/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	got := SMA(values, 3)

	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Error("warm-up positions should be NaN")
	}
	if !almostEqual(got[2], 2) || !almostEqual(got[3], 3) || !almostEqual(got[4], 4) {
		t.Errorf("SMA = %v", got)
	}
}

func TestSMAShortSeries(t *testing.T) {
	got := SMA([]float64{1, 2}, 5)
	for _, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("SMA on short series = %v, want all NaN", got)
		}
	}
}

func TestEMASeedsWithFirstValue(t *testing.T) {
	values := []float64{10, 11, 12}
	got := EMA(values, 3) // alpha = 0.5

	if !almostEqual(got[0], 10) {
		t.Errorf("EMA[0] = %v, want seed 10", got[0])
	}
	if !almostEqual(got[1], 10.5) {
		t.Errorf("EMA[1] = %v, want 10.5", got[1])
	}
	if !almostEqual(got[2], 11.25) {
		t.Errorf("EMA[2] = %v, want 11.25", got[2])
	}
}

func TestKDJ(t *testing.T) {
	n := 20
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		high[i], low[i], closes[i] = base+1, base-1, base
	}

	k, d, j := KDJ(high, low, closes, 9, 3, 3)

	if !math.IsNaN(k[7]) {
		t.Error("K before the RSV window should be NaN")
	}
	// Monotonic rise keeps the close at the top of the window: RSV high, so
	// K > D and J above both.
	last := n - 1
	if k[last] < 80 {
		t.Errorf("K = %v, want strongly overbought on a straight rise", k[last])
	}
	if !(j[last] > k[last] && k[last] > d[last]) {
		t.Errorf("expected J > K > D, got J=%v K=%v D=%v", j[last], k[last], d[last])
	}
}

func TestMACDSignOnTrend(t *testing.T) {
	n := 60
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100 + float64(i)
	}
	macd, sig, hist := MACD(closes, 12, 26, 9)

	last := n - 1
	if macd[last] <= 0 {
		t.Errorf("MACD = %v, want positive on an uptrend", macd[last])
	}
	if !almostEqual(hist[last], macd[last]-sig[last]) {
		t.Errorf("hist = %v, want macd-signal", hist[last])
	}
}

func TestBBIIsMeanOfMAs(t *testing.T) {
	n := 30
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = float64(10 + i%3)
	}
	bbi := BBI(closes)
	want := (SMA(closes, 3)[n-1] + SMA(closes, 6)[n-1] + SMA(closes, 12)[n-1] + SMA(closes, 24)[n-1]) / 4
	if !almostEqual(bbi[n-1], want) {
		t.Errorf("BBI = %v, want %v", bbi[n-1], want)
	}
}

func makeBars(n int, start float64, step float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		bars[i] = domain.Bar{
			Symbol: "600519",
			Date:   day.Format("2006-01-02"),
			Open:   c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

func TestComputeReport(t *testing.T) {
	bars := makeBars(150, 100, 0.5)
	r := Compute("600519", bars)

	if r.Symbol != "600519" || r.BarCount != 150 {
		t.Errorf("report = %+v", r)
	}
	if r.LatestPrice != bars[149].Close {
		t.Errorf("LatestPrice = %v", r.LatestPrice)
	}
	if r.Date != bars[149].Date {
		t.Errorf("Date = %v", r.Date)
	}
	// A steady uptrend should read bullish.
	if !r.Signals["trend_buy"] {
		t.Error("uptrend should set trend_buy")
	}
	if !r.Signals["macd_buy"] {
		t.Error("uptrend should set macd_buy")
	}
	if r.Score <= 50 {
		t.Errorf("Score = %d, want above neutral on an uptrend", r.Score)
	}
	if r.MA5 <= r.MA60 {
		t.Errorf("MA5 (%v) should sit above MA60 (%v) on an uptrend", r.MA5, r.MA60)
	}
}

func TestScoreBounds(t *testing.T) {
	all := map[string]bool{
		"trend_sell": true, "bbi_sell": true, "macd_sell": true, "kdj_sell": true,
	}
	if got := score(all); got != 0 {
		t.Errorf("score(all sell) = %d, want clamped 0", got)
	}
	buys := map[string]bool{
		"trend_buy": true, "bbi_buy": true, "macd_buy": true, "kdj_buy": true,
	}
	if got := score(buys); got != 100 {
		t.Errorf("score(all buy) = %d, want clamped 100", got)
	}
}

// --- cache ---

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2, time.Minute)
	r := &Report{Symbol: "x"}

	c.Set("a", r)
	c.Set("b", r)
	c.Get("a") // refresh a
	c.Set("c", r)

	if c.Get("b") != nil {
		t.Error("b should have been evicted as least recently used")
	}
	if c.Get("a") == nil || c.Get("c") == nil {
		t.Error("a and c should survive")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10, 5*time.Minute)
	base := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	now := base
	c.SetClock(func() time.Time { return now })

	c.Set("a", &Report{Symbol: "a"})
	now = base.Add(4 * time.Minute)
	if c.Get("a") == nil {
		t.Error("entry should still be fresh at 4m")
	}
	now = base.Add(6 * time.Minute)
	if c.Get("a") != nil {
		t.Error("entry should expire after the TTL")
	}
}

// --- analyzer ---

type fakeBarSource struct {
	bars  []domain.Bar
	calls int
	err   error
}

func (f *fakeBarSource) GetBars(ctx context.Context, symbol string, days int, withLive bool) ([]domain.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func TestAnalyzeUsesCache(t *testing.T) {
	src := &fakeBarSource{bars: makeBars(120, 100, 0.3)}
	a := NewAnalyzer(src, nil)
	ctx := context.Background()

	r1, err := a.Analyze(ctx, "600519")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	r2, err := a.Analyze(ctx, "600519")
	if err != nil {
		t.Fatalf("Analyze (cached): %v", err)
	}
	if src.calls != 1 {
		t.Errorf("bar source called %d times, want 1", src.calls)
	}
	if r1 != r2 {
		t.Error("second call should return the cached report")
	}
}

func TestAnalyzeRejectsShortHistory(t *testing.T) {
	src := &fakeBarSource{bars: makeBars(30, 100, 0.3)}
	a := NewAnalyzer(src, nil)

	if _, err := a.Analyze(context.Background(), "600519"); err == nil {
		t.Error("Analyze should fail below the minimum bar count")
	}
}

func TestAnalyzePropagatesSourceError(t *testing.T) {
	src := &fakeBarSource{err: fmt.Errorf("upstream down")}
	a := NewAnalyzer(src, nil)

	if _, err := a.Analyze(context.Background(), "600519"); err == nil {
		t.Error("Analyze should propagate source errors")
	}
}
