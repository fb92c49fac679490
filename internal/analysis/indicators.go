// Package analysis computes technical indicators over daily bars and caches
// per-symbol reports in a bounded TTL LRU. Indicator series align 1:1 with
// the input bars; positions before an indicator's warm-up window hold NaN.
package analysis

import "math"

// SMA returns the simple moving average with the given window. The first
// window-1 positions are NaN.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 || len(values) < window {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA returns the exponential moving average with alpha = 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	return emaAlpha(values, 2/float64(span+1))
}

// emaAlpha smooths with a fixed alpha, seeding at the first non-NaN value.
// Leading NaNs stay NaN so chained indicators keep their warm-up windows.
func emaAlpha(values []float64, alpha float64) []float64 {
	out := nanSlice(len(values))
	started := false
	var prev float64
	for i, v := range values {
		if math.IsNaN(v) {
			if started {
				out[i] = prev
			}
			continue
		}
		if !started {
			started = true
			prev = v
		} else {
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// KDJ returns the stochastic K, D, and J series with an n-day RSV window
// and m1/m2 smoothing. Standard parameters are (9, 3, 3).
func KDJ(high, low, close []float64, n, m1, m2 int) (k, d, j []float64) {
	ln := len(close)
	rsv := nanSlice(ln)
	for i := n - 1; i < ln; i++ {
		lo, hi := low[i], high[i]
		for w := i - n + 1; w <= i; w++ {
			if low[w] < lo {
				lo = low[w]
			}
			if high[w] > hi {
				hi = high[w]
			}
		}
		rsv[i] = (close[i] - lo) / (hi - lo + 1e-10) * 100
	}

	k = emaAlpha(rsv, 1/float64(m1))
	d = emaAlpha(k, 1/float64(m2))
	j = nanSlice(ln)
	for i := 0; i < ln; i++ {
		if !math.IsNaN(k[i]) && !math.IsNaN(d[i]) {
			j[i] = 3*k[i] - 2*d[i]
		}
	}
	return k, d, j
}

// MACD returns the MACD line, signal line, and histogram for the given
// fast/slow/signal EMA spans. Standard parameters are (12, 26, 9).
func MACD(close []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	fastEMA := EMA(close, fast)
	slowEMA := EMA(close, slow)

	ln := len(close)
	macd = nanSlice(ln)
	for i := 0; i < ln; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig = EMA(macd, signal)
	hist = nanSlice(ln)
	for i := 0; i < ln; i++ {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// BBI returns the bull-and-bear index: the mean of the 3/6/12/24-day moving
// averages.
func BBI(close []float64) []float64 {
	return meanOf(
		SMA(close, 3),
		SMA(close, 6),
		SMA(close, 12),
		SMA(close, 24),
	)
}

// TrendLine returns the short-term trend line EMA(EMA(close,10),10).
func TrendLine(close []float64) []float64 {
	return EMA(EMA(close, 10), 10)
}

// MultiLine returns the long-horizon bull/bear line: the mean of the
// 14/28/57/114-day moving averages.
func MultiLine(close []float64) []float64 {
	return meanOf(
		SMA(close, 14),
		SMA(close, 28),
		SMA(close, 57),
		SMA(close, 114),
	)
}

func meanOf(series ...[]float64) []float64 {
	ln := len(series[0])
	out := nanSlice(ln)
	for i := 0; i < ln; i++ {
		sum := 0.0
		for _, s := range series {
			sum += s[i] // NaN propagates through the warm-up window
		}
		out[i] = sum / float64(len(series))
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
