package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"marketd/internal/domain"
)

// Compile-time interface check.
var _ IndexProvider = (*Yahoo)(nil)

// Yahoo is the last-resort index adapter, riding the public chart API. It
// is slower than the CN sources but reaches US and HK indices the others
// occasionally drop.
type Yahoo struct {
	*client
}

// NewYahoo creates a Yahoo adapter.
func NewYahoo(opts Options) *Yahoo {
	return &Yahoo{client: newClient(opts)}
}

// Name returns the adapter identifier.
func (y *Yahoo) Name() string { return "yahoo" }

// yahooSymbols maps our index symbols to Yahoo tickers.
var yahooSymbols = map[string]string{
	"^DJI":   "^DJI",
	"^IXIC":  "^IXIC",
	"^GSPC":  "^GSPC",
	"^NDX":   "^NDX",
	"^HSI":   "^HSI",
	"HSTECH": "^HSTECH",
}

type yahooChartEnvelope struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchIndex derives a live index snapshot from the last two daily closes
// of a 5-day chart window.
func (y *Yahoo) FetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error) {
	ticker, ok := yahooSymbols[symbol]
	if !ok {
		ticker = symbol
	}

	u := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?range=5d&interval=1d",
		url.PathEscape(ticker))
	body, err := y.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo index %s: %w", symbol, err)
	}

	var env yahooChartEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		y.reportParse(err)
		return nil, fmt.Errorf("yahoo index %s: %w", symbol, err)
	}
	y.reportParse(nil)
	if env.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo index %s: %s: %w", symbol, env.Chart.Error.Description, ErrNotFound)
	}
	if len(env.Chart.Result) == 0 || len(env.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo index %s: %w", symbol, ErrNotFound)
	}

	var closes []float64
	for _, c := range env.Chart.Result[0].Indicators.Quote[0].Close {
		if c != nil && *c > 0 {
			closes = append(closes, *c)
		}
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("yahoo index %s: %w", symbol, ErrNotFound)
	}

	price := closes[len(closes)-1]
	var change, pct float64
	if len(closes) >= 2 {
		prev := closes[len(closes)-2]
		change = price - prev
		if prev > 0 {
			pct = change / prev * 100
		}
	}
	return &domain.IndexQuote{
		Symbol:    symbol,
		Name:      env.Chart.Result[0].Meta.Symbol,
		Price:     price,
		Change:    change,
		ChangePct: pct,
		Time:      time.Now().Format("2006-01-02"),
	}, nil
}
