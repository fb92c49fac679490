package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketd/internal/domain"
)

// Compile-time interface checks.
var (
	_ BarProvider      = (*Eastmoney)(nil)
	_ QuoteProvider    = (*Eastmoney)(nil)
	_ IntradayProvider = (*Eastmoney)(nil)
	_ IndexProvider    = (*Eastmoney)(nil)
)

// Eastmoney is the adapter for the push2/push2his JSON endpoints: the
// deepest bar history of the chain (3000 rows per call), live quotes,
// minute trends, and the exchange-wide symbol listing.
type Eastmoney struct {
	*client
}

// NewEastmoney creates an Eastmoney adapter.
func NewEastmoney(opts Options) *Eastmoney {
	return &Eastmoney{client: newClient(opts)}
}

// Name returns the adapter identifier.
func (e *Eastmoney) Name() string { return "eastmoney" }

// MaxBarsPerCall returns the largest page the kline endpoint serves.
func (e *Eastmoney) MaxBarsPerCall() int { return 3000 }

// secid converts a symbol to the market-dotted form the push2 APIs expect:
// "1.600519" Shanghai, "0.000001" Shenzhen/Beijing, "116.00700" Hong Kong.
func secid(symbol string) string {
	if domain.IsHongKong(symbol) {
		return "116." + domain.NormalizeCode(symbol)
	}
	code := domain.NormalizeCode(symbol)
	if domain.MarketPrefix(code) == domain.MarketShanghai {
		return "1." + code
	}
	return "0." + code
}

// --- daily bars ---

type emKlineEnvelope struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// FetchBars returns one page of daily forward-adjusted bars ending at
// endDate (inclusive), ascending by date. endDate "" means today. Each
// kline row is "date,open,close,high,low,volume,...".
func (e *Eastmoney) FetchBars(ctx context.Context, symbol string, days int, endDate string) ([]domain.Bar, error) {
	if days > e.MaxBarsPerCall() {
		days = e.MaxBarsPerCall()
	}
	end := strings.ReplaceAll(endDate, "-", "")
	if end == "" {
		end = time.Now().Format("20060102")
	}

	q := url.Values{
		"secid":   {secid(symbol)},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"},
		"klt":     {"101"},
		"fqt":     {"1"},
		"end":     {end},
		"lmt":     {fmt.Sprint(days)},
	}
	u := "https://push2his.eastmoney.com/api/qt/stock/kline/get?" + q.Encode()

	body, err := e.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("eastmoney bars %s: %w", symbol, err)
	}
	bars, err := parseEastmoneyKlines(body, symbol)
	e.reportParse(err)
	if err != nil {
		return nil, fmt.Errorf("eastmoney bars %s: %w", symbol, err)
	}
	return bars, nil
}

func parseEastmoneyKlines(body []byte, symbol string) ([]domain.Bar, error) {
	var env emKlineEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, ErrNotFound
	}

	code := domain.NormalizeCode(symbol)
	bars := make([]domain.Bar, 0, len(env.Data.Klines))
	for _, row := range env.Data.Klines {
		parts := strings.Split(row, ",")
		if len(parts) < 6 {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol: code,
			Date:   parts[0],
			Open:   parseFloat(parts[1]),
			Close:  parseFloat(parts[2]),
			High:   parseFloat(parts[3]),
			Low:    parseFloat(parts[4]),
			Volume: parseFloat(parts[5]),
		})
	}
	return bars, nil
}

// --- live quotes ---

type emQuoteEnvelope struct {
	Data *struct {
		Code      string  `json:"f57"`
		Name      string  `json:"f58"`
		Now       float64 `json:"f43"`
		High      float64 `json:"f44"`
		Low       float64 `json:"f45"`
		Open      float64 `json:"f46"`
		Volume    float64 `json:"f47"`
		Turnover  float64 `json:"f48"`
		PrevClose float64 `json:"f60"`
	} `json:"data"`
}

// FetchQuotes retrieves live quotes one symbol per call; the push2 get
// endpoint has no batch form. Prices arrive scaled by 100.
func (e *Eastmoney) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		q, err := e.fetchQuote(ctx, s)
		if err != nil {
			continue
		}
		out[q.Symbol] = *q
	}
	if len(out) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("eastmoney quotes: %w", ErrNotFound)
	}
	return out, nil
}

func (e *Eastmoney) fetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q := url.Values{
		"secid":  {secid(symbol)},
		"fields": {"f43,f44,f45,f46,f47,f48,f57,f58,f60,f170,f171"},
	}
	u := "https://push2.eastmoney.com/api/qt/stock/get?" + q.Encode()

	body, err := e.get(ctx, u, false, nil)
	if err != nil {
		return nil, err
	}

	var env emQuoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		e.reportParse(err)
		return nil, err
	}
	e.reportParse(nil)
	if env.Data == nil || env.Data.Now <= 0 {
		return nil, ErrNotFound
	}
	d := env.Data
	return &domain.Quote{
		Symbol:    domain.NormalizeCode(symbol),
		Name:      d.Name,
		Now:       d.Now / 100,
		Open:      d.Open / 100,
		PrevClose: d.PrevClose / 100,
		High:      d.High / 100,
		Low:       d.Low / 100,
		Volume:    d.Volume,
		Turnover:  d.Turnover,
		AsOf:      time.Now(),
	}, nil
}

// --- intraday ---

type emTrendsEnvelope struct {
	Data *struct {
		PreClose float64  `json:"preClose"`
		Trends   []string `json:"trends"`
	} `json:"data"`
}

// FetchIntraday retrieves the current session's minute curve via trends2.
// Each trend row is "yyyy-MM-dd HH:mm,open,price,high,low,volume,amount,avg".
func (e *Eastmoney) FetchIntraday(ctx context.Context, symbol string) ([]domain.IntradayPoint, error) {
	q := url.Values{
		"secid":   {secid(symbol)},
		"fields1": {"f1,f2,f3,f4,f5,f6,f7,f8,f9,f10,f11,f12,f13"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58"},
		"iscr":    {"0"},
		"iscca":   {"0"},
		"ndays":   {"1"},
	}
	u := "https://push2his.eastmoney.com/api/qt/stock/trends2/get?" + q.Encode()

	body, err := e.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("eastmoney intraday %s: %w", symbol, err)
	}
	points, err := parseEastmoneyTrends(body)
	e.reportParse(err)
	if err != nil {
		return nil, fmt.Errorf("eastmoney intraday %s: %w", symbol, err)
	}
	return points, nil
}

func parseEastmoneyTrends(body []byte) ([]domain.IntradayPoint, error) {
	var env emTrendsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || len(env.Data.Trends) == 0 {
		return nil, ErrNotFound
	}

	points := make([]domain.IntradayPoint, 0, len(env.Data.Trends))
	for _, row := range env.Data.Trends {
		parts := strings.Split(row, ",")
		if len(parts) < 6 {
			continue
		}
		p := domain.IntradayPoint{
			Time:   parts[0],
			Price:  parseFloat(parts[2]),
			Volume: int64(parseFloat(parts[5])),
		}
		if len(parts) > 7 {
			p.Avg = parseFloat(parts[7])
		}
		points = append(points, p)
	}
	return points, nil
}

// --- indices ---

// eastmoneyIndexSecids maps the CN index symbols to their push2 secids.
var eastmoneyIndexSecids = map[string]string{
	"sh000001": "1.000001",
	"sz399001": "0.399001",
	"sz399006": "0.399006",
}

// FetchIndex serves the CN indices only; HK and US indices are the Sina and
// Yahoo adapters' territory.
func (e *Eastmoney) FetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error) {
	sid, ok := eastmoneyIndexSecids[strings.ToLower(symbol)]
	if !ok {
		return nil, fmt.Errorf("eastmoney index %s: %w", symbol, ErrUnsupported)
	}

	q := url.Values{
		"secid":  {sid},
		"fields": {"f43,f44,f45,f46,f47,f48,f57,f58,f60,f170,f171"},
	}
	u := "https://push2.eastmoney.com/api/qt/stock/get?" + q.Encode()

	body, err := e.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("eastmoney index %s: %w", symbol, err)
	}

	var env emQuoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("eastmoney index %s: %w", symbol, err)
	}
	if env.Data == nil || env.Data.Now <= 0 {
		return nil, fmt.Errorf("eastmoney index %s: %w", symbol, ErrNotFound)
	}
	d := env.Data
	price := d.Now / 100
	change := price - d.PrevClose/100
	pct := 0.0
	if d.PrevClose > 0 {
		pct = change / (d.PrevClose / 100) * 100
	}
	return &domain.IndexQuote{
		Symbol:    symbol,
		Name:      d.Name,
		Price:     price,
		Change:    change,
		ChangePct: pct,
		Time:      time.Now().Format("2006-01-02 15:04:05"),
	}, nil
}

// --- symbol listing ---

type emListEnvelope struct {
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			Code string `json:"f12"`
			Name string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}

// FetchListing downloads the full A-share code/name directory from the
// clist endpoint, paging until the reported total is reached.
func (e *Eastmoney) FetchListing(ctx context.Context) ([]domain.SymbolInfo, error) {
	const pageSize = 5000
	var out []domain.SymbolInfo

	for page := 1; page <= 10; page++ {
		q := url.Values{
			"pn":     {fmt.Sprint(page)},
			"pz":     {fmt.Sprint(pageSize)},
			"po":     {"0"},
			"np":     {"1"},
			"fltt":   {"2"},
			"fid":    {"f12"},
			"fs":     {"m:0 t:6,m:0 t:80,m:1 t:2,m:1 t:23,m:0 t:81 s:2048"},
			"fields": {"f12,f14"},
		}
		u := "https://push2.eastmoney.com/api/qt/clist/get?" + q.Encode()

		body, err := e.get(ctx, u, false, nil)
		if err != nil {
			return nil, fmt.Errorf("eastmoney listing page %d: %w", page, err)
		}

		var env emListEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			e.reportParse(err)
			return nil, fmt.Errorf("eastmoney listing page %d: %w", page, err)
		}
		e.reportParse(nil)
		if env.Data == nil || len(env.Data.Diff) == 0 {
			break
		}
		for _, d := range env.Data.Diff {
			out = append(out, domain.SymbolInfo{Code: d.Code, Name: d.Name})
		}
		if len(out) >= env.Data.Total {
			break
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("eastmoney listing: %w", ErrNotFound)
	}
	return out, nil
}
