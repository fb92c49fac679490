package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"marketd/internal/domain"
)

// Compile-time interface checks.
var (
	_ BarProvider      = (*Tencent)(nil)
	_ QuoteProvider    = (*Tencent)(nil)
	_ IntradayProvider = (*Tencent)(nil)
	_ IndexProvider    = (*Tencent)(nil)
)

// Tencent is the adapter for the Tencent finance endpoints: fqkline for
// A-share daily bars (max 640 per call), hkfqkline for Hong Kong bars (max
// 660), qt.gtimg.cn for quotes and indices, and the flashdata minute feed.
type Tencent struct {
	*client
}

// NewTencent creates a Tencent adapter.
func NewTencent(opts Options) *Tencent {
	return &Tencent{client: newClient(opts)}
}

// Name returns the adapter identifier.
func (t *Tencent) Name() string { return "tencent" }

// MaxBarsPerCall returns the largest page the A-share kline endpoint serves.
func (t *Tencent) MaxBarsPerCall() int { return 640 }

const tencentHKMaxBars = 660

// --- daily bars ---

// klineEnvelope is the shared JSON shape of fqkline and hkfqkline: a data
// object keyed by the prefixed symbol, holding either "qfqday" (adjusted)
// or "day" rows. Row cells arrive as strings or numbers depending on the
// endpoint mood, hence json.Number via any.
type klineEnvelope struct {
	Data map[string]struct {
		QfqDay [][]any `json:"qfqday"`
		Day    [][]any `json:"day"`
	} `json:"data"`
}

// FetchBars returns one page of daily forward-adjusted bars, newest page
// first in upstream terms but sorted ascending by date on return. endDate
// "" requests the most recent page. Hong Kong symbols route to the HK kline
// endpoint, which ignores endDate and serves a single page of up to 660.
func (t *Tencent) FetchBars(ctx context.Context, symbol string, days int, endDate string) ([]domain.Bar, error) {
	if domain.IsHongKong(symbol) {
		return t.fetchHKBars(ctx, symbol, days)
	}

	prefixed := domain.WithPrefix(symbol)
	if days > t.MaxBarsPerCall() {
		days = t.MaxBarsPerCall()
	}
	u := fmt.Sprintf("http://web.ifzq.gtimg.cn/appstock/app/fqkline/get?param=%s,day,,%s,%d,qfq",
		prefixed, endDate, days)

	body, err := t.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("tencent bars %s: %w", symbol, err)
	}
	bars, err := parseTencentKline(body, prefixed, symbol)
	t.reportParse(err)
	if err != nil {
		return nil, fmt.Errorf("tencent bars %s: %w", symbol, err)
	}
	return bars, nil
}

func (t *Tencent) fetchHKBars(ctx context.Context, symbol string, days int) ([]domain.Bar, error) {
	if days <= 0 || days > tencentHKMaxBars {
		days = tencentHKMaxBars
	}
	prefixed := domain.WithPrefix(symbol)
	u := fmt.Sprintf("http://web.ifzq.gtimg.cn/appstock/app/hkfqkline/get?_var=kline_dayqfq&param=%s,day,,,%d,qfq",
		prefixed, days)

	body, err := t.get(ctx, u, false, nil)
	if err != nil {
		return nil, fmt.Errorf("tencent hk bars %s: %w", symbol, err)
	}
	// The _var wrapper yields `kline_dayqfq={...}`; strip up to the first '='.
	if i := strings.IndexByte(string(body), '='); i >= 0 {
		body = body[i+1:]
	}
	bars, err := parseTencentKline(body, prefixed, symbol)
	t.reportParse(err)
	if err != nil {
		return nil, fmt.Errorf("tencent hk bars %s: %w", symbol, err)
	}
	return bars, nil
}

// parseTencentKline decodes a kline envelope into ascending bars. Row cells
// are [date, open, close, high, low, volume, ...].
func parseTencentKline(body []byte, prefixed, symbol string) ([]domain.Bar, error) {
	var env klineEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	stock, ok := env.Data[prefixed]
	if !ok {
		return nil, ErrNotFound
	}
	rows := stock.QfqDay
	if len(rows) == 0 {
		rows = stock.Day
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		date := cellString(row[0])
		if date == "" {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol: domain.NormalizeCode(symbol),
			Date:   date,
			Open:   cellFloat(row[1]),
			Close:  cellFloat(row[2]),
			High:   cellFloat(row[3]),
			Low:    cellFloat(row[4]),
			Volume: cellFloat(row[5]),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}

func cellString(v any) string {
	s, _ := v.(string)
	return s
}

func cellFloat(v any) float64 {
	switch x := v.(type) {
	case string:
		return parseFloat(x)
	case float64:
		return x
	case json.Number:
		return parseFloat(x.String())
	}
	return 0
}

// --- live quotes ---

// FetchQuotes retrieves live quotes for a batch of symbols via qt.gtimg.cn.
// The response is GBK text, one `v_sh600519="1~name~code~..."` line per
// symbol with ~-separated fields.
func (t *Tencent) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	prefixed := make([]string, len(symbols))
	for i, s := range symbols {
		prefixed[i] = domain.WithPrefix(s)
	}
	u := "http://qt.gtimg.cn/q=" + strings.Join(prefixed, ",")

	body, err := t.get(ctx, u, true, nil)
	if err != nil {
		return nil, fmt.Errorf("tencent quotes: %w", err)
	}
	return parseTencentQuotes(string(body), time.Now()), nil
}

// parseTencentQuotes parses the ~-separated quote lines. Field positions:
// 1 name, 2 code, 3 now, 4 prev close, 5 open, 6 volume (hands), 9 bid1,
// 19 ask1, 33 high, 34 low, 37 turnover (万元).
func parseTencentQuotes(text string, asOf time.Time) map[string]domain.Quote {
	out := make(map[string]domain.Quote)
	for _, line := range strings.Split(text, "\n") {
		eq := strings.Index(line, "=\"")
		if eq < 0 {
			continue
		}
		parts := strings.Split(strings.TrimRight(line[eq+2:], "\";"), "~")
		if len(parts) < 38 {
			continue
		}
		code := domain.NormalizeCode(parts[2])
		if code == "" {
			continue
		}
		out[code] = domain.Quote{
			Symbol:    code,
			Name:      parts[1],
			Now:       parseFloat(parts[3]),
			PrevClose: parseFloat(parts[4]),
			Open:      parseFloat(parts[5]),
			Volume:    parseFloat(parts[6]),
			Bid1:      parseFloat(parts[9]),
			Ask1:      parseFloat(parts[19]),
			High:      parseFloat(parts[33]),
			Low:       parseFloat(parts[34]),
			Turnover:  parseFloat(parts[37]),
			AsOf:      asOf,
		}
	}
	return out
}

// --- intraday ---

// FetchIntraday retrieves the current session's minute curve from the
// flashdata feed. Lines are "HHMM price cumulative-volume"; a "date:" header
// names the session day.
func (t *Tencent) FetchIntraday(ctx context.Context, symbol string) ([]domain.IntradayPoint, error) {
	prefixed := domain.WithPrefix(symbol)
	u := fmt.Sprintf("http://data.gtimg.cn/flashdata/hushen/minute/%s.js", prefixed)

	body, err := t.get(ctx, u, true, nil)
	if err != nil {
		return nil, fmt.Errorf("tencent intraday %s: %w", symbol, err)
	}
	points := parseTencentMinute(string(body))
	if len(points) == 0 {
		return nil, fmt.Errorf("tencent intraday %s: %w", symbol, ErrNotFound)
	}
	return points, nil
}

func parseTencentMinute(text string) []domain.IntradayPoint {
	var points []domain.IntradayPoint
	var cumVolume float64
	for _, line := range strings.Split(text, "\n") {
		// Each physical line carries a trailing `\n\` JS string continuation.
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, `\`)
		line = strings.TrimSuffix(line, `\n`)
		if line == "" || strings.ContainsAny(line, `:"=`) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		total := parseFloat(fields[2])
		// The feed carries cumulative volume; emit per-minute deltas.
		minuteVol := total - cumVolume
		if minuteVol < 0 {
			minuteVol = 0
		}
		cumVolume = total
		points = append(points, domain.IntradayPoint{
			Time:   fields[0],
			Price:  parseFloat(fields[1]),
			Volume: int64(minuteVol),
		})
	}
	return points
}

// --- indices ---

// tencentIndexCodes maps public index symbols to Tencent quote codes.
var tencentIndexCodes = map[string]string{
	"^HSI":     "r_hkHSI",
	"HSTECH":   "r_hkHSTECH",
	"^DJI":     "usDJI",
	"^IXIC":    "usIXIC",
	"^GSPC":    "usINX",
	"^NDX":     "usNDX",
	"SH000001": "sh000001",
	"SZ399001": "sz399001",
	"SZ399006": "sz399006",
}

// FetchIndex retrieves a live index snapshot. CN index codes (sh000xxx,
// sz399xxx) go through the same quote endpoint as equities; HK and US
// indices use Tencent's global codes. Field positions: 1 name, 3 price,
// 30 time, 31 change, 32 change percent.
func (t *Tencent) FetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error) {
	code, ok := tencentIndexCodes[strings.ToUpper(symbol)]
	if !ok {
		lower := strings.ToLower(symbol)
		if !strings.HasPrefix(lower, "sh000") && !strings.HasPrefix(lower, "sz399") {
			return nil, fmt.Errorf("tencent index %s: %w", symbol, ErrUnsupported)
		}
		code = lower
	}

	u := "http://qt.gtimg.cn/q=" + url.QueryEscape(code)
	body, err := t.get(ctx, u, true, nil)
	if err != nil {
		return nil, fmt.Errorf("tencent index %s: %w", symbol, err)
	}

	iq := parseTencentIndex(string(body), symbol)
	if iq == nil {
		return nil, fmt.Errorf("tencent index %s: %w", symbol, ErrNotFound)
	}
	return iq, nil
}

func parseTencentIndex(text, symbol string) *domain.IndexQuote {
	eq := strings.Index(text, "=\"")
	if eq < 0 {
		return nil
	}
	parts := strings.Split(strings.TrimRight(strings.TrimSpace(text[eq+2:]), "\";"), "~")
	if len(parts) <= 32 {
		return nil
	}
	price := parseFloat(parts[3])
	if price <= 0 {
		return nil
	}
	return &domain.IndexQuote{
		Symbol:    symbol,
		Name:      parts[1],
		Price:     price,
		Change:    parseFloat(parts[31]),
		ChangePct: parseFloat(parts[32]),
		Time:      parts[30],
	}
}
