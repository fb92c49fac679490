package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketd/internal/domain"
)

// Compile-time interface checks.
var (
	_ BarProvider   = (*Sina)(nil)
	_ QuoteProvider = (*Sina)(nil)
	_ IndexProvider = (*Sina)(nil)
)

// Sina is the adapter for hq.sinajs.cn: the primary live-quote source and
// the primary US/HK index source. It serves no historical bars.
type Sina struct {
	*client
}

// NewSina creates a Sina adapter.
func NewSina(opts Options) *Sina {
	return &Sina{client: newClient(opts)}
}

// Name returns the adapter identifier.
func (s *Sina) Name() string { return "sina" }

// MaxBarsPerCall is zero: Sina is a realtime source.
func (s *Sina) MaxBarsPerCall() int { return 0 }

// FetchBars is unsupported; Sina sits last in bar chains purely so the
// executor's ordering lists stay uniform.
func (s *Sina) FetchBars(ctx context.Context, symbol string, days int, endDate string) ([]domain.Bar, error) {
	return nil, fmt.Errorf("sina bars %s: %w", symbol, ErrUnsupported)
}

// The hq endpoint rejects requests without a finance.sina referer.
var sinaHeaders = map[string]string{
	"Referer": "https://finance.sina.com.cn",
}

// --- live quotes ---

var sinaLineRe = regexp.MustCompile(`hq_str_(\w+)="([^"]*)"`)

// FetchQuotes retrieves live quotes for a batch of symbols. The response is
// GBK text, one `var hq_str_sh600519="...";` line per symbol with
// comma-separated fields.
func (s *Sina) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	prefixed := make([]string, len(symbols))
	for i, sym := range symbols {
		prefixed[i] = domain.WithPrefix(sym)
	}
	u := "http://hq.sinajs.cn/list=" + strings.Join(prefixed, ",")

	body, err := s.get(ctx, u, true, sinaHeaders)
	if err != nil {
		return nil, fmt.Errorf("sina quotes: %w", err)
	}
	return parseSinaQuotes(string(body), time.Now()), nil
}

// parseSinaQuotes parses the hq_str lines. Equity field positions: 0 name,
// 1 open, 2 prev close, 3 now, 4 high, 5 low, 6 bid, 7 ask, 8 volume,
// 9 turnover. Index lines (sh000/sz399) lead with the current value instead
// of the open.
func parseSinaQuotes(text string, asOf time.Time) map[string]domain.Quote {
	out := make(map[string]domain.Quote)
	for _, m := range sinaLineRe.FindAllStringSubmatch(text, -1) {
		fullCode, data := m[1], m[2]
		if data == "" {
			continue
		}
		parts := strings.Split(data, ",")
		if len(parts) < 10 {
			continue
		}

		code := domain.NormalizeCode(fullCode)
		q := domain.Quote{
			Symbol:   code,
			Name:     parts[0],
			Volume:   parseFloat(parts[8]),
			Turnover: parseFloat(parts[9]),
			AsOf:     asOf,
		}
		if strings.HasPrefix(fullCode, "sh000") || strings.HasPrefix(fullCode, "sz399") {
			q.Now = parseFloat(parts[1])
			q.PrevClose = parseFloat(parts[2])
			q.Open = parseFloat(parts[3])
		} else {
			q.Open = parseFloat(parts[1])
			q.PrevClose = parseFloat(parts[2])
			q.Now = parseFloat(parts[3])
		}
		q.High = parseFloat(parts[4])
		q.Low = parseFloat(parts[5])
		if len(parts) > 11 {
			q.Bid1 = parseFloat(parts[11])
		}
		if len(parts) > 21 {
			q.Ask1 = parseFloat(parts[21])
		}
		out[code] = q
	}
	return out
}

// --- indices ---

// Sina index code maps: gb_ for US, rt_hk for Hong Kong.
var sinaIndexCodes = map[string]string{
	"^DJI":   "gb_dji",
	"^IXIC":  "gb_ixic",
	"^GSPC":  "gb_inx",
	"^NDX":   "gb_ndx",
	"^HSI":   "rt_hkHSI",
	"HSTECH": "rt_hkHSTECH",
}

// FetchIndex retrieves a live index snapshot. CN indices ride the equity
// quote endpoint; US and HK indices use the gb_/rt_hk code families with
// their own field layouts.
func (s *Sina) FetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error) {
	lower := strings.ToLower(symbol)
	if strings.HasPrefix(lower, "sh000") || strings.HasPrefix(lower, "sz399") {
		return s.fetchCNIndex(ctx, lower)
	}

	code, ok := sinaIndexCodes[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("sina index %s: %w", symbol, ErrUnsupported)
	}

	u := "http://hq.sinajs.cn/list=" + code
	body, err := s.get(ctx, u, true, sinaHeaders)
	if err != nil {
		return nil, fmt.Errorf("sina index %s: %w", symbol, err)
	}

	iq := parseSinaGlobalIndex(string(body), code, symbol)
	if iq == nil {
		return nil, fmt.Errorf("sina index %s: %w", symbol, ErrNotFound)
	}
	return iq, nil
}

func (s *Sina) fetchCNIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error) {
	quotes, err := s.FetchQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, fmt.Errorf("sina index %s: %w", symbol, err)
	}
	q, ok := quotes[domain.NormalizeCode(symbol)]
	if !ok || q.Now <= 0 {
		return nil, fmt.Errorf("sina index %s: %w", symbol, ErrNotFound)
	}
	return &domain.IndexQuote{
		Symbol:    symbol,
		Name:      q.Name,
		Price:     q.Now,
		Change:    q.Now - q.PrevClose,
		ChangePct: q.ChangePct(),
		Time:      q.AsOf.Format("2006-01-02 15:04:05"),
	}, nil
}

// parseSinaGlobalIndex handles the two global layouts. US (gb_): 0 name,
// 1 price, 2 change percent, 4 change. HK (rt_hk): 1 name, 6 price,
// 7 change, 8 change percent.
func parseSinaGlobalIndex(text, code, symbol string) *domain.IndexQuote {
	m := sinaLineRe.FindStringSubmatch(text)
	if m == nil || m[2] == "" {
		return nil
	}
	parts := strings.Split(m[2], ",")

	var name string
	var price, change, pct float64
	switch {
	case strings.HasPrefix(code, "rt_hk"):
		if len(parts) <= 8 {
			return nil
		}
		name = parts[1]
		price = parseFloat(parts[6])
		change = parseFloat(parts[7])
		pct = parseFloat(parts[8])
	case strings.HasPrefix(code, "gb_"):
		if len(parts) <= 4 {
			return nil
		}
		name = parts[0]
		price = parseFloat(parts[1])
		pct = parseFloat(parts[2])
		change = parseFloat(parts[4])
	default:
		if len(parts) < 4 {
			return nil
		}
		name = parts[0]
		price = parseFloat(parts[1])
		change = parseFloat(parts[2])
		pct = parseFloat(parts[3])
	}

	if price <= 0 {
		return nil
	}
	return &domain.IndexQuote{
		Symbol:    symbol,
		Name:      name,
		Price:     price,
		Change:    change,
		ChangePct: pct,
		Time:      time.Now().Format("2006-01-02 15:04:05"),
	}
}
