package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketd/internal/config"
	"marketd/internal/domain"
	"marketd/internal/fallback"
	"marketd/internal/provider"
)

// Quote cache settings. Quotes go stale in seconds during a session, so the
// TTL is short; index snapshots move slower.
const (
	quoteTTL      = 3 * time.Second
	indexTTL      = 10 * time.Second
	maxBatchSize  = 50
	batchChunkLen = 20
)

// marketIndexSymbols is the fixed dashboard set, CN then HK then US.
var marketIndexSymbols = []string{
	"sh000001", "sz399001", "sz399006",
	"^HSI", "HSTECH",
	"^DJI", "^IXIC", "^GSPC",
}

type cachedQuote struct {
	quote   domain.Quote
	savedAt time.Time
}

// QuoteService serves live quotes, intraday curves, and index snapshots
// through the provider fallback chains, with short-TTL caching so bursts of
// identical requests hit the upstream once.
type QuoteService struct {
	quoteProviders    map[string]provider.QuoteProvider
	intradayProviders map[string]provider.IntradayProvider
	indexProviders    map[string]provider.IndexProvider
	cfg               *config.Config
	log               *slog.Logger

	mu      sync.Mutex
	quotes  map[string]cachedQuote
	indices []domain.IndexQuote
	indexAt time.Time
	now     func() time.Time
}

// NewQuoteService wires the quote service over the given adapters. Adapters
// are registered under their Name(); the config orderings select and order
// them per capability.
func NewQuoteService(quotes []provider.QuoteProvider, intraday []provider.IntradayProvider,
	indices []provider.IndexProvider, cfg *config.Config, log *slog.Logger) *QuoteService {
	if log == nil {
		log = slog.Default()
	}
	s := &QuoteService{
		quoteProviders:    make(map[string]provider.QuoteProvider, len(quotes)),
		intradayProviders: make(map[string]provider.IntradayProvider, len(intraday)),
		indexProviders:    make(map[string]provider.IndexProvider, len(indices)),
		cfg:               cfg,
		log:               log,
		quotes:            make(map[string]cachedQuote),
		now:               time.Now,
	}
	for _, p := range quotes {
		s.quoteProviders[p.Name()] = p
	}
	for _, p := range intraday {
		s.intradayProviders[p.Name()] = p
	}
	for _, p := range indices {
		s.indexProviders[p.Name()] = p
	}
	return s
}

// SetClock replaces the cache clock; tests pin it.
func (s *QuoteService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

// GetQuote returns the live quote for one symbol, served from the cache
// when a snapshot younger than the TTL exists.
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if !domain.ValidCode(symbol) {
		return nil, fmt.Errorf("invalid symbol %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	symbol = domain.NormalizeCode(symbol)

	if q, ok := s.cachedQuote(symbol); ok {
		return &q, nil
	}

	fetched, ok := s.fetchQuotes(ctx, []string{symbol})
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	q, ok := fetched[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &q, nil
}

// GetQuoteBatch returns live quotes for up to maxBatchSize symbols. Cached
// snapshots are served directly; the misses are fetched concurrently in
// provider-sized chunks. Symbols no provider knows are absent from the
// result.
func (s *QuoteService) GetQuoteBatch(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	if len(symbols) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d symbols exceeds the limit of %d", len(symbols), maxBatchSize)
	}

	out := make(map[string]domain.Quote, len(symbols))
	var misses []string
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		if !domain.ValidCode(raw) {
			continue
		}
		sym := domain.NormalizeCode(raw)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if q, ok := s.cachedQuote(sym); ok {
			out[sym] = q
		} else {
			misses = append(misses, sym)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(misses); start += batchChunkLen {
		end := start + batchChunkLen
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]
		g.Go(func() error {
			fetched, ok := s.fetchQuotes(gctx, chunk)
			if !ok {
				return fmt.Errorf("quote fetch failed for %d symbols", len(chunk))
			}
			mu.Lock()
			for sym, q := range fetched {
				out[sym] = q
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Partial results still serve; the miss is visible to the caller.
		s.log.Warn("batch quote fetch partially failed", "error", err, "served", len(out))
	}
	return out, nil
}

// cachedQuote returns a fresh cached snapshot for symbol, if any.
func (s *QuoteService) cachedQuote(symbol string) (domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.quotes[symbol]
	if !ok || s.now().Sub(c.savedAt) >= quoteTTL {
		return domain.Quote{}, false
	}
	return c.quote, true
}

// fetchQuotes pulls a symbol chunk through the quote chain and caches every
// quote that comes back.
func (s *QuoteService) fetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, bool) {
	var attempts []fallback.Attempt[map[string]domain.Quote]
	for _, name := range s.cfg.Providers.QuoteOrder {
		p, ok := s.quoteProviders[name]
		if !ok {
			continue
		}
		attempts = append(attempts, fallback.Attempt[map[string]domain.Quote]{
			Name: p.Name(),
			Fn: func(ctx context.Context) (map[string]domain.Quote, error) {
				return p.FetchQuotes(ctx, symbols)
			},
		})
	}
	ex := fallback.New(attempts, func(m map[string]domain.Quote) bool { return len(m) == 0 }, s.log, "quotes")
	fetched, ok := ex.Execute(ctx)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	at := s.now()
	for sym, q := range fetched {
		s.quotes[sym] = cachedQuote{quote: q, savedAt: at}
	}
	s.mu.Unlock()
	return fetched, true
}

// ---------------------------------------------------------------------------
// Intraday
// ---------------------------------------------------------------------------

// GetIntraday returns the current session's minute curve for symbol.
func (s *QuoteService) GetIntraday(ctx context.Context, symbol string) ([]domain.IntradayPoint, error) {
	if !domain.ValidCode(symbol) {
		return nil, fmt.Errorf("invalid symbol %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	symbol = domain.NormalizeCode(symbol)

	var attempts []fallback.Attempt[[]domain.IntradayPoint]
	for _, name := range s.cfg.Providers.IntradayOrder {
		p, ok := s.intradayProviders[name]
		if !ok {
			continue
		}
		attempts = append(attempts, fallback.Attempt[[]domain.IntradayPoint]{
			Name: p.Name(),
			Fn: func(ctx context.Context) ([]domain.IntradayPoint, error) {
				return p.FetchIntraday(ctx, symbol)
			},
		})
	}
	ex := fallback.New(attempts, func(ps []domain.IntradayPoint) bool { return len(ps) == 0 }, s.log, symbol)
	points, ok := ex.Execute(ctx)
	if !ok {
		return nil, fmt.Errorf("no intraday data for %s", symbol)
	}
	return points, nil
}

// ---------------------------------------------------------------------------
// Market indices
// ---------------------------------------------------------------------------

// MarketIndices returns the fixed CN/HK/US index snapshot set, cached for a
// few seconds. Indices that every provider misses are dropped from the
// result rather than failing the call.
func (s *QuoteService) MarketIndices(ctx context.Context) ([]domain.IndexQuote, error) {
	s.mu.Lock()
	if s.indices != nil && s.now().Sub(s.indexAt) < indexTTL {
		snap := make([]domain.IndexQuote, len(s.indices))
		copy(snap, s.indices)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	results := make([]*domain.IndexQuote, len(marketIndexSymbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range marketIndexSymbols {
		i, sym := i, sym
		g.Go(func() error {
			if q, ok := s.fetchIndex(gctx, sym); ok {
				results[i] = q
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.IndexQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no index data from any provider")
	}

	s.mu.Lock()
	s.indices = out
	s.indexAt = s.now()
	s.mu.Unlock()
	snap := make([]domain.IndexQuote, len(out))
	copy(snap, out)
	return snap, nil
}

// fetchIndex pulls one index through the index chain. Adapters that do not
// carry the symbol return errors and fall through to the next.
func (s *QuoteService) fetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, bool) {
	var attempts []fallback.Attempt[*domain.IndexQuote]
	for _, name := range s.cfg.Providers.IndexOrder {
		p, ok := s.indexProviders[name]
		if !ok {
			continue
		}
		attempts = append(attempts, fallback.Attempt[*domain.IndexQuote]{
			Name: p.Name(),
			Fn: func(ctx context.Context) (*domain.IndexQuote, error) {
				return p.FetchIndex(ctx, symbol)
			},
		})
	}
	ex := fallback.New(attempts, func(q *domain.IndexQuote) bool { return q == nil || q.Price <= 0 }, s.log, symbol)
	return ex.Execute(ctx)
}
