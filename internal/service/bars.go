// Package service hosts the orchestration layer: the smart-fetch bar
// service, the realtime quote cache, the symbol directory, and the
// watchlist. Services sit between the HTTP surface and the provider /
// store plumbing.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"marketd/internal/config"
	"marketd/internal/domain"
	"marketd/internal/fallback"
	"marketd/internal/marketcal"
	"marketd/internal/provider"
	"marketd/internal/queue"
	"marketd/internal/store"
)

// maxFetchPages caps service-driven pagination so a confused upstream can
// never trap a worker in an endless page walk.
const maxFetchPages = 50

// BarService answers daily-bar requests from the local archive when it can
// and from the provider chain when it must, keeping the archive fresh
// through background queue tasks.
type BarService struct {
	store     *store.Store
	queue     *queue.Queue
	quotes    *QuoteService
	providers map[string]provider.BarProvider
	cfg       *config.Config
	cal       *marketcal.Calendar
	log       *slog.Logger
}

// NewBarService wires the bar service. quotes may be nil when live fusion
// is not needed (e.g. the sync CLI).
func NewBarService(st *store.Store, q *queue.Queue, quotes *QuoteService,
	provs []provider.BarProvider, cfg *config.Config, cal *marketcal.Calendar, log *slog.Logger) *BarService {
	if log == nil {
		log = slog.Default()
	}
	if cal == nil {
		cal = marketcal.New(nil)
	}
	byName := make(map[string]provider.BarProvider, len(provs))
	for _, p := range provs {
		byName[p.Name()] = p
	}
	return &BarService{
		store:     st,
		queue:     q,
		quotes:    quotes,
		providers: byName,
		cfg:       cfg,
		cal:       cal,
		log:       log,
	}
}

// GetBars returns up to days daily bars for symbol, ascending by date.
//
// Warm path: when the archive holds at least 80% of the request, serve it
// immediately and let the queue top up in the background (HIGH for an
// incremental gap or stale today-bar, LOW for deep backfill). Cold path:
// pull the whole window through the provider chain, archive it, and
// schedule backfill. With withLive set during a trading session, today's
// live quote is fused onto the tail bar.
func (s *BarService) GetBars(ctx context.Context, symbol string, days int, withLive bool) (bars []domain.Bar, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("bar fetch panicked",
				"symbol", symbol, "panic", r, "stack", string(debug.Stack()))
			bars, err = nil, fmt.Errorf("fetching bars for %s: internal error", symbol)
		}
	}()

	if !domain.ValidCode(symbol) {
		return nil, fmt.Errorf("invalid symbol %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	symbol = domain.NormalizeCode(symbol)
	if days <= 0 {
		days = 90
	}

	// A broken archive read is a cache miss, not a request failure; the
	// provider chain can still answer.
	local, err := s.store.Get(ctx, symbol, days)
	if err != nil {
		s.log.Error("reading archive failed", "symbol", symbol, "error", err)
		local = nil
	}

	if s.sufficient(ctx, symbol, local, days) {
		s.scheduleFreshness(ctx, symbol)
		if withLive && s.cal.InSession() {
			local = s.fuseLive(ctx, symbol, local)
		}
		return local, nil
	}

	// Cold path: the archive cannot cover the request.
	fetched, ok := s.fetchChain(ctx, symbol, days)
	if !ok {
		if len(local) > 0 {
			s.log.Warn("all bar providers failed, serving partial archive",
				"symbol", symbol, "rows", len(local))
			return local, nil
		}
		return nil, fmt.Errorf("no bar data for %s", symbol)
	}

	if n, err := s.store.Upsert(ctx, symbol, fetched); err != nil {
		s.log.Error("archiving fetched bars failed", "symbol", symbol, "error", err)
	} else if n > 0 {
		s.log.Info("archived bars", "symbol", symbol, "new", n)
	}
	s.submitBackfill(symbol)

	if len(fetched) > days {
		fetched = fetched[len(fetched)-days:]
	}
	if withLive && s.cal.InSession() {
		fetched = s.fuseLive(ctx, symbol, fetched)
	}
	return fetched, nil
}

// SyncSymbol runs the cold fetch + archive path unconditionally; the sync
// CLI uses it. Returns the number of new rows archived.
func (s *BarService) SyncSymbol(ctx context.Context, symbol string, days int) (int, error) {
	if !domain.ValidCode(symbol) {
		return 0, fmt.Errorf("invalid symbol %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	symbol = domain.NormalizeCode(symbol)

	bars, ok := s.fetchChain(ctx, symbol, days)
	if !ok {
		return 0, fmt.Errorf("no bar data for %s", symbol)
	}
	return s.store.Upsert(ctx, symbol, bars)
}

// SyncState exposes per-symbol archive metadata.
func (s *BarService) SyncState(ctx context.Context, symbol string) (*domain.SyncState, error) {
	return s.store.SyncState(ctx, domain.NormalizeCode(symbol))
}

// StoreStats exposes archive-wide statistics.
func (s *BarService) StoreStats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

// sufficient reports whether the archive can answer a days-sized request:
// either it covers at least 80% of the window, or the full-history latch is
// set (nothing earlier exists upstream) and the archive clears the minimum
// useful depth.
func (s *BarService) sufficient(ctx context.Context, symbol string, local []domain.Bar, days int) bool {
	if len(local)*10 >= days*8 { // >= ceil(0.8*days)
		return true
	}
	if len(local) < s.cfg.Sync.MinDataDays {
		return false
	}
	full, err := s.store.IsFullHistory(ctx, symbol)
	return err == nil && full
}

// ---------------------------------------------------------------------------
// Freshness scheduling
// ---------------------------------------------------------------------------

// scheduleFreshness enqueues the background work keeping a warm symbol
// current: a HIGH incremental sync when the tail is behind or stale, and a
// LOW backfill until the full-history latch is set.
func (s *BarService) scheduleFreshness(ctx context.Context, symbol string) {
	if s.queue == nil {
		return
	}
	last, err := s.store.LastDate(ctx, symbol)
	if err != nil {
		s.log.Warn("reading last date failed", "symbol", symbol, "error", err)
		return
	}

	if s.needsIncrementalUpdate(last) || s.isStale(ctx, symbol, last) {
		s.queue.Submit(queue.High, "incr-"+symbol, s.incrementalTask(symbol))
	}
	if full, err := s.store.IsFullHistory(ctx, symbol); err == nil && !full {
		s.submitBackfill(symbol)
	}
}

// needsIncrementalUpdate reports whether the archive tail predates the most
// recent closed trading day.
func (s *BarService) needsIncrementalUpdate(lastDate string) bool {
	return lastDate != "" && lastDate < s.cal.LastTradingDay()
}

// isStale reports whether today's bar is a pre-close snapshot that survived
// past the close and must be replaced.
func (s *BarService) isStale(ctx context.Context, symbol, lastDate string) bool {
	now := s.cal.Now()
	if !marketcal.IsTradingDay(now) || lastDate != s.cal.Today() {
		return false
	}
	if now.Before(marketcal.CloseOf(now)) {
		return false
	}
	st, err := s.store.SyncState(ctx, symbol)
	if err != nil || st == nil {
		return false
	}
	return st.LastSyncAt.In(marketcal.CST).Before(marketcal.CloseOf(now))
}

// incrementalTask fetches the gap between the archive tail and today.
func (s *BarService) incrementalTask(symbol string) queue.Fn {
	return func(ctx context.Context) error {
		last, err := s.store.LastDate(ctx, symbol)
		if err != nil {
			return err
		}
		gap := 30
		if last != "" {
			if t, perr := time.Parse(domain.DateLayout, last); perr == nil {
				gap = int(s.cal.Now().Sub(t).Hours()/24) + 5
			}
		}
		if gap > s.cfg.Sync.BackfillPageDays {
			gap = s.cfg.Sync.BackfillPageDays
		}

		bars, ok := s.fetchChain(ctx, symbol, gap)
		if !ok {
			return fmt.Errorf("incremental fetch for %s: all providers failed", symbol)
		}
		n, err := s.store.Upsert(ctx, symbol, bars)
		if err != nil {
			return err
		}
		s.log.Info("incremental sync done", "symbol", symbol, "new", n)
		return nil
	}
}

func (s *BarService) submitBackfill(symbol string) {
	if s.queue == nil {
		return
	}
	s.queue.Submit(queue.Low, "backfill-"+symbol, s.backfillTask(symbol))
}

// backfillTask walks history backward one provider page at a time. An empty
// page means the upstream has nothing earlier; that sets the one-way
// full-history latch.
func (s *BarService) backfillTask(symbol string) queue.Fn {
	return func(ctx context.Context) error {
		for iter := 0; iter < s.cfg.Sync.BackfillMaxIter; iter++ {
			if full, err := s.store.IsFullHistory(ctx, symbol); err != nil || full {
				return err
			}
			first, err := s.store.FirstDate(ctx, symbol)
			if err != nil || first == "" {
				return err
			}
			firstDay, err := time.Parse(domain.DateLayout, first)
			if err != nil {
				return err
			}
			end := firstDay.AddDate(0, 0, -1).Format(domain.DateLayout)

			page, ok := s.fetchPage(ctx, symbol, s.cfg.Sync.BackfillPageDays, end)
			if !ok {
				return fmt.Errorf("backfill fetch for %s: all providers failed", symbol)
			}
			if len(page) == 0 {
				if err := s.store.MarkFullHistory(ctx, symbol); err != nil {
					return err
				}
				s.log.Info("backfill complete", "symbol", symbol, "firstDate", first)
				return nil
			}

			n, err := s.store.Upsert(ctx, symbol, page)
			if err != nil {
				return err
			}
			s.log.Info("backfill page archived", "symbol", symbol, "new", n, "before", end)
			if n == 0 {
				// Page repeated already-known rows; stop rather than loop.
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.BackfillDelay()):
			}
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Provider chain
// ---------------------------------------------------------------------------

// chainFor returns the configured bar-provider order for a request size:
// small requests prefer the fast page-limited source, deep requests prefer
// the high-capacity one.
func (s *BarService) chainFor(days int) []string {
	if days <= 640 {
		return s.cfg.Providers.BarOrderSmall
	}
	return s.cfg.Providers.BarOrderLarge
}

// fetchChain pulls a full window through the fallback executor, paginating
// within whichever provider wins.
func (s *BarService) fetchChain(ctx context.Context, symbol string, days int) ([]domain.Bar, bool) {
	var attempts []fallback.Attempt[[]domain.Bar]
	for _, name := range s.chainFor(days) {
		p, ok := s.providers[name]
		if !ok {
			continue
		}
		attempts = append(attempts, fallback.Attempt[[]domain.Bar]{
			Name: p.Name(),
			Fn: func(ctx context.Context) ([]domain.Bar, error) {
				return s.fetchPaged(ctx, p, symbol, days)
			},
		})
	}
	ex := fallback.New(attempts, func(bs []domain.Bar) bool { return len(bs) == 0 }, s.log, symbol)
	return ex.Execute(ctx)
}

// fetchPage pulls a single provider page ending at end through the chain.
func (s *BarService) fetchPage(ctx context.Context, symbol string, days int, end string) ([]domain.Bar, bool) {
	var attempts []fallback.Attempt[[]domain.Bar]
	for _, name := range s.chainFor(days) {
		p, ok := s.providers[name]
		if !ok || p.MaxBarsPerCall() == 0 {
			continue
		}
		attempts = append(attempts, fallback.Attempt[[]domain.Bar]{
			Name: p.Name(),
			Fn: func(ctx context.Context) ([]domain.Bar, error) {
				return p.FetchBars(ctx, symbol, days, end)
			},
		})
	}
	// Backfill pages distinguish "provider failed" from "no earlier bars";
	// an empty page is a meaningful success here.
	ex := fallback.New(attempts, nil, s.log, symbol)
	return ex.Execute(ctx)
}

// fetchPaged drives pagination against one provider: request the most
// recent page, then keep asking for pages ending the day before the
// earliest row until the window is covered or the upstream runs dry.
func (s *BarService) fetchPaged(ctx context.Context, p provider.BarProvider, symbol string, days int) ([]domain.Bar, error) {
	pageSize := p.MaxBarsPerCall()
	if pageSize == 0 {
		return nil, provider.ErrUnsupported
	}

	var all []domain.Bar
	remaining := days
	end := ""
	for page := 0; page < maxFetchPages && remaining > 0; page++ {
		want := remaining
		if want > pageSize {
			want = pageSize
		}
		batch, err := p.FetchBars(ctx, symbol, want, end)
		if err != nil {
			if len(all) > 0 {
				break // keep what we have
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		remaining -= len(batch)
		if len(batch) < want {
			break // upstream history exhausted
		}

		earliest, err := time.Parse(domain.DateLayout, batch[0].Date)
		if err != nil {
			break
		}
		end = earliest.AddDate(0, 0, -1).Format(domain.DateLayout)
	}

	return dedupeSort(all), nil
}

// dedupeSort removes duplicate dates (last occurrence wins) and sorts
// ascending.
func dedupeSort(bars []domain.Bar) []domain.Bar {
	if len(bars) == 0 {
		return bars
	}
	byDate := make(map[string]domain.Bar, len(bars))
	for _, b := range bars {
		byDate[b.Date] = b
	}
	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// ---------------------------------------------------------------------------
// Live fusion
// ---------------------------------------------------------------------------

// fuseLive overlays the live quote onto today's bar: merge into an existing
// today bar (close tracks the live price, high/low widen, volume is
// replaced) or append a synthetic one. Fusing twice with the same quote is
// a no-op.
func (s *BarService) fuseLive(ctx context.Context, symbol string, bars []domain.Bar) []domain.Bar {
	if s.quotes == nil {
		return bars
	}
	q, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil || q == nil || q.Now <= 0 {
		return bars
	}

	today := s.cal.Today()
	if n := len(bars); n > 0 && bars[n-1].Date == today {
		b := &bars[n-1]
		b.Close = q.Now
		if q.Now > b.High {
			b.High = q.Now
		}
		if q.Now < b.Low {
			b.Low = q.Now
		}
		if q.Volume > 0 {
			b.Volume = q.Volume
		}
		return bars
	}

	live := domain.Bar{
		Symbol: symbol,
		Date:   today,
		Open:   q.Open,
		High:   q.High,
		Low:    q.Low,
		Close:  q.Now,
		Volume: q.Volume,
	}
	if live.Open <= 0 {
		live.Open = q.Now
	}
	if live.High <= 0 {
		live.High = q.Now
	}
	if live.Low <= 0 {
		live.Low = q.Now
	}
	return append(bars, live)
}
