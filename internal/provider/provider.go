// Package provider implements the upstream market data adapters: Tencent,
// Eastmoney, Sina, and Yahoo. Each adapter wraps one public HTTP endpoint
// family behind a narrow interface so the service layer can chain them
// through the fallback executor without knowing wire formats.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"marketd/internal/domain"
	"marketd/internal/util"
)

// Sentinel error kinds. Adapters wrap these with fmt.Errorf("...: %w", ...)
// so callers can classify failures with errors.Is.
var (
	// ErrNotFound means the upstream answered but had no data for the symbol.
	ErrNotFound = errors.New("symbol not found")
	// ErrUnsupported means the adapter does not implement the requested
	// capability (e.g. Sina has no historical bars).
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrRateLimited means the upstream rejected the call for pacing reasons.
	ErrRateLimited = errors.New("provider rate limited")
)

// ---------------------------------------------------------------------------
// Adapter interfaces
// ---------------------------------------------------------------------------

// BarProvider serves historical daily bars. FetchBars returns at most one
// upstream page (MaxBarsPerCall rows); the caller drives pagination by
// passing an endDate and calling again. endDate "" means "most recent".
// Returned bars are ascending by date.
type BarProvider interface {
	Name() string
	MaxBarsPerCall() int
	FetchBars(ctx context.Context, symbol string, days int, endDate string) ([]domain.Bar, error)
}

// QuoteProvider serves live quote snapshots for a batch of symbols. Missing
// symbols are simply absent from the result map.
type QuoteProvider interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

// IntradayProvider serves the current session's minute price curve.
type IntradayProvider interface {
	Name() string
	FetchIntraday(ctx context.Context, symbol string) ([]domain.IntradayPoint, error)
}

// IndexProvider serves live index snapshots (CN, HK, US).
type IndexProvider interface {
	Name() string
	FetchIndex(ctx context.Context, symbol string) (*domain.IndexQuote, error)
}

// ---------------------------------------------------------------------------
// Shared HTTP plumbing
// ---------------------------------------------------------------------------

// Options configures the shared HTTP behaviour of an adapter.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RatePerMin     int
	Logger         *slog.Logger
}

// DefaultOptions returns the production adapter settings: 15s request
// timeout, 3 attempts with 2s doubling backoff, 60 calls per minute.
func DefaultOptions() Options {
	return Options{
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		RatePerMin:     60,
		Logger:         slog.Default(),
	}
}

// client is the HTTP substrate every adapter embeds: one http.Client with a
// hard timeout, a token-bucket limiter pacing upstream calls, and the retry
// policy shared by all endpoints.
type client struct {
	http    *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	log     *slog.Logger

	// notOK is set after a catastrophic parse failure. The flag is
	// observational: the next call still goes out and rechecks the upstream.
	notOK atomic.Bool
}

// Available reports whether the adapter's last response parsed cleanly.
func (c *client) Available() bool { return !c.notOK.Load() }

// reportParse records the outcome of response parsing. A missing symbol is
// not a parse failure; a malformed body is.
func (c *client) reportParse(err error) {
	bad := err != nil && !errors.Is(err, ErrNotFound)
	if bad && !c.notOK.Load() {
		c.log.Warn("adapter response did not parse, marking unavailable", "error", err)
	}
	c.notOK.Store(bad)
}

func newClient(opts Options) *client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.RatePerMin <= 0 {
		opts.RatePerMin = 60
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &client{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RatePerMin)/60.0), opts.RatePerMin/6+1),
		retries: opts.MaxRetries,
		backoff: opts.RetryBaseDelay,
		log:     opts.Logger,
	}
}

// get fetches url with pacing and retries and returns the raw body. When
// gbk is true the body is transcoded from GBK to UTF-8 before returning.
func (c *client) get(ctx context.Context, url string, gbk bool, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err := util.Retry(ctx, c.retries, c.backoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%s: %w", url, ErrRateLimited)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", url, resp.StatusCode)
		}

		var r io.Reader = resp.Body
		if gbk {
			r = transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
		}
		body, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// parseFloat converts an upstream numeric field, treating empty and garbage
// values as zero. Upstream wire formats routinely carry blanks.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
