// marketd is the market data engine server: it answers bar, quote,
// intraday, analysis, and watchlist requests over HTTP while background
// workers keep the local bar archive synchronized.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketd/internal/analysis"
	"marketd/internal/config"
	"marketd/internal/httpapi"
	"marketd/internal/marketcal"
	"marketd/internal/provider"
	"marketd/internal/queue"
	"marketd/internal/service"
	"marketd/internal/store"
	"marketd/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/marketd.yaml"
	if p := os.Getenv("MARKETD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging, teed into a dated file.
	logFileName := fmt.Sprintf("/tmp/marketd-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Store, queue, calendar.
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer st.Close()

	q := queue.New(cfg.Sync.Workers, logger)
	cal := marketcal.New(nil)

	// Upstream adapters.
	opts := provider.Options{
		Timeout:        cfg.RequestTimeout(),
		MaxRetries:     cfg.Providers.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		RatePerMin:     cfg.Providers.RateLimitPerMin,
		Logger:         logger,
	}
	tencent := provider.NewTencent(opts)
	eastmoney := provider.NewEastmoney(opts)
	sina := provider.NewSina(opts)
	yahoo := provider.NewYahoo(opts)

	// Services.
	quotes := service.NewQuoteService(
		[]provider.QuoteProvider{sina, tencent, eastmoney},
		[]provider.IntradayProvider{eastmoney, tencent},
		[]provider.IndexProvider{sina, tencent, eastmoney, yahoo},
		cfg, logger)
	bars := service.NewBarService(st, q, quotes,
		[]provider.BarProvider{tencent, eastmoney, sina}, cfg, cal, logger)
	analyzer := analysis.NewAnalyzer(bars, logger)
	directory := service.NewDirectory(cfg.Storage.DataDir, eastmoney, q, logger)
	watchlist := service.NewWatchlist(cfg.Storage.DataDir, logger)

	srv := httpapi.NewServer(bars, quotes, analyzer, directory, watchlist, st, q, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("marketd listening", "addr", httpServer.Addr, "workers", cfg.Sync.Workers)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down marketd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	q.Shutdown(10 * time.Second)
	slog.Info("marketd stopped")
}
