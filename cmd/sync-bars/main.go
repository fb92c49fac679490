// sync-bars pulls daily-bar history for a list of symbols into the local
// archive. Symbols come from positional args or a file (one code per line,
// # comments allowed).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketd/internal/config"
	"marketd/internal/domain"
	"marketd/internal/marketcal"
	"marketd/internal/provider"
	"marketd/internal/service"
	"marketd/internal/store"
	"marketd/internal/util"
)

func main() {
	var (
		symbolFile = flag.String("file", "", "file with one symbol per line")
		days       = flag.Int("days", 640, "days of history to fetch per symbol")
		pause      = flag.Duration("pause", time.Second, "pause between symbols")
	)
	flag.Parse()

	cfgPath := "config/marketd.yaml"
	if p := os.Getenv("MARKETD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	symbols := flag.Args()
	if *symbolFile != "" {
		fromFile, err := readSymbolFile(*symbolFile)
		if err != nil {
			log.Fatalf("reading symbol file: %v", err)
		}
		symbols = append(symbols, fromFile...)
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols: pass codes as args or via -file")
	}

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer st.Close()

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

	bars := service.NewBarService(st, nil, nil,
		[]provider.BarProvider{tencent, eastmoney, sina}, cfg, marketcal.New(nil), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var synced, failed int
	for i, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		n, err := bars.SyncSymbol(ctx, sym, *days)
		if err != nil {
			logger.Error("sync failed", "symbol", sym, "error", err)
			failed++
		} else {
			fmt.Printf("%s: %d new bars\n", domain.NormalizeCode(sym), n)
			synced++
		}
		if i < len(symbols)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(*pause):
			}
		}
	}

	fmt.Printf("done: %d synced, %d failed of %d symbols\n", synced, failed, len(symbols))
	if failed > 0 {
		os.Exit(1)
	}
}

func readSymbolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var symbols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	return symbols, sc.Err()
}
