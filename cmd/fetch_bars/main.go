// cmd/fetch_bars downloads historical bars for every watchlist symbol and
// writes them to BARS_DIR as <SYMBOL>_<interval>.csv, the layout
// cmd/backtest_runner reads.
//
//	go run ./cmd/fetch_bars -days=365
//	go run ./cmd/fetch_bars -start=2024-01-01 -end=2024-06-30
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"squeezeScanner/config"
	"squeezeScanner/internal/adapters/binanceclient"
	"squeezeScanner/internal/adapters/logger"
	"squeezeScanner/internal/utils"
)

func main() {
	days := flag.Int("days", 365, "How many days back to fetch when -start is not given")
	startStr := flag.String("start", "", "Inclusive start date (YYYY-MM-DD)")
	endStr := flag.String("end", "", "Inclusive end date (YYYY-MM-DD), empty = now")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 3. Resolve the window
	end := time.Now().UTC()
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("FATAL: Invalid -end: %v", err)
		}
	}
	var start time.Time
	if *startStr != "" {
		start, err = time.Parse("2006-01-02", *startStr)
		if err != nil {
			log.Fatalf("FATAL: Invalid -start: %v", err)
		}
	} else {
		start = end.AddDate(0, 0, -*days)
	}

	symbols, err := cfg.ResolveSymbols()
	if err != nil {
		log.Fatalf("FATAL: Failed to resolve watchlist: %v", err)
	}

	// 4. Initialize Bar Provider (Binance Adapter)
	provider, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	if err := os.MkdirAll(cfg.BarsDir, 0o755); err != nil {
		log.Fatalf("FATAL: Failed to create bars directory %s: %v", cfg.BarsDir, err)
	}

	appLogger.Info(ctx, "Fetching bars", map[string]interface{}{
		"symbols":  len(symbols),
		"interval": cfg.Interval,
		"start":    start.Format("2006-01-02"),
		"end":      end.Format("2006-01-02"),
	})

	// 5. Fetch sequentially; the client's rate limiter paces the requests.
	failed := 0
	for _, symbol := range symbols {
		bars, err := provider.GetBarsRange(ctx, symbol, cfg.Interval, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching bars", map[string]interface{}{"symbol": symbol})
			failed++
			continue
		}
		if len(bars) == 0 {
			appLogger.Warn(ctx, "No bars in window, nothing written", map[string]interface{}{"symbol": symbol})
			continue
		}

		filename := filepath.Join(cfg.BarsDir, fmt.Sprintf("%s_%s.csv", symbol, cfg.Interval))
		if err := utils.WriteBarsToCSV(bars, filename); err != nil {
			appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"filename": filename})
			failed++
			continue
		}
		appLogger.Info(ctx, "Saved bars", map[string]interface{}{
			"symbol":   symbol,
			"bars":     len(bars),
			"filename": filename,
		})
	}

	if failed > 0 {
		log.Fatalf("FATAL: %d of %d symbols failed", failed, len(symbols))
	}
}
