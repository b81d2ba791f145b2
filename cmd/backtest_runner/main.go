// cmd/backtest_runner replays historical bars through the squeeze strategy.
//
// Bars come from BARS_DIR CSV files (written by cmd/fetch_bars) with a
// Binance fetch as fallback. Modes:
//
//	go run ./cmd/backtest_runner                        # per-symbol batch
//	go run ./cmd/backtest_runner -mode=portfolio        # shared-capital replay
//	go run ./cmd/backtest_runner -mode=optimize         # threshold grid search
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"squeezeScanner/config"
	"squeezeScanner/internal/adapters/binanceclient"
	"squeezeScanner/internal/adapters/logger"
	"squeezeScanner/internal/adapters/sqlite"
	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/analytics"
	"squeezeScanner/internal/strategy/backtesting"
	"squeezeScanner/internal/strategy/indicators"
	"squeezeScanner/internal/strategy/optimization"
	"squeezeScanner/internal/utils"
)

func main() {
	mode := flag.String("mode", "batch", "Run mode: batch, portfolio or optimize")
	startStr := flag.String("start", "", "Inclusive start date (YYYY-MM-DD), empty = unbounded")
	endStr := flag.String("end", "", "Inclusive end date (YYYY-MM-DD), empty = unbounded")
	sortKey := flag.String("sort", "", "Order batch results by: return, winrate, trades, drawdown or symbol")
	capital := flag.Float64("capital", 10000, "Initial capital for portfolio mode")
	allocation := flag.String("allocation", "dynamic", "Portfolio allocation: equal or dynamic")
	exportTrades := flag.Bool("export-trades", false, "Write the batch run's trade ledger to a CSV in BARS_DIR")
	noSave := flag.Bool("no-save", false, "Skip persisting the batch run to the database")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize logger: %v", err)
		}
		defer zl.Sync()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// 3. Resolve symbols and window
	symbols, err := cfg.ResolveSymbols()
	if err != nil {
		log.Fatalf("FATAL: Failed to resolve watchlist: %v", err)
	}
	start, err := parseDate(*startStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid -start: %v", err)
	}
	end, err := parseDate(*endStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid -end: %v", err)
	}

	// 4. Build the strategy stack
	engine, err := indicators.NewEngine(indicators.EngineConfig{
		BBPeriod:           cfg.BBPeriod,
		BBStdDevMultiplier: cfg.BBStdDevMultiplier,
		RSIPeriod:          cfg.RSIPeriod,
		VolatilityLookback: cfg.VolatilityLookback,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize indicator engine: %v", err)
	}
	detectorCfg := strategy.Config{
		RSIOverbought:           cfg.RSIOverbought,
		VolatilityThreshold:     cfg.VolatilityThreshold,
		PartialExitBandPosition: cfg.PartialExitBandPosition,
		MidBandTolerance:        cfg.MidBandTolerance,
		FullExitBandPosition:    cfg.FullExitBandPosition,
	}
	detector, err := strategy.New(detectorCfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal detector: %v", err)
	}
	sim, err := backtesting.New(engine, detector, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize simulator: %v", err)
	}

	provider, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Load bar series, CSV first, provider as fallback
	series := loadSeries(ctx, cfg, appLogger, provider, symbols, start, end)

	runCfg := backtesting.Config{
		Start:      start,
		End:        end,
		MaxSymbols: cfg.MaxSymbolsPerBacktest,
		Interval:   cfg.Interval,
		Preset:     cfg.Preset,
	}
	if cfg.OpenAtEnd == "close" {
		runCfg.OnOpenAtEnd = backtesting.CloseAtEnd
	}

	// 6. Run the selected mode
	switch *mode {
	case "batch":
		runBatch(ctx, cfg, appLogger, sim, runCfg, series, symbols, *sortKey, !*noSave, *exportTrades)
	case "portfolio":
		runPortfolio(ctx, sim, runCfg, backtesting.PortfolioConfig{
			Mode:           backtesting.PortfolioMode(*allocation),
			InitialCapital: *capital,
		}, series, symbols)
	case "optimize":
		runOptimize(ctx, appLogger, engine, detectorCfg, runCfg, series, symbols)
	default:
		log.Fatalf("FATAL: Unknown -mode %q (batch, portfolio or optimize)", *mode)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// loadSeries loads every symbol concurrently. A symbol that fails to load
// stays absent from the map; the batch reports it as insufficient history.
func loadSeries(ctx context.Context, cfg *config.Config, appLogger ports.Logger, provider ports.BarProvider, symbols []string, start, end time.Time) map[string][]domain.Bar {
	series := make(map[string][]domain.Bar, len(symbols))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			bars, source, err := loadSymbolBars(ctx, cfg, provider, symbol, start, end)
			if err != nil {
				appLogger.Error(ctx, err, "Failed to load bars", map[string]interface{}{"symbol": symbol})
				return
			}
			mu.Lock()
			series[symbol] = bars
			mu.Unlock()
			appLogger.Info(ctx, "Loaded bars", map[string]interface{}{
				"symbol": symbol,
				"bars":   len(bars),
				"source": source,
			})
		}(symbol)
	}
	wg.Wait()
	return series
}

func loadSymbolBars(ctx context.Context, cfg *config.Config, provider ports.BarProvider, symbol string, start, end time.Time) ([]domain.Bar, string, error) {
	path := filepath.Join(cfg.BarsDir, fmt.Sprintf("%s_%s.csv", symbol, cfg.Interval))
	bars, err := utils.ReadBarsFromCSV(path)
	switch {
	case err == nil:
		return bars, "csv", nil
	case !errors.Is(err, os.ErrNotExist):
		// A present but unreadable file is a real problem; do not mask it
		// with a network fetch.
		return nil, "", err
	}

	if !start.IsZero() {
		rangeEnd := end
		if rangeEnd.IsZero() {
			rangeEnd = time.Now().UTC()
		}
		bars, err = provider.GetBarsRange(ctx, symbol, cfg.Interval, start, rangeEnd)
	} else {
		bars, err = provider.GetBars(ctx, symbol, cfg.Interval, cfg.BarLimit)
	}
	if err != nil {
		return nil, "", err
	}
	return bars, "binance", nil
}

func runBatch(ctx context.Context, cfg *config.Config, appLogger ports.Logger, sim *backtesting.Simulator, runCfg backtesting.Config, series map[string][]domain.Bar, symbols []string, sortKey string, save, exportTrades bool) {
	run, err := sim.RunBatch(ctx, runCfg, series, symbols)
	if err != nil {
		log.Fatalf("FATAL: Batch run failed: %v", err)
	}

	if sortKey != "" {
		if err := analytics.SortResults(run.Results, sortKey); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	renderRun(run)

	if save {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			log.Fatalf("FATAL: Failed to open run database: %v", err)
		}
		defer repo.Close()
		if err := repo.SaveRun(ctx, run); err != nil {
			log.Fatalf("FATAL: Failed to persist run: %v", err)
		}
		appLogger.Info(ctx, "Run persisted", map[string]interface{}{"runID": run.ID, "db": cfg.DBPath})
	}

	if exportTrades {
		var trades []*domain.TradeRecord
		for _, res := range run.Results {
			trades = append(trades, res.Trades...)
		}
		path := filepath.Join(cfg.BarsDir, fmt.Sprintf("trades_%s.csv", run.ID[:8]))
		if err := utils.WriteTradesToCSV(trades, path); err != nil {
			appLogger.Error(ctx, err, "Failed to export trade ledger", map[string]interface{}{"path": path})
			return
		}
		appLogger.Info(ctx, "Trade ledger exported", map[string]interface{}{"path": path, "trades": len(trades)})
	}
}

func renderRun(run *domain.BacktestRun) {
	fmt.Printf("\nRun %s (preset=%s interval=%s rsi=%g vol=%g)\n",
		run.ID, run.Preset, run.Interval, run.RSIOverbought, run.VolatilityThreshold)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Trades", "Return %", "Win %", "PF", "Max DD %", "Avg Win %", "Avg Loss %", "Sharpe", "Open", "Error")
	for _, res := range run.Results {
		if res.Err != "" {
			table.Append(res.Symbol, "-", "-", "-", "-", "-", "-", "-", "-", "-", res.Err)
			continue
		}
		table.Append(
			res.Symbol,
			strconv.Itoa(res.TotalTrades),
			fmt.Sprintf("%.2f", res.TotalReturnPct),
			fmt.Sprintf("%.1f", res.WinRatePct),
			profitFactorLabel(res),
			fmt.Sprintf("%.2f", res.MaxDrawdownPct),
			fmt.Sprintf("%.2f", res.AvgWinPct),
			fmt.Sprintf("%.2f", res.AvgLossPct),
			fmt.Sprintf("%.2f", res.SharpeRatio),
			openLabel(res.OpenAtEnd),
			"",
		)
	}
	table.Render()
}

func profitFactorLabel(res *domain.SymbolResult) string {
	switch {
	case res.ProfitFactorInfinite:
		return "inf"
	case res.TotalTrades == 0:
		return "-"
	default:
		return fmt.Sprintf("%.2f", res.ProfitFactor)
	}
}

func openLabel(open bool) string {
	if open {
		return "yes"
	}
	return ""
}

func runPortfolio(ctx context.Context, sim *backtesting.Simulator, runCfg backtesting.Config, pcfg backtesting.PortfolioConfig, series map[string][]domain.Bar, symbols []string) {
	res, err := sim.RunPortfolio(ctx, runCfg, pcfg, series, symbols)
	if err != nil {
		log.Fatalf("FATAL: Portfolio run failed: %v", err)
	}

	fmt.Printf("\nPortfolio replay: %d symbols, %d trading days\n", len(res.Symbols), res.TradingDays)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Mode", "Initial", "Final", "Return %", "Max DD %", "Sharpe", "Buys", "Sells", "Max Open", "Avg Open")
	table.Append(
		string(res.Mode),
		fmt.Sprintf("%.2f", res.InitialCapital),
		fmt.Sprintf("%.2f", res.FinalValue),
		fmt.Sprintf("%.2f", res.TotalReturnPct),
		fmt.Sprintf("%.2f", res.MaxDrawdownPct),
		fmt.Sprintf("%.2f", res.SharpeRatio),
		strconv.Itoa(res.BuyCount),
		strconv.Itoa(res.SellCount),
		strconv.Itoa(res.MaxOpenPositions),
		fmt.Sprintf("%.1f", res.AvgOpenPositions),
	)
	table.Render()
}

// defaultRanges is the stock grid swept by optimize mode: RSI gate,
// compression threshold and the lower-band exit.
var defaultRanges = []optimization.ParameterRange{
	{Name: optimization.ParamRSIOverbought, Min: 60, Max: 75, Step: 5},
	{Name: optimization.ParamVolatilityThreshold, Min: 0.1, Max: 0.3, Step: 0.05},
	{Name: optimization.ParamFullExitBandPosition, Min: 0.05, Max: 0.2, Step: 0.05},
}

func runOptimize(ctx context.Context, appLogger ports.Logger, engine *indicators.Engine, base strategy.Config, runCfg backtesting.Config, series map[string][]domain.Bar, symbols []string) {
	symbol := ""
	for _, s := range symbols {
		if len(series[s]) > 0 {
			symbol = s
			break
		}
	}
	if symbol == "" {
		log.Fatalf("FATAL: No symbol has bars to optimize against")
	}

	opt, err := optimization.New(optimization.Config{
		Engine: engine,
		Base:   base,
		Ranges: defaultRanges,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize optimizer: %v", err)
	}

	results, err := opt.Optimize(ctx, runCfg, symbol, series[symbol])
	if err != nil {
		log.Fatalf("FATAL: Optimization failed: %v", err)
	}
	if len(results) == 0 {
		log.Fatalf("FATAL: No parameter combination produced a usable replay")
	}

	top := results[:min(10, len(results))]
	fmt.Printf("\nTop %d of %d combinations on %s\n", len(top), len(results), symbol)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Score", "RSI OB", "Vol Thr", "Full Exit", "Trades", "Return %", "Win %", "Max DD %")
	for _, r := range top {
		table.Append(
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.0f", r.Config.RSIOverbought),
			fmt.Sprintf("%.2f", r.Config.VolatilityThreshold),
			fmt.Sprintf("%.2f", r.Config.FullExitBandPosition),
			strconv.Itoa(r.Metrics.TotalTrades),
			fmt.Sprintf("%.2f", r.Metrics.TotalReturnPct),
			fmt.Sprintf("%.1f", r.Metrics.WinRatePct),
			fmt.Sprintf("%.2f", r.Metrics.MaxDrawdownPct),
		)
	}
	table.Render()
}
