// cmd/analyze_backtests compares backtest runs persisted by
// cmd/backtest_runner.
//
//	go run ./cmd/analyze_backtests                     # recent runs side by side
//	go run ./cmd/analyze_backtests -run=<id>           # one run, per symbol
//	go run ./cmd/analyze_backtests -run=<id> -symbol=BTCUSDT   # trade ledger
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"squeezeScanner/config"
	"squeezeScanner/internal/adapters/logger"
	"squeezeScanner/internal/adapters/sqlite"
	"squeezeScanner/internal/domain"
)

func main() {
	limit := flag.Int("limit", 10, "How many recent runs to list")
	runID := flag.String("run", "", "Show one run's per-symbol results instead of the run list")
	symbol := flag.String("symbol", "", "With -run: also print this symbol's trade ledger")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open run database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if *runID != "" {
		showRun(ctx, repo, *runID, *symbol)
		return
	}
	listRuns(ctx, repo, *limit)
}

func listRuns(ctx context.Context, repo *sqlite.Repository, limit int) {
	runs, err := repo.ListRuns(ctx, limit)
	if err != nil {
		log.Fatalf("FATAL: Failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		log.Println("No stored runs found. Run cmd/backtest_runner first.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Run\tCreated\tPreset\tInterval\tRSI\tVol\tSymbols\tFailed\tTrades\tAvgReturn%\tBest\t")
	for _, run := range runs {
		agg := aggregateRun(run)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%.2f\t%d\t%d\t%d\t%.2f\t%s\t\n",
			shortID(run.ID),
			run.CreatedAt.Format("2006-01-02 15:04"),
			run.Preset,
			run.Interval,
			run.RSIOverbought,
			run.VolatilityThreshold,
			len(run.Results),
			agg.failed,
			agg.trades,
			agg.avgReturnPct,
			agg.bestSymbol,
		)
	}
	w.Flush()
	fmt.Println("\nUse -run=<id> for a run's per-symbol breakdown.")
}

// runAggregate condenses one run for the side-by-side listing.
type runAggregate struct {
	failed       int
	trades       int
	avgReturnPct float64
	bestSymbol   string
}

func aggregateRun(run *domain.BacktestRun) runAggregate {
	var agg runAggregate
	usable := 0
	bestReturn := 0.0
	for _, res := range run.Results {
		if res.Err != "" {
			agg.failed++
			continue
		}
		usable++
		agg.trades += res.TotalTrades
		agg.avgReturnPct += res.TotalReturnPct
		if agg.bestSymbol == "" || res.TotalReturnPct > bestReturn {
			agg.bestSymbol = res.Symbol
			bestReturn = res.TotalReturnPct
		}
	}
	if usable > 0 {
		agg.avgReturnPct /= float64(usable)
	}
	return agg
}

func showRun(ctx context.Context, repo *sqlite.Repository, runID, symbol string) {
	run, err := repo.FindRun(ctx, runID)
	if err != nil {
		log.Fatalf("FATAL: Failed to load run: %v", err)
	}
	if run == nil {
		log.Fatalf("FATAL: No run with ID %q", runID)
	}

	fmt.Printf("Run %s\ncreated=%s preset=%s interval=%s rsi=%g vol=%g\n\n",
		run.ID, run.CreatedAt.Format("2006-01-02 15:04"), run.Preset, run.Interval,
		run.RSIOverbought, run.VolatilityThreshold)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Symbol\tTrades\tReturn%\tWin%\tPF\tMaxDD%\tAvgWin%\tAvgLoss%\tSharpe\tOpen\tError\t")
	for _, res := range run.Results {
		if res.Err != "" {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t-\t-\t-\t%s\t\n", res.Symbol, res.Err)
			continue
		}
		pf := fmt.Sprintf("%.2f", res.ProfitFactor)
		if res.ProfitFactorInfinite {
			pf = "inf"
		}
		open := ""
		if res.OpenAtEnd {
			open = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.1f\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t\t\n",
			res.Symbol, res.TotalTrades, res.TotalReturnPct, res.WinRatePct, pf,
			res.MaxDrawdownPct, res.AvgWinPct, res.AvgLossPct, res.SharpeRatio, open)
	}
	w.Flush()

	if symbol != "" {
		showLedger(ctx, repo, run.ID, symbol)
	}
}

func showLedger(ctx context.Context, repo *sqlite.Repository, runID, symbol string) {
	trades, err := repo.TradesForRun(ctx, runID, symbol)
	if err != nil {
		log.Fatalf("FATAL: Failed to load trades: %v", err)
	}
	if len(trades) == 0 {
		fmt.Printf("\nNo completed trades stored for %s in this run.\n", symbol)
		return
	}

	fmt.Printf("\nTrade ledger for %s (%d trades)\n", symbol, len(trades))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Entry\tEntryPx\tExit\tExitPx\tFraction\tReason\tExitRet%\tTradeRet%\t")
	for _, trade := range trades {
		for _, exit := range trade.Exits {
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%.2f\t%.2f\t%s\t%.2f\t%.2f\t\n",
				trade.EntryTime.Format("2006-01-02"),
				trade.EntryPrice,
				exit.Time.Format("2006-01-02"),
				exit.Price,
				exit.FractionClosed,
				exit.Reason,
				exit.ReturnPct(trade.EntryPrice),
				trade.TotalReturnPct)
		}
	}
	w.Flush()

	analyzeExitReasons(trades)
}

// analyzeExitReasons breaks the ledger down by why positions were closed.
func analyzeExitReasons(trades []*domain.TradeRecord) {
	counts := make(map[domain.ExitReason]int)
	returns := make(map[domain.ExitReason]float64)
	for _, trade := range trades {
		for _, exit := range trade.Exits {
			counts[exit.Reason]++
			returns[exit.Reason] += exit.ReturnPct(trade.EntryPrice)
		}
	}

	reasons := make([]domain.ExitReason, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	fmt.Println("\nExit reasons:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Reason\tCount\tTotalRet%\tAvgRet%\t")
	for _, reason := range reasons {
		count := counts[reason]
		total := returns[reason]
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t\n", reason, count, total, total/float64(count))
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
