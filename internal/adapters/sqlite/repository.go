package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.RunRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/squeeze_scanner.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		interval TEXT NOT NULL,
		preset TEXT NOT NULL,
		start_time TIMESTAMP DEFAULT NULL,
		end_time TIMESTAMP DEFAULT NULL,
		rsi_overbought REAL NOT NULL,
		volatility_threshold REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		total_trades INTEGER NOT NULL,
		total_return_pct REAL NOT NULL,
		win_rate_pct REAL NOT NULL,
		profit_factor REAL NOT NULL,
		profit_factor_infinite INTEGER NOT NULL DEFAULT 0,
		max_drawdown_pct REAL NOT NULL,
		avg_win_pct REAL NOT NULL,
		avg_loss_pct REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		open_at_end INTEGER NOT NULL DEFAULT 0,
		err TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS run_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		total_return_pct REAL NOT NULL,
		is_win INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_trade_exits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		exit_price REAL NOT NULL,
		fraction_closed REAL NOT NULL,
		reason TEXT NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
	CREATE INDEX IF NOT EXISTS idx_run_results_run ON run_results (run_id);
	CREATE INDEX IF NOT EXISTS idx_run_trades_run_symbol ON run_trades (run_id, symbol);
	CREATE INDEX IF NOT EXISTS idx_run_trade_exits_trade ON run_trade_exits (trade_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveRun stores a run header together with its per-symbol results and trade
// ledgers in one transaction, so a half-written run is never visible.
func (r *Repository) SaveRun(ctx context.Context, run *domain.BacktestRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run with a non-empty ID is required: %w", ports.ErrInvalidRequest)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	const insertRun = `
	INSERT INTO runs (id, created_at, interval, preset, start_time, end_time, rsi_overbought, volatility_threshold)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, insertRun,
		run.ID, run.CreatedAt, run.Interval, run.Preset,
		nullableTime(run.Start), nullableTime(run.End),
		run.RSIOverbought, run.VolatilityThreshold)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}

	const insertResult = `
	INSERT INTO run_results (run_id, symbol, total_trades, total_return_pct, win_rate_pct,
	                         profit_factor, profit_factor_infinite, max_drawdown_pct,
	                         avg_win_pct, avg_loss_pct, sharpe_ratio, open_at_end, err)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	const insertTrade = `
	INSERT INTO run_trades (run_id, symbol, entry_time, entry_price, total_return_pct, is_win)
	VALUES (?, ?, ?, ?, ?, ?)`
	const insertExit = `
	INSERT INTO run_trade_exits (trade_id, exit_time, exit_price, fraction_closed, reason)
	VALUES (?, ?, ?, ?, ?)`

	for _, res := range run.Results {
		if res == nil {
			continue
		}
		var resultErr sql.NullString
		if res.Err != "" {
			resultErr = sql.NullString{String: res.Err, Valid: true}
		}
		_, err = tx.ExecContext(ctx, insertResult,
			run.ID, res.Symbol, res.TotalTrades, res.TotalReturnPct, res.WinRatePct,
			res.ProfitFactor, res.ProfitFactorInfinite, res.MaxDrawdownPct,
			res.AvgWinPct, res.AvgLossPct, res.SharpeRatio, res.OpenAtEnd, resultErr)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s in run %s: %w: %w", res.Symbol, run.ID, ports.ErrQueryFailed, err)
		}

		for _, trade := range res.Trades {
			tradeRow, err := tx.ExecContext(ctx, insertTrade,
				run.ID, trade.Symbol, trade.EntryTime, trade.EntryPrice, trade.TotalReturnPct, trade.IsWin)
			if err != nil {
				return fmt.Errorf("failed to insert trade for %s in run %s: %w: %w", trade.Symbol, run.ID, ports.ErrQueryFailed, err)
			}
			tradeID, err := tradeRow.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get trade ID for %s in run %s: %w", trade.Symbol, run.ID, err)
			}
			for _, exit := range trade.Exits {
				_, err = tx.ExecContext(ctx, insertExit,
					tradeID, exit.Time, exit.Price, exit.FractionClosed, string(exit.Reason))
				if err != nil {
					return fmt.Errorf("failed to insert exit for trade %d in run %s: %w: %w", tradeID, run.ID, ports.ErrQueryFailed, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Backtest run persisted", map[string]interface{}{"runID": run.ID, "symbols": len(run.Results)})
	return nil
}

// FindRun retrieves a stored run by its ID with per-symbol results attached.
// Trade ledgers are omitted; use TradesForRun for those. Returns nil, nil
// when no run matches.
func (r *Repository) FindRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	const query = `
	SELECT id, created_at, interval, preset, start_time, end_time, rsi_overbought, volatility_threshold
	FROM runs
	WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Run not found", map[string]interface{}{"runID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query run %s: %w: %w", id, ports.ErrQueryFailed, err)
	}

	if run.Results, err = r.resultsForRun(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first, results attached.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.BacktestRun, error) {
	const query = `
	SELECT id, created_at, interval, preset, start_time, end_time, rsi_overbought, volatility_threshold
	FROM runs
	ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*domain.BacktestRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run during ListRuns: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	for _, run := range runs {
		if run.Results, err = r.resultsForRun(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// TradesForRun retrieves the trade ledger persisted for one symbol of a run,
// entries ordered by entry time with their exit events attached.
func (r *Repository) TradesForRun(ctx context.Context, runID, symbol string) ([]*domain.TradeRecord, error) {
	// Every persisted trade carries at least one exit, so an inner join is safe.
	const query = `
	SELECT t.id, t.entry_time, t.entry_price, t.total_return_pct, t.is_win,
	       e.exit_time, e.exit_price, e.fraction_closed, e.reason
	FROM run_trades t
	JOIN run_trade_exits e ON e.trade_id = t.id
	WHERE t.run_id = ? AND t.symbol = ?
	ORDER BY t.entry_time, t.id, e.id`

	rows, err := r.db.QueryContext(ctx, query, runID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s in run %s: %w: %w", symbol, runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.TradeRecord, 0)
	var lastTradeID int64 = -1
	for rows.Next() {
		var (
			tradeID int64
			trade   domain.TradeRecord
			exit    domain.ExitEvent
			reason  string
		)
		err := rows.Scan(
			&tradeID, &trade.EntryTime, &trade.EntryPrice, &trade.TotalReturnPct, &trade.IsWin,
			&exit.Time, &exit.Price, &exit.FractionClosed, &reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row for %s in run %s: %w", symbol, runID, err)
		}
		exit.Reason = domain.ExitReason(reason)

		if tradeID != lastTradeID {
			trade.Symbol = symbol
			trades = append(trades, &trade)
			lastTradeID = tradeID
		}
		current := trades[len(trades)-1]
		current.Exits = append(current.Exits, exit)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// resultsForRun loads the per-symbol result rows in their original insertion
// order, which preserves the symbol order of the run invocation.
func (r *Repository) resultsForRun(ctx context.Context, runID string) ([]*domain.SymbolResult, error) {
	const query = `
	SELECT symbol, total_trades, total_return_pct, win_rate_pct, profit_factor,
	       profit_factor_infinite, max_drawdown_pct, avg_win_pct, avg_loss_pct,
	       sharpe_ratio, open_at_end, err
	FROM run_results
	WHERE run_id = ?
	ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	results := make([]*domain.SymbolResult, 0)
	for rows.Next() {
		res := &domain.SymbolResult{}
		var resultErr sql.NullString
		err := rows.Scan(
			&res.Symbol, &res.TotalTrades, &res.TotalReturnPct, &res.WinRatePct, &res.ProfitFactor,
			&res.ProfitFactorInfinite, &res.MaxDrawdownPct, &res.AvgWinPct, &res.AvgLossPct,
			&res.SharpeRatio, &res.OpenAtEnd, &resultErr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result for run %s: %w", runID, err)
		}
		if resultErr.Valid {
			res.Err = resultErr.String
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return results, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans a row into a domain.BacktestRun header.
func scanRun(s scanner) (*domain.BacktestRun, error) {
	run := &domain.BacktestRun{}
	var start, end sql.NullTime
	err := s.Scan(
		&run.ID, &run.CreatedAt, &run.Interval, &run.Preset,
		&start, &end, &run.RSIOverbought, &run.VolatilityThreshold)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if start.Valid {
		run.Start = start.Time
	}
	if end.Valid {
		run.End = end.Time
	}
	return run, nil
}

// nullableTime maps the zero time to NULL so open-ended run windows survive
// a round trip unchanged.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
