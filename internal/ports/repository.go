package ports

import (
	"context"

	"squeezeScanner/internal/domain"
)

// RunRepository defines the interface for persisting and retrieving backtest runs.
type RunRepository interface {
	// SaveRun stores a completed run together with its per-symbol results and trades.
	SaveRun(ctx context.Context, run *domain.BacktestRun) error
	// FindRun retrieves a stored run by its ID, results included, trades omitted.
	// Returns nil, nil if not found.
	FindRun(ctx context.Context, id string) (*domain.BacktestRun, error)
	// ListRuns retrieves the most recent runs, newest first, up to a limit.
	ListRuns(ctx context.Context, limit int) ([]*domain.BacktestRun, error)
	// TradesForRun retrieves the trade ledger persisted for one symbol of a run.
	TradesForRun(ctx context.Context, runID, symbol string) ([]*domain.TradeRecord, error)
}
