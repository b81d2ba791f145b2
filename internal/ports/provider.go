package ports

import (
	"context"
	"time"

	"squeezeScanner/internal/domain"
)

// BarProvider defines the interface for fetching historical price bars.
// It decouples the scan and backtest pipelines from any concrete market-data
// source. Transient failures should wrap ErrProviderUnavailable so callers
// can decide whether to retry.
type BarProvider interface {
	// GetBars retrieves the most recent bars for the given symbol and
	// interval, oldest first. An empty result means the provider has no
	// history for the symbol, which callers treat as insufficient history
	// rather than an error.
	GetBars(ctx context.Context, symbol string, interval string, limit int) ([]domain.Bar, error)

	// GetBarsRange retrieves all bars between start and end (inclusive),
	// oldest first.
	GetBarsRange(ctx context.Context, symbol string, interval string, start, end time.Time) ([]domain.Bar, error)
}
