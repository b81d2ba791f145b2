package domain

import "time"

// PositionState tracks the lifecycle of a single symbol's position through
// the flat -> fully-open -> partially-closed -> flat cycle. Exactly one state
// exists per symbol at a time; transitions are owned by the position tracker.
type PositionState struct {
	Symbol               string         // Ticker symbol
	Status               PositionStatus // Current lifecycle stage
	EntryPrice           float64        // Price at which the position was entered (zero when flat)
	EntryTime            time.Time      // Timestamp of the entry bar (zero value when flat)
	QuantityOpenFraction float64        // Fraction of the original size still open: 1.0, 0.5 or 0.0
	Exits                []ExitEvent    // Exit events recorded so far, in order
}

// NewFlatPosition returns the initial state for a symbol with no open position.
func NewFlatPosition(symbol string) *PositionState {
	return &PositionState{Symbol: symbol, Status: StatusFlat}
}

// IsOpen reports whether any fraction of the position is still open.
func (p *PositionState) IsOpen() bool {
	return p.Status == StatusFullyOpen || p.Status == StatusPartiallyClosed
}
