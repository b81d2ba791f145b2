package risk

import (
	"context"
	"sort"
)

// Config holds the sizing rules for the dynamic portfolio backtest.
type Config struct {
	// MaxOpenPositions caps how many symbols may be held at once.
	MaxOpenPositions int
	// PositionSizePercent caps the cash fraction committed to a single
	// entry. The effective fraction is the smaller of this value and an
	// equal split across MaxOpenPositions slots.
	PositionSizePercent float64
	// MinInvestment is the smallest amount worth deploying; entries that
	// would commit less are skipped.
	MinInvestment float64
}

// Candidate is one symbol competing for an entry slot on a given bar.
type Candidate struct {
	Symbol string
	RSI    float64
	Price  float64
}

// Allocator decides how portfolio cash is committed when several symbols
// signal an entry on the same bar. Higher RSI wins a slot first: the strategy
// enters on overbought momentum, so the strongest reading is the strongest
// breakout candidate.
type Allocator struct {
	cfg Config
}

// NewAllocator creates an allocator, applying defaults for unset fields.
func NewAllocator(cfg Config) *Allocator {
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 10
	}
	if cfg.PositionSizePercent <= 0 {
		cfg.PositionSizePercent = 0.2
	}
	if cfg.MinInvestment <= 0 {
		cfg.MinInvestment = 1000
	}
	return &Allocator{cfg: cfg}
}

// MaxOpenPositions returns the concurrent position cap.
func (a *Allocator) MaxOpenPositions() int {
	return a.cfg.MaxOpenPositions
}

// SlotsAvailable returns how many new entries may still be opened given the
// current number of held positions.
func (a *Allocator) SlotsAvailable(openPositions int) int {
	slots := a.cfg.MaxOpenPositions - openPositions
	if slots < 0 {
		return 0
	}
	return slots
}

// InvestmentAmount returns the cash to commit to one new entry, or 0 when
// the available cash cannot fund a position worth opening.
func (a *Allocator) InvestmentAmount(ctx context.Context, cash float64) float64 {
	if cash < a.cfg.MinInvestment {
		return 0
	}
	ratio := a.cfg.PositionSizePercent
	if equal := 1.0 / float64(a.cfg.MaxOpenPositions); equal < ratio {
		ratio = equal
	}
	amount := cash * ratio
	if amount < a.cfg.MinInvestment {
		return 0
	}
	return amount
}

// RankCandidates orders entry candidates by priority: RSI descending, symbol
// ascending on ties so allocation is deterministic.
func (a *Allocator) RankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].RSI != candidates[j].RSI {
			return candidates[i].RSI > candidates[j].RSI
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
}
