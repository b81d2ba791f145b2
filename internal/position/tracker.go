package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"
)

// Tracker owns the per-symbol position state machine:
//
//	flat --entry--> fully-open --partial-exit--> partially-closed --full-exit--> flat
//
// Any other transition request is rejected with ports.ErrIllegalTransition
// and leaves the state untouched. The state map is guarded by a mutex;
// serializing Apply calls for the same symbol is the caller's contract (one
// evaluator per symbol at a time), since transitions are not idempotent.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*domain.PositionState
}

// NewTracker creates an empty tracker. Symbols never seen before are flat.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*domain.PositionState)}
}

// Status returns the current lifecycle stage for a symbol.
func (t *Tracker) Status(symbol string) domain.PositionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(symbol).Status
}

// State returns a copy of the symbol's position state.
func (t *Tracker) State(symbol string) domain.PositionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyState(t.state(symbol))
}

// OpenPositions returns copies of all states with an open fraction, ordered
// by symbol.
func (t *Tracker) OpenPositions() []domain.PositionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	open := make([]domain.PositionState, 0)
	for _, st := range t.states {
		if st.IsOpen() {
			open = append(open, copyState(st))
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })
	return open
}

// Apply drives the state machine with a classification computed from the
// given snapshot. It returns the finalized trade record when a full exit
// closes the position, nil otherwise. SignalNone is always a no-op; a signal
// that does not match the current status fails with ports.ErrIllegalTransition
// and no mutation.
func (t *Tracker) Apply(symbol string, kind domain.SignalKind, snap domain.IndicatorSnapshot) (*domain.TradeRecord, error) {
	if kind == domain.SignalNone {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(symbol)

	switch kind {
	case domain.SignalEntry:
		if st.Status != domain.StatusFlat {
			return nil, illegal(symbol, kind, st.Status)
		}
		st.Status = domain.StatusFullyOpen
		st.EntryPrice = snap.Close
		st.EntryTime = snap.Timestamp
		st.QuantityOpenFraction = 1.0
		st.Exits = nil
		return nil, nil

	case domain.SignalPartialExit:
		if st.Status != domain.StatusFullyOpen {
			return nil, illegal(symbol, kind, st.Status)
		}
		st.Status = domain.StatusPartiallyClosed
		st.QuantityOpenFraction = 0.5
		st.Exits = append(st.Exits, domain.ExitEvent{
			Time:           snap.Timestamp,
			Price:          snap.Close,
			FractionClosed: 0.5,
			Reason:         domain.ExitReasonPartialProfit,
		})
		return nil, nil

	case domain.SignalFullExit:
		if st.Status != domain.StatusPartiallyClosed {
			return nil, illegal(symbol, kind, st.Status)
		}
		st.Exits = append(st.Exits, domain.ExitEvent{
			Time:           snap.Timestamp,
			Price:          snap.Close,
			FractionClosed: 0.5,
			Reason:         domain.ExitReasonExit,
		})
		return t.finalize(st), nil
	}

	return nil, fmt.Errorf("%w: unknown signal %q for %s", ports.ErrIllegalTransition, kind, symbol)
}

// ForceClose books an exit for whatever fraction of a symbol's position is
// still open at the given price and time, finalizing a trade record. The
// backtester's close-at-end policy uses it. Returns nil when the symbol is
// flat.
func (t *Tracker) ForceClose(symbol string, price float64, ts time.Time) *domain.TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(symbol)
	if !st.IsOpen() {
		return nil
	}
	st.Exits = append(st.Exits, domain.ExitEvent{
		Time:           ts,
		Price:          price,
		FractionClosed: st.QuantityOpenFraction,
		Reason:         domain.ExitReasonEndOfData,
	})
	return t.finalize(st)
}

// finalize stamps the terminal status, builds the ledger record and resets
// the symbol to a fresh flat state so re-entry is possible. Callers must
// hold mu.
func (t *Tracker) finalize(st *domain.PositionState) *domain.TradeRecord {
	st.Status = domain.StatusClosed
	st.QuantityOpenFraction = 0
	rec := domain.FinalizeTrade(st)
	t.states[st.Symbol] = domain.NewFlatPosition(st.Symbol)
	return rec
}

// state returns the live state for a symbol, creating the flat initial state
// on first use. Callers must hold mu.
func (t *Tracker) state(symbol string) *domain.PositionState {
	st, ok := t.states[symbol]
	if !ok {
		st = domain.NewFlatPosition(symbol)
		t.states[symbol] = st
	}
	return st
}

func copyState(st *domain.PositionState) domain.PositionState {
	cp := *st
	cp.Exits = append([]domain.ExitEvent(nil), st.Exits...)
	return cp
}

func illegal(symbol string, kind domain.SignalKind, status domain.PositionStatus) error {
	return fmt.Errorf("%w: %s requested for %s while %s", ports.ErrIllegalTransition, kind, symbol, status)
}
