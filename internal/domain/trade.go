package domain

import "time"

// ExitEvent records one partial or final close of a position.
type ExitEvent struct {
	Time           time.Time  // Timestamp of the bar that triggered the exit
	Price          float64    // Close price the exit was booked at
	FractionClosed float64    // Fraction of the original position size closed by this event
	Reason         ExitReason // Why the exit happened
}

// ReturnPct is the percentage return of this exit relative to the entry price.
func (e ExitEvent) ReturnPct(entryPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	return (e.Price - entryPrice) / entryPrice * 100
}

// TradeRecord is the immutable ledger entry produced when a position fully
// closes. TotalReturnPct is the fraction-weighted average of the exit returns
// relative to the entry price.
type TradeRecord struct {
	Symbol         string      // Ticker symbol
	EntryTime      time.Time   // Timestamp of the entry bar
	EntryPrice     float64     // Entry price
	Exits          []ExitEvent // Ordered exit events; fractions sum to 1.0
	TotalReturnPct float64     // Fraction-weighted return across all exits, in percent
	IsWin          bool        // TotalReturnPct > 0
}

// ExitTime returns the time of the final exit, or the entry time when the
// record carries no exits.
func (r *TradeRecord) ExitTime() time.Time {
	if len(r.Exits) == 0 {
		return r.EntryTime
	}
	return r.Exits[len(r.Exits)-1].Time
}

// Duration is the holding period from entry to the final exit.
func (r *TradeRecord) Duration() time.Duration {
	return r.ExitTime().Sub(r.EntryTime)
}

// FinalizeTrade builds the ledger record for a position whose exit events now
// cover the full original size.
func FinalizeTrade(p *PositionState) *TradeRecord {
	rec := &TradeRecord{
		Symbol:     p.Symbol,
		EntryTime:  p.EntryTime,
		EntryPrice: p.EntryPrice,
		Exits:      append([]ExitEvent(nil), p.Exits...),
	}
	for _, e := range rec.Exits {
		rec.TotalReturnPct += e.FractionClosed * e.ReturnPct(p.EntryPrice)
	}
	rec.IsWin = rec.TotalReturnPct > 0
	return rec
}
