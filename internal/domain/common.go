package domain

// SignalKind classifies the detector's decision for one symbol at one bar.
type SignalKind string

const (
	SignalNone        SignalKind = "none"
	SignalEntry       SignalKind = "entry"
	SignalPartialExit SignalKind = "partial-exit"
	SignalFullExit    SignalKind = "full-exit"
)

// PositionStatus represents the lifecycle stage of a symbol's position.
// The live cycle is flat -> fully-open -> partially-closed -> flat;
// closed is the terminal value stamped on a finalized trade.
type PositionStatus string

const (
	StatusFlat            PositionStatus = "flat"
	StatusFullyOpen       PositionStatus = "fully-open"
	StatusPartiallyClosed PositionStatus = "partially-closed"
	StatusClosed          PositionStatus = "closed"
)

// ExitReason indicates why part or all of a position was closed.
type ExitReason string

const (
	ExitReasonPartialProfit ExitReason = "partial-profit" // First half closed at the band-position target
	ExitReasonExit          ExitReason = "exit"           // Remaining half closed at the lower-band exit
	ExitReasonEndOfData     ExitReason = "end-of-data"    // Forced close when a backtest series ends
)
