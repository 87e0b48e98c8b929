package domain

import "time"

// TradeRecord is an append-only ledger entry written for every full or partial close.
type TradeRecord struct {
	ID          int64  // Assigned by the ledger store
	PositionID  string // Position the close belongs to
	Symbol      string
	Side        Side
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64 // Base quantity closed
	Notional    float64 // Quote notional closed, measured at entry
	Leverage    int
	RealizedPnL float64
	PnLPct      float64
	Confidence  float64
	Partial     bool
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}

// HoldDuration returns how long the closed portion was held.
func (t *TradeRecord) HoldDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
