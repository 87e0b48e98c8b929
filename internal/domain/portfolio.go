package domain

import "time"

// PortfolioState is the single mutable account view. It is only touched from
// the orchestrator cycle.
type PortfolioState struct {
	Capital           float64 // Realized account value
	PeakEquity        float64
	DailyRealizedPnL  float64
	WeeklyRealizedPnL float64
	TradesToday       int
	Halt              HaltState
	HaltReason        string
	LastReset         time.Time
	Positions         []*Position
}

// NewPortfolioState creates an empty state with the given capital.
func NewPortfolioState(capital float64, now time.Time) *PortfolioState {
	return &PortfolioState{
		Capital:    capital,
		PeakEquity: capital,
		Halt:       HaltNone,
		LastReset:  now,
	}
}

// UnrealizedPnL sums the mark-to-market profit of open positions.
func (s *PortfolioState) UnrealizedPnL() float64 {
	total := 0.0
	for _, p := range s.Positions {
		total += p.UnrealizedPnL
	}
	return total
}

// Equity is capital plus unrealized profit.
func (s *PortfolioState) Equity() float64 {
	return s.Capital + s.UnrealizedPnL()
}

// UsedMargin sums the collateral committed across positions.
func (s *PortfolioState) UsedMargin() float64 {
	total := 0.0
	for _, p := range s.Positions {
		total += p.Margin()
	}
	return total
}

// OpenCount returns the number of live positions.
func (s *PortfolioState) OpenCount() int {
	return len(s.Positions)
}

// HasSymbol reports whether a position is already open on symbol.
func (s *PortfolioState) HasSymbol(symbol string) bool {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// Find returns the position with id, or nil.
func (s *PortfolioState) Find(id string) *Position {
	for _, p := range s.Positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Without returns a shallow copy of the state that excludes the position with id.
// Used to evaluate a candidate as if a replacement had already happened.
func (s *PortfolioState) Without(id string) *PortfolioState {
	c := *s
	c.Positions = make([]*Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		if p.ID != id {
			c.Positions = append(c.Positions, p)
		}
	}
	return &c
}

// Snapshot captures a point-in-time copy for persistence and status reads.
func (s *PortfolioState) Snapshot(now time.Time) *PortfolioSnapshot {
	positions := make([]Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		positions = append(positions, *p)
	}
	return &PortfolioSnapshot{
		TakenAt:           now,
		Capital:           s.Capital,
		Equity:            s.Equity(),
		PeakEquity:        s.PeakEquity,
		UnrealizedPnL:     s.UnrealizedPnL(),
		DailyRealizedPnL:  s.DailyRealizedPnL,
		WeeklyRealizedPnL: s.WeeklyRealizedPnL,
		TradesToday:       s.TradesToday,
		Halt:              s.Halt,
		HaltReason:        s.HaltReason,
		Positions:         positions,
	}
}

// PortfolioSnapshot is an immutable copy of PortfolioState.
type PortfolioSnapshot struct {
	ID                int64      `json:"id"`
	TakenAt           time.Time  `json:"taken_at"`
	Capital           float64    `json:"capital"`
	Equity            float64    `json:"equity"`
	PeakEquity        float64    `json:"peak_equity"`
	UnrealizedPnL     float64    `json:"unrealized_pnl"`
	DailyRealizedPnL  float64    `json:"daily_realized_pnl"`
	WeeklyRealizedPnL float64    `json:"weekly_realized_pnl"`
	TradesToday       int        `json:"trades_today"`
	Halt              HaltState  `json:"halt"`
	HaltReason        string     `json:"halt_reason,omitempty"`
	Positions         []Position `json:"positions"`
}
