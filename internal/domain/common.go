package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// EntryOrderSide returns the order side that opens a position in this direction.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// ExitOrderSide returns the order side that reduces a position in this direction.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// Sign is +1 for longs and -1 for shorts.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpening PositionStatus = "OPENING" // Order in flight, never persisted on failure
	StatusOpen    PositionStatus = "OPEN"
	StatusPartial PositionStatus = "PARTIAL" // First take-profit realized
	StatusClosed  PositionStatus = "CLOSED"
)

// CloseReason indicates why a position (or part of it) was closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit1 CloseReason = "TAKE_PROFIT_1"
	CloseReasonTakeProfit2 CloseReason = "TAKE_PROFIT_2"
	CloseReasonTimeLimit   CloseReason = "TIME_LIMIT"
	CloseReasonReplaced    CloseReason = "REPLACED"
	CloseReasonEmergency   CloseReason = "EMERGENCY"
	CloseReasonManual      CloseReason = "MANUAL"
)

// MacroTrend is the market-wide regime derived from the reference asset.
type MacroTrend string

const (
	MacroBullish MacroTrend = "BULLISH"
	MacroNeutral MacroTrend = "NEUTRAL"
	MacroBearish MacroTrend = "BEARISH"
)

// HaltState describes whether new entries are blocked.
type HaltState string

const (
	HaltNone HaltState = "NONE"
	HaltSoft HaltState = "SOFT" // Loss limit breached, cleared by rollover
	HaltHard HaltState = "HARD" // Crash protection, cleared only manually
)
