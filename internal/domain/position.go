package domain

import (
	"time"

	"github.com/google/uuid"
)

// Position represents a live leveraged position held by the engine.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	EntryPrice   float64
	EntryTime    time.Time
	CurrentPrice float64
	Size         float64 // Quote notional at entry, scaled down by partial closes
	Quantity     float64 // Base quantity
	Leverage     int
	StopLoss     float64
	TakeProfit1  float64
	TakeProfit2  float64
	Confidence   float64

	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	MaxProfitPct     float64 // Best unrealized percent seen
	MaxDrawdownPct   float64 // Worst unrealized percent seen, <= 0
	HoldDuration     time.Duration
	Status           PositionStatus
	PartialTaken     bool
	StopOrderID      int64 // Exchange-side protective stop, 0 if none
	LastUpdate       time.Time
}

// NewPosition builds a position from a filled entry. It starts in OPENING until
// the controller activates it.
func NewPosition(sig TradingSignal, fillPrice, quantity, notional float64, leverage int, now time.Time) *Position {
	return &Position{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		EntryPrice:   fillPrice,
		EntryTime:    now,
		CurrentPrice: fillPrice,
		Size:         notional,
		Quantity:     quantity,
		Leverage:     leverage,
		StopLoss:     sig.StopLoss,
		TakeProfit1:  sig.TakeProfit1,
		TakeProfit2:  sig.TakeProfit2,
		Confidence:   sig.Confidence,
		Status:       StatusOpening,
		LastUpdate:   now,
	}
}

// IsOpen reports whether the position still holds exposure.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen || p.Status == StatusPartial
}

// PnLAt computes the unrealized profit in quote currency at price.
func (p *Position) PnLAt(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.EntryPrice) * p.Size / p.EntryPrice
}

// UpdatePrice marks the position to price and refreshes derived statistics.
func (p *Position) UpdatePrice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.PnLAt(price)
	if p.Size > 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / p.Size * 100
	}
	if p.UnrealizedPnLPct > p.MaxProfitPct {
		p.MaxProfitPct = p.UnrealizedPnLPct
	}
	if p.UnrealizedPnLPct < p.MaxDrawdownPct {
		p.MaxDrawdownPct = p.UnrealizedPnLPct
	}
	p.HoldDuration = now.Sub(p.EntryTime)
	p.LastUpdate = now
}

// Margin is the collateral committed to the position.
func (p *Position) Margin() float64 {
	if p.Leverage < 1 {
		return p.Size
	}
	return p.Size / float64(p.Leverage)
}

// RiskAtStop is the loss realized if the stop is hit. A stop already past
// entry in the favorable direction carries no risk.
func (p *Position) RiskAtStop() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	loss := p.Side.Sign() * (p.EntryPrice - p.StopLoss) * p.Size / p.EntryPrice
	if loss < 0 {
		return 0
	}
	return loss
}

// DistanceToStopPct is the gap between current price and stop, percent of price.
func (p *Position) DistanceToStopPct() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	d := (p.CurrentPrice - p.StopLoss) / p.CurrentPrice * 100
	return p.Side.Sign() * d
}

// RemainingPotentialPct blends the percent move left to each target, weighted
// toward the final target. It never goes below zero.
func (p *Position) RemainingPotentialPct() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	d1 := p.Side.Sign() * (p.TakeProfit1 - p.CurrentPrice) / p.CurrentPrice * 100
	d2 := p.Side.Sign() * (p.TakeProfit2 - p.CurrentPrice) / p.CurrentPrice * 100
	r := 0.3*d1 + 0.7*d2
	if r < 0 {
		return 0
	}
	return r
}

// Clone returns a copy safe to hand to readers outside the cycle.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
