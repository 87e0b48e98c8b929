package domain

import "time"

// TradingSignal is an immutable entry proposal produced by the evaluator.
type TradingSignal struct {
	Symbol       string
	Side         Side
	Confidence   float64 // 0..100
	EntryPrice   float64
	StopLoss     float64
	TakeProfit1  float64
	TakeProfit2  float64
	SizeHint     float64 // Quote notional
	LeverageHint int
	Potential    float64 // Weighted distance to targets, percent
	Reasons      []string
	CreatedAt    time.Time
}

// EstimatedPotential blends the percentage distance to both targets, weighted
// toward the final target.
func EstimatedPotential(entry, tp1, tp2 float64) float64 {
	if entry <= 0 {
		return 0
	}
	d1 := abs(tp1-entry) / entry * 100
	d2 := abs(tp2-entry) / entry * 100
	return 0.3*d1 + 0.7*d2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
