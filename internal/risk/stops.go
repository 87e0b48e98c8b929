package risk

import "perpbot/internal/domain"

// Volatility classes used to pick the ATR multiplier.
const (
	VolatilityLow    = "low"
	VolatilityMedium = "medium"
	VolatilityHigh   = "high"
)

// StopConfig controls ATR-based stop placement.
type StopConfig struct {
	UseATR            bool
	MinPct            float64 // Stop distance bounds as fractions of entry
	MaxPct            float64
	LowVolatilityPct  float64 // ATR percent of price at or below which volatility is low
	HighVolatilityPct float64 // ATR percent of price at or above which volatility is high
	LowMultiplier     float64
	MediumMultiplier  float64
	HighMultiplier    float64
}

// DefaultStopConfig returns fixed 8% stops with ATR placement available.
func DefaultStopConfig() StopConfig {
	return StopConfig{
		UseATR:            false,
		MinPct:            0.06,
		MaxPct:            0.08,
		LowVolatilityPct:  1.5,
		HighVolatilityPct: 4,
		LowMultiplier:     3.0,
		MediumMultiplier:  2.0,
		HighMultiplier:    1.5,
	}
}

// StopPlanner places protective stops. Quiet markets get a wider ATR multiple
// and volatile ones a tighter multiple, always within [MinPct, MaxPct].
type StopPlanner struct {
	config StopConfig
}

// NewStopPlanner creates a stop planner.
func NewStopPlanner(config StopConfig) *StopPlanner {
	return &StopPlanner{config: config}
}

// VolatilityClass buckets ATR relative to price.
func (s *StopPlanner) VolatilityClass(entry, atr float64) string {
	if entry <= 0 || atr <= 0 {
		return VolatilityMedium
	}
	pct := atr / entry * 100
	switch {
	case pct <= s.config.LowVolatilityPct:
		return VolatilityLow
	case pct >= s.config.HighVolatilityPct:
		return VolatilityHigh
	default:
		return VolatilityMedium
	}
}

// DistancePct returns the stop distance as a fraction of entry.
func (s *StopPlanner) DistancePct(entry, atr float64) float64 {
	if !s.config.UseATR || entry <= 0 || atr <= 0 {
		return s.config.MaxPct
	}
	mult := s.config.MediumMultiplier
	switch s.VolatilityClass(entry, atr) {
	case VolatilityLow:
		mult = s.config.LowMultiplier
	case VolatilityHigh:
		mult = s.config.HighMultiplier
	}
	d := atr * mult / entry
	if d < s.config.MinPct {
		d = s.config.MinPct
	}
	if d > s.config.MaxPct {
		d = s.config.MaxPct
	}
	return d
}

// StopPrice returns the stop for a new position.
func (s *StopPlanner) StopPrice(side domain.Side, entry, atr float64) float64 {
	return entry * (1 - side.Sign()*s.DistancePct(entry, atr))
}
