package portfolio

import (
	"fmt"
	"time"
)

// ReplacementPolicy decides when a full portfolio swaps its weakest position
// for a new signal, and how the weakest position is scored.
type ReplacementPolicy struct {
	ConfidenceMargin      float64       `yaml:"confidence_margin"`
	PotentialMultiple     float64       `yaml:"potential_multiple"`
	LosingPct             float64       `yaml:"losing_pct"`
	LosingMinConfidence   float64       `yaml:"losing_min_confidence"`
	StagnantHold          time.Duration `yaml:"stagnant_hold"`
	StagnantMaxProfitPct  float64       `yaml:"stagnant_max_profit_pct"`
	StagnantMinConfidence float64       `yaml:"stagnant_min_confidence"`
	NearStopPct           float64       `yaml:"near_stop_pct"`

	ScorePnLWeight        float64 `yaml:"score_pnl_weight"`
	ScoreConfidenceWeight float64 `yaml:"score_confidence_weight"`
	ScoreTimeWeight       float64 `yaml:"score_time_weight"`
	ScorePotentialWeight  float64 `yaml:"score_potential_weight"`
	TimePenaltyPerHour    float64 `yaml:"time_penalty_per_hour"`
	TimePenaltyCapHours   float64 `yaml:"time_penalty_cap_hours"`
}

// DefaultReplacementPolicy returns the standard replacement thresholds.
func DefaultReplacementPolicy() ReplacementPolicy {
	return ReplacementPolicy{
		ConfidenceMargin:      10,
		PotentialMultiple:     1.5,
		LosingPct:             2,
		LosingMinConfidence:   70,
		StagnantHold:          4 * time.Hour,
		StagnantMaxProfitPct:  5,
		StagnantMinConfidence: 65,
		NearStopPct:           3,

		ScorePnLWeight:        0.4,
		ScoreConfidenceWeight: 0.3,
		ScoreTimeWeight:       0.2,
		ScorePotentialWeight:  0.1,
		TimePenaltyPerHour:    2,
		TimePenaltyCapHours:   4,
	}
}

// Validate checks the policy once at startup.
func (p ReplacementPolicy) Validate() error {
	if p.PotentialMultiple <= 0 {
		return fmt.Errorf("potential_multiple must be positive, got %f", p.PotentialMultiple)
	}
	if p.StagnantHold < 0 || p.TimePenaltyCapHours < 0 {
		return fmt.Errorf("stagnant_hold and time_penalty_cap_hours must not be negative")
	}
	sum := p.ScorePnLWeight + p.ScoreConfidenceWeight + p.ScoreTimeWeight + p.ScorePotentialWeight
	if sum <= 0 {
		return fmt.Errorf("victim score weights must not all be zero")
	}
	return nil
}

// ExitPolicy holds the per-tick exit thresholds.
type ExitPolicy struct {
	PartialTriggerPct   float64       // Unrealized percent required for the target-1 partial
	PartialFraction     float64       // Fraction closed at target-1
	TrailTriggerPct     float64       // Unrealized percent that arms the stop ratchet
	TrailOffsetPct      float64       // Ratcheted stop distance beyond entry, fraction
	MaxHold             time.Duration // Holding time after which a weak position is closed
	MaxHoldMinProfitPct float64       // Positions at or above this are kept past MaxHold
}

// DefaultExitPolicy returns the standard exit thresholds.
func DefaultExitPolicy() ExitPolicy {
	return ExitPolicy{
		PartialTriggerPct:   15,
		PartialFraction:     0.5,
		TrailTriggerPct:     10,
		TrailOffsetPct:      0.02,
		MaxHold:             24 * time.Hour,
		MaxHoldMinProfitPct: 5,
	}
}

// Validate checks the exit policy once at startup.
func (p ExitPolicy) Validate() error {
	if p.PartialFraction <= 0 || p.PartialFraction >= 1 {
		return fmt.Errorf("partial fraction must be in (0,1), got %f", p.PartialFraction)
	}
	if p.TrailOffsetPct < 0 {
		return fmt.Errorf("trail offset must not be negative, got %f", p.TrailOffsetPct)
	}
	if p.MaxHold <= 0 {
		return fmt.Errorf("max hold must be positive, got %s", p.MaxHold)
	}
	return nil
}
