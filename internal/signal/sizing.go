package signal

import "perpbot/internal/domain"

// Sizing bounds the fraction of capital committed to one position.
type Sizing struct {
	MinFraction     float64
	TypicalFraction float64
	MaxFraction     float64
	ShortMultiplier float64
}

// DefaultSizing returns 6% / 10% / 12% with shorts at 70%.
func DefaultSizing() Sizing {
	return Sizing{MinFraction: 0.06, TypicalFraction: 0.10, MaxFraction: 0.12, ShortMultiplier: 0.7}
}

// Fraction maps confidence onto the min, typical and max bounds. Confidence 0
// is the minimum, 50 the typical size and 100 the maximum. Shorts take the
// bounded long fraction scaled by ShortMultiplier, so a short spans
// [MinFraction, MaxFraction] x ShortMultiplier.
func (s Sizing) Fraction(side domain.Side, confidence float64) float64 {
	c := clamp(confidence, 0, 100)
	var f float64
	if c < 50 {
		f = s.MinFraction + (s.TypicalFraction-s.MinFraction)*c/50
	} else {
		f = s.TypicalFraction + (s.MaxFraction-s.TypicalFraction)*(c-50)/50
	}
	f = clamp(f, s.MinFraction, s.MaxFraction)
	if side == domain.SideShort && s.ShortMultiplier > 0 {
		f *= s.ShortMultiplier
	}
	return f
}
