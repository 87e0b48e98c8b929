package indicators

import (
	"math"
	"sort"

	"perpbot/internal/domain"
)

// NeutralVolumeRatio is reported when the volume average is missing, zero or NaN.
const NeutralVolumeRatio = 1.0

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. It returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// SupportResistance returns the 20th percentile of lows and the 80th percentile
// of highs over the last lookback candles. ok is false when history is shorter
// than the lookback.
func SupportResistance(klines []*domain.Kline, lookback int) (support, resistance float64, ok bool) {
	if lookback <= 0 || len(klines) < lookback {
		return 0, 0, false
	}
	recent := klines[len(klines)-lookback:]
	lows := make([]float64, len(recent))
	highs := make([]float64, len(recent))
	for i, k := range recent {
		lows[i] = k.Low
		highs[i] = k.High
	}
	return Percentile(lows, 20), Percentile(highs, 80), true
}

// Pullback is the percentage drop of price from the highest high of the last
// lookback candles. It never goes below zero.
func Pullback(klines []*domain.Kline, lookback int, price float64) float64 {
	if len(klines) == 0 || price <= 0 {
		return 0
	}
	start := 0
	if lookback > 0 && len(klines) > lookback {
		start = len(klines) - lookback
	}
	high := 0.0
	for _, k := range klines[start:] {
		if k.High > high {
			high = k.High
		}
	}
	if high <= 0 || price >= high {
		return 0
	}
	return (high - price) / high * 100
}

// VolumeRatio divides the latest candle volume by the SMA of volume over period.
func VolumeRatio(klines []*domain.Kline, period int) float64 {
	vols := volumes(klines)
	avg, err := SMA(vols, period)
	if err != nil || math.IsNaN(avg) || avg <= 0 {
		return NeutralVolumeRatio
	}
	ratio := vols[len(vols)-1] / avg
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return NeutralVolumeRatio
	}
	return ratio
}
