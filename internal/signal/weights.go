package signal

import "fmt"

// Weights are the additive confidence contributions, in points out of 100.
type Weights struct {
	// Long factors
	MomentumIdeal       float64 `yaml:"momentum_ideal"`
	MomentumGood        float64 `yaml:"momentum_good"`
	RSIContinuation     float64 `yaml:"rsi_continuation"`
	RSIAcceptable       float64 `yaml:"rsi_acceptable"`
	VolumeSurge         float64 `yaml:"volume_surge"`
	VolumeStrong        float64 `yaml:"volume_strong"`
	VolumeDivergence    float64 `yaml:"volume_divergence_penalty"`
	MACDBullish         float64 `yaml:"macd_bullish"`
	MACDAboveZero       float64 `yaml:"macd_above_zero"`
	AboveEMA            float64 `yaml:"above_ema"`
	PullbackQuality     float64 `yaml:"pullback_quality"`
	NearSupport         float64 `yaml:"near_support"`
	Liquidity           float64 `yaml:"liquidity"`
	MacroBullish        float64 `yaml:"macro_bullish"`
	MacroBearishPenalty float64 `yaml:"macro_bearish_penalty"`

	// Short factors
	ShortExtremeGain  float64 `yaml:"short_extreme_gain"`
	ShortHighGain     float64 `yaml:"short_high_gain"`
	ShortExtremeRSI   float64 `yaml:"short_extreme_rsi"`
	ShortHighRSI      float64 `yaml:"short_high_rsi"`
	ShortFadingVolume float64 `yaml:"short_fading_volume"`
	ShortMACDBearish  float64 `yaml:"short_macd_bearish"`
	ShortNoSupport    float64 `yaml:"short_no_support"`
	ShortMacroBearish float64 `yaml:"short_macro_bearish"`
}

// DefaultWeights returns the standard factor weights.
func DefaultWeights() Weights {
	return Weights{
		MomentumIdeal:       25,
		MomentumGood:        15,
		RSIContinuation:     20,
		RSIAcceptable:       10,
		VolumeSurge:         20,
		VolumeStrong:        15,
		VolumeDivergence:    10,
		MACDBullish:         15,
		MACDAboveZero:       5,
		AboveEMA:            10,
		PullbackQuality:     15,
		NearSupport:         10,
		Liquidity:           5,
		MacroBullish:        5,
		MacroBearishPenalty: 20,

		ShortExtremeGain:  30,
		ShortHighGain:     20,
		ShortExtremeRSI:   25,
		ShortHighRSI:      15,
		ShortFadingVolume: 20,
		ShortMACDBearish:  15,
		ShortNoSupport:    10,
		ShortMacroBearish: 5,
	}
}

// Validate rejects negative weights. Penalties are expressed as positive magnitudes.
func (w Weights) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"momentum_ideal", w.MomentumIdeal},
		{"momentum_good", w.MomentumGood},
		{"rsi_continuation", w.RSIContinuation},
		{"rsi_acceptable", w.RSIAcceptable},
		{"volume_surge", w.VolumeSurge},
		{"volume_strong", w.VolumeStrong},
		{"volume_divergence_penalty", w.VolumeDivergence},
		{"macd_bullish", w.MACDBullish},
		{"macd_above_zero", w.MACDAboveZero},
		{"above_ema", w.AboveEMA},
		{"pullback_quality", w.PullbackQuality},
		{"near_support", w.NearSupport},
		{"liquidity", w.Liquidity},
		{"macro_bullish", w.MacroBullish},
		{"macro_bearish_penalty", w.MacroBearishPenalty},
		{"short_extreme_gain", w.ShortExtremeGain},
		{"short_high_gain", w.ShortHighGain},
		{"short_extreme_rsi", w.ShortExtremeRSI},
		{"short_high_rsi", w.ShortHighRSI},
		{"short_fading_volume", w.ShortFadingVolume},
		{"short_macd_bearish", w.ShortMACDBearish},
		{"short_no_support", w.ShortNoSupport},
		{"short_macro_bearish", w.ShortMacroBearish},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("weight %s must not be negative, got %f", f.name, f.value)
		}
	}
	return nil
}
