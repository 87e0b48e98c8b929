package domain

import "time"

// MarketSnapshot is the 24h ticker view of a symbol.
type MarketSnapshot struct {
	Symbol            string
	LastPrice         float64
	PriceChangePct24h float64 // Percent, e.g. 25.0 for +25%
	High24h           float64
	Low24h            float64
	Volume24h         float64 // Base asset volume
	QuoteVolume24h    float64 // Quote asset (USDT) volume
	Timestamp         time.Time
}

// IndicatorSet holds the derived indicator values for one symbol.
// Every field carries a neutral default when history is insufficient.
type IndicatorSet struct {
	Symbol string

	RSI float64 // 0..100, 50 when neutral

	MACDLine      float64
	MACDSignal    float64
	MACDHistogram float64
	MACDBullish   bool // line > signal and histogram > 0

	EMAShort          float64
	EMALong           float64
	PriceAboveEMA     bool // Close above EMAShort with a small buffer
	VolumeRatio       float64
	ATR               float64
	PullbackPct       float64 // Distance below the lookback high, percent
	Support           float64
	Resistance        float64
	HasLevels         bool // Support/Resistance are only meaningful when true
	NearSupport       bool
	LastClose         float64
	SufficientHistory bool
}
