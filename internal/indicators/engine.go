package indicators

import (
	"context"
	"math"

	"perpbot/internal/domain"
)

// Config holds the indicator windows used by the Engine.
type Config struct {
	RSIPeriod       int
	MACD            MACDConfig
	EMAShortPeriod  int
	EMALongPeriod   int
	VolumeSMAPeriod int
	LevelsLookback  int
	ATRPeriod       int
	EMABuffer       float64 // Fraction above EMAShort required for PriceAboveEMA
	NearSupportPct  float64 // Fractional distance that counts as near support
}

// DefaultConfig returns the standard windows (RSI 14, MACD 12/26/9, EMA 20/50).
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		MACD:            MACDConfig{Fast: 12, Slow: 26, Signal: 9},
		EMAShortPeriod:  20,
		EMALongPeriod:   50,
		VolumeSMAPeriod: 20,
		LevelsLookback:  24,
		ATRPeriod:       14,
		EMABuffer:       0.02,
		NearSupportPct:  0.02,
	}
}

// Engine derives an IndicatorSet from candle history. It never fails: every
// value that cannot be computed takes its neutral default.
type Engine struct {
	cfg      Config
	rsi      *RSI
	emaShort *MovingAverage
	emaLong  *MovingAverage
	atr      *ATR
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg: cfg,
		rsi: NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: cfg.RSIPeriod}, Overbought: 70, Oversold: 30}),
		emaShort: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: cfg.EMAShortPeriod},
			Type:            ExponentialMovingAverage,
		}),
		emaLong: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: cfg.EMALongPeriod},
			Type:            ExponentialMovingAverage,
		}),
		atr: NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: cfg.ATRPeriod}}),
	}
}

// RequiredDataPoints is the history length at which no indicator falls back.
func (e *Engine) RequiredDataPoints() int {
	n := e.rsi.RequiredDataPoints()
	for _, v := range []int{
		e.cfg.MACD.RequiredDataPoints(),
		e.emaLong.RequiredDataPoints(),
		e.cfg.VolumeSMAPeriod,
		e.cfg.LevelsLookback,
		e.atr.RequiredDataPoints(),
	} {
		if v > n {
			n = v
		}
	}
	return n
}

// Compute calculates every indicator for symbol from klines, oldest first.
func (e *Engine) Compute(symbol string, klines []*domain.Kline) domain.IndicatorSet {
	set := domain.IndicatorSet{
		Symbol:      symbol,
		RSI:         NeutralRSI,
		VolumeRatio: NeutralVolumeRatio,
	}
	klines = validKlines(klines)
	if len(klines) == 0 {
		return set
	}

	price := klines[len(klines)-1].Close
	set.LastClose = price
	set.SufficientHistory = len(klines) >= e.RequiredDataPoints()

	set.RSI = e.rsi.Value(klines)

	if m, err := MACD(closes(klines), e.cfg.MACD); err == nil {
		set.MACDLine = m.Line
		set.MACDSignal = m.Signal
		set.MACDHistogram = m.Histogram
		set.MACDBullish = m.Bullish()
	}

	set.EMAShort = e.emaShort.Value(klines)
	set.EMALong = e.emaLong.Value(klines)
	set.PriceAboveEMA = price > set.EMAShort*(1+e.cfg.EMABuffer)

	set.VolumeRatio = VolumeRatio(klines, e.cfg.VolumeSMAPeriod)

	if atr, err := e.atr.Calculate(context.Background(), klines); err == nil {
		set.ATR = atr
	}

	if support, resistance, ok := SupportResistance(klines, e.cfg.LevelsLookback); ok {
		set.Support = support
		set.Resistance = resistance
		set.HasLevels = true
		set.NearSupport = price > 0 && math.Abs(price-support)/price <= e.cfg.NearSupportPct
	}
	set.PullbackPct = Pullback(klines, e.cfg.LevelsLookback, price)

	return set
}

// validKlines drops nil candles and candles with non-finite closes.
func validKlines(klines []*domain.Kline) []*domain.Kline {
	out := klines[:0:0]
	for _, k := range klines {
		if k == nil || math.IsNaN(k.Close) || math.IsInf(k.Close, 0) || k.Close <= 0 {
			continue
		}
		out = append(out, k)
	}
	return out
}
