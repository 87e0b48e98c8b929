package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"perpbot/internal/domain"
)

// Config holds the evaluator thresholds, target percentages and sizing bounds.
type Config struct {
	LongThreshold  float64 // Minimum long confidence, 0..100
	ShortThreshold float64 // Minimum short confidence, 0..100

	LongMinGain float64 // 24h gain band eligible for longs, percent
	LongMaxGain float64
	LongMinRSI  float64
	LongMaxRSI  float64

	ShortMinGain        float64 // Overextension required for shorts, percent
	ShortMinRSI         float64
	ShortMaxVolumeRatio float64

	BlockLongsInBearishMacro bool
	LiquidityQuoteVolume     float64 // 24h quote volume that earns the liquidity bonus

	StopLossPct    float64 // Fraction of entry
	TakeProfit1Pct float64
	TakeProfit2Pct float64

	Sizing Sizing

	MaxLeverage      int
	ShortMaxLeverage int

	Weights Weights
}

// DefaultConfig returns the evaluator defaults with the swing target profile.
func DefaultConfig() Config {
	return Config{
		LongThreshold:            40,
		ShortThreshold:           75,
		LongMinGain:              3,
		LongMaxGain:              50,
		LongMinRSI:               30,
		LongMaxRSI:               80,
		ShortMinGain:             80,
		ShortMinRSI:              85,
		ShortMaxVolumeRatio:      2,
		BlockLongsInBearishMacro: true,
		LiquidityQuoteVolume:     50_000_000,
		StopLossPct:              0.08,
		TakeProfit1Pct:           0.20,
		TakeProfit2Pct:           0.70,
		Sizing:                   DefaultSizing(),
		MaxLeverage:              5,
		ShortMaxLeverage:         3,
		Weights:                  DefaultWeights(),
	}
}

// StopPlacer chooses the protective stop for a new entry.
type StopPlacer interface {
	StopPrice(side domain.Side, entry, atr float64) float64
}

// FixedStop places the stop a fixed fraction away from entry.
type FixedStop float64

// StopPrice implements StopPlacer.
func (f FixedStop) StopPrice(side domain.Side, entry, _ float64) float64 {
	return entry * (1 - side.Sign()*float64(f))
}

// Evaluator turns snapshots and indicators into trading signals. It is pure:
// the same inputs always produce the same signals.
type Evaluator struct {
	cfg   Config
	stops StopPlacer
}

// NewEvaluator creates an evaluator. A nil stops uses FixedStop(cfg.StopLossPct).
func NewEvaluator(cfg Config, stops StopPlacer) *Evaluator {
	if stops == nil {
		stops = FixedStop(cfg.StopLossPct)
	}
	return &Evaluator{cfg: cfg, stops: stops}
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate scores both directions for one symbol and returns every signal
// that clears its threshold. capital is used for the size hint. Indicators
// computed from short history never produce a signal.
func (e *Evaluator) Evaluate(snap *domain.MarketSnapshot, ind domain.IndicatorSet, macro domain.MacroTrend, capital float64, now time.Time) []domain.TradingSignal {
	if snap == nil || !ind.SufficientHistory {
		return nil
	}
	price := snap.LastPrice
	if price <= 0 {
		price = ind.LastClose
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}

	var out []domain.TradingSignal
	if e.longEligible(snap, ind, macro) {
		conf, reasons := e.LongConfidence(snap, ind, macro)
		if conf >= e.cfg.LongThreshold {
			out = append(out, e.build(snap.Symbol, domain.SideLong, conf, price, ind.ATR, snap.PriceChangePct24h, capital, reasons, now))
		}
	}
	if e.shortEligible(snap, ind) {
		conf, reasons := e.ShortConfidence(snap, ind, macro)
		if conf >= e.cfg.ShortThreshold {
			out = append(out, e.build(snap.Symbol, domain.SideShort, conf, price, ind.ATR, snap.PriceChangePct24h, capital, reasons, now))
		}
	}
	return out
}

func (e *Evaluator) longEligible(snap *domain.MarketSnapshot, ind domain.IndicatorSet, macro domain.MacroTrend) bool {
	if macro == domain.MacroBearish && e.cfg.BlockLongsInBearishMacro {
		return false
	}
	gain := snap.PriceChangePct24h
	if gain < e.cfg.LongMinGain || gain > e.cfg.LongMaxGain {
		return false
	}
	return ind.RSI >= e.cfg.LongMinRSI && ind.RSI <= e.cfg.LongMaxRSI
}

func (e *Evaluator) shortEligible(snap *domain.MarketSnapshot, ind domain.IndicatorSet) bool {
	return snap.PriceChangePct24h >= e.cfg.ShortMinGain &&
		ind.RSI >= e.cfg.ShortMinRSI &&
		ind.VolumeRatio <= e.cfg.ShortMaxVolumeRatio &&
		!ind.MACDBullish
}

// LongConfidence scores a continuation long. The result is clamped to [0, 100].
func (e *Evaluator) LongConfidence(snap *domain.MarketSnapshot, ind domain.IndicatorSet, macro domain.MacroTrend) (float64, []string) {
	w := e.cfg.Weights
	score := 0.0
	var reasons []string

	gain := snap.PriceChangePct24h
	switch {
	case gain >= 20 && gain <= 30:
		score += w.MomentumIdeal
	case gain >= 15 && gain <= 40:
		score += w.MomentumGood
	}
	reasons = append(reasons, fmt.Sprintf("+%.1f%% daily gain", gain))

	switch {
	case ind.RSI >= 50 && ind.RSI <= 65:
		score += w.RSIContinuation
	case ind.RSI >= 40 && ind.RSI <= 70:
		score += w.RSIAcceptable
	}
	reasons = append(reasons, fmt.Sprintf("RSI %.0f", ind.RSI))

	switch {
	case ind.VolumeRatio >= 5:
		score += w.VolumeSurge
	case ind.VolumeRatio >= 3:
		score += w.VolumeStrong
	}
	if ind.VolumeRatio >= 3 {
		reasons = append(reasons, fmt.Sprintf("%.1fx volume", ind.VolumeRatio))
	}
	if gain > 0 && ind.VolumeRatio < 1 {
		score -= w.VolumeDivergence
		reasons = append(reasons, "volume diverging")
	}

	if ind.MACDBullish {
		score += w.MACDBullish
		reasons = append(reasons, "MACD bullish")
		if ind.MACDLine > 0 && ind.MACDSignal > 0 {
			score += w.MACDAboveZero
		}
	}

	if ind.PriceAboveEMA {
		score += w.AboveEMA
	}

	if ind.PullbackPct >= 5 && ind.PullbackPct <= 15 {
		score += w.PullbackQuality
	}
	if ind.PullbackPct > 0 {
		reasons = append(reasons, fmt.Sprintf("%.1f%% pullback from high", ind.PullbackPct))
	}

	if ind.NearSupport {
		score += w.NearSupport
		reasons = append(reasons, "near support")
	}

	if snap.QuoteVolume24h >= e.cfg.LiquidityQuoteVolume {
		score += w.Liquidity
	}

	switch macro {
	case domain.MacroBullish:
		score += w.MacroBullish
	case domain.MacroBearish:
		score -= w.MacroBearishPenalty
	}
	reasons = append(reasons, "macro "+string(macro))

	return clamp(score, 0, 100), reasons
}

// ShortConfidence scores a mean-reversion short on an overextended symbol.
func (e *Evaluator) ShortConfidence(snap *domain.MarketSnapshot, ind domain.IndicatorSet, macro domain.MacroTrend) (float64, []string) {
	w := e.cfg.Weights
	score := 0.0
	var reasons []string

	gain := snap.PriceChangePct24h
	switch {
	case gain >= 100:
		score += w.ShortExtremeGain
	case gain >= 80:
		score += w.ShortHighGain
	}
	reasons = append(reasons, fmt.Sprintf("+%.0f%% overextended", gain))

	switch {
	case ind.RSI >= 90:
		score += w.ShortExtremeRSI
	case ind.RSI >= 85:
		score += w.ShortHighRSI
	}
	reasons = append(reasons, fmt.Sprintf("RSI %.0f", ind.RSI))

	if ind.VolumeRatio < 2 {
		score += w.ShortFadingVolume
		reasons = append(reasons, "volume declining")
	}
	if !ind.MACDBullish {
		score += w.ShortMACDBearish
		reasons = append(reasons, "MACD bearish")
	}
	if !ind.NearSupport {
		score += w.ShortNoSupport
	}
	if macro == domain.MacroBearish {
		score += w.ShortMacroBearish
	}
	reasons = append(reasons, "mean reversion play")

	return clamp(score, 0, 100), reasons
}

// SizeFraction returns the capital fraction for a signal of this side and confidence.
func (e *Evaluator) SizeFraction(side domain.Side, confidence float64) float64 {
	return e.cfg.Sizing.Fraction(side, confidence)
}

// LeverageHint lowers leverage as the 24h move grows.
func (e *Evaluator) LeverageHint(side domain.Side, change24h float64) int {
	lev := 4
	switch v := math.Abs(change24h); {
	case v > 50:
		lev = 2
	case v > 30:
		lev = 3
	}
	if e.cfg.MaxLeverage > 0 && lev > e.cfg.MaxLeverage {
		lev = e.cfg.MaxLeverage
	}
	if side == domain.SideShort && e.cfg.ShortMaxLeverage > 0 && lev > e.cfg.ShortMaxLeverage {
		lev = e.cfg.ShortMaxLeverage
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

func (e *Evaluator) build(symbol string, side domain.Side, conf, entry, atr, change24h, capital float64, reasons []string, now time.Time) domain.TradingSignal {
	sign := side.Sign()
	tp1 := entry * (1 + sign*e.cfg.TakeProfit1Pct)
	tp2 := entry * (1 + sign*e.cfg.TakeProfit2Pct)
	return domain.TradingSignal{
		Symbol:       symbol,
		Side:         side,
		Confidence:   conf,
		EntryPrice:   entry,
		StopLoss:     e.stops.StopPrice(side, entry, atr),
		TakeProfit1:  tp1,
		TakeProfit2:  tp2,
		SizeHint:     math.Round(capital*e.SizeFraction(side, conf)*100) / 100,
		LeverageHint: e.LeverageHint(side, change24h),
		Potential:    domain.EstimatedPotential(entry, tp1, tp2),
		Reasons:      reasons,
		CreatedAt:    now,
	}
}

// Rank orders signals by confidence, then estimated potential, both
// descending. Symbol and side break remaining ties so ordering is stable.
func Rank(signals []domain.TradingSignal) []domain.TradingSignal {
	out := append([]domain.TradingSignal(nil), signals...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Potential != b.Potential {
			return a.Potential > b.Potential
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Side < b.Side
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
