package signal

import "perpbot/internal/domain"

// MacroThresholds are the reference-asset 24h change bounds, in percent.
type MacroThresholds struct {
	Bullish float64 // Strictly above is bullish
	Bearish float64 // Strictly below is bearish
}

// DefaultMacroThresholds returns +2% / -5%.
func DefaultMacroThresholds() MacroThresholds {
	return MacroThresholds{Bullish: 2, Bearish: -5}
}

// MacroTrendFrom classifies the market regime from the reference asset.
// A missing snapshot is neutral.
func MacroTrendFrom(ref *domain.MarketSnapshot, th MacroThresholds) domain.MacroTrend {
	if ref == nil {
		return domain.MacroNeutral
	}
	switch {
	case ref.PriceChangePct24h > th.Bullish:
		return domain.MacroBullish
	case ref.PriceChangePct24h < th.Bearish:
		return domain.MacroBearish
	default:
		return domain.MacroNeutral
	}
}
