package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/signal"
)

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	MaxPositions    int
	MaxTradesPerDay int
	DailyLossLimit  float64 // Absolute quote amount, positive
	WeeklyLossLimit float64 // Absolute quote amount, positive

	Sizing      signal.Sizing
	MinNotional float64 // Absolute quote bounds on a single position
	MaxNotional float64

	MaxRiskFraction  float64 // Total loss-at-stop across positions as a fraction of capital
	MaxCorrelated    int
	CorrelatedGroups [][]string // Base assets that move together, e.g. {"BTC","ETH"}
	QuoteAsset       string

	MaxLeverage   int
	CrashDrawdown float64 // Fractional decline from peak equity that forces liquidation
}

// DefaultRiskConfig returns the standard limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositions:     3,
		MaxTradesPerDay:  10,
		DailyLossLimit:   2500,
		WeeklyLossLimit:  7500,
		Sizing:           signal.DefaultSizing(),
		MinNotional:      50,
		MaxNotional:      25000,
		MaxRiskFraction:  0.25,
		MaxCorrelated:    2,
		CorrelatedGroups: [][]string{{"BTC", "ETH"}},
		QuoteAsset:       "USDT",
		MaxLeverage:      5,
		CrashDrawdown:    0.15,
	}
}

// RejectCode classifies why a signal was rejected.
type RejectCode string

const (
	RejectNone          RejectCode = ""
	RejectInvalid       RejectCode = "invalid_signal"
	RejectHalted        RejectCode = "halted"
	RejectDailyLoss     RejectCode = "daily_loss_limit"
	RejectWeeklyLoss    RejectCode = "weekly_loss_limit"
	RejectTradeCount    RejectCode = "max_trades_per_day"
	RejectMaxPositions  RejectCode = "max_positions"
	RejectDuplicate     RejectCode = "duplicate_symbol"
	RejectPositionSize  RejectCode = "position_size"
	RejectMargin        RejectCode = "insufficient_margin"
	RejectTotalRisk     RejectCode = "total_risk"
	RejectCorrelation   RejectCode = "correlation"
	RejectBelowMinimum  RejectCode = "below_min_notional"
	RejectLeverageLimit RejectCode = "leverage"
)

// Decision is the outcome of Validate. A rejection is a value, not an error.
type Decision struct {
	Accepted bool
	Code     RejectCode
	Reason   string
	Notional float64 // Sized notional when accepted
}

func reject(code RejectCode, format string, args ...interface{}) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Assessment is the result of the per-cycle portfolio check.
type Assessment struct {
	Halt      domain.HaltState
	Changed   bool // Halt state entered on this check
	Reason    string
	Drawdown  float64 // Fraction below peak equity
	Liquidate bool    // Hard halt with positions still open
}

// Gatekeeper validates entries and enforces portfolio-level limits. All of its
// mutating methods take the state explicitly and are only called from the
// orchestrator cycle.
type Gatekeeper struct {
	config RiskConfig
	groups map[string]int
}

// NewGatekeeper creates a new risk gatekeeper instance
func NewGatekeeper(config RiskConfig) *Gatekeeper {
	groups := make(map[string]int)
	for i, g := range config.CorrelatedGroups {
		for _, asset := range g {
			groups[strings.ToUpper(asset)] = i
		}
	}
	return &Gatekeeper{config: config, groups: groups}
}

// Config returns the gatekeeper configuration.
func (g *Gatekeeper) Config() RiskConfig {
	return g.config
}

// Validate runs every entry check in order and returns the first rejection.
func (g *Gatekeeper) Validate(sig domain.TradingSignal, state *domain.PortfolioState) Decision {
	if sig.EntryPrice <= 0 || sig.LeverageHint < 1 {
		return reject(RejectInvalid, "signal has no entry price or leverage")
	}
	if sig.Side.Sign()*(sig.EntryPrice-sig.StopLoss) <= 0 {
		return reject(RejectInvalid, "stop %.8f is on the wrong side of entry %.8f", sig.StopLoss, sig.EntryPrice)
	}
	if g.config.MaxLeverage > 0 && sig.LeverageHint > g.config.MaxLeverage {
		return reject(RejectLeverageLimit, "leverage %d exceeds maximum %d", sig.LeverageHint, g.config.MaxLeverage)
	}

	if state.Halt != domain.HaltNone {
		return reject(RejectHalted, "trading halted (%s): %s", state.Halt, state.HaltReason)
	}
	if g.dailyLimitBreached(state) {
		return reject(RejectDailyLoss, "daily realized PnL %.2f at or below limit -%.2f", state.DailyRealizedPnL, g.config.DailyLossLimit)
	}
	if g.weeklyLimitBreached(state) {
		return reject(RejectWeeklyLoss, "weekly realized PnL %.2f at or below limit -%.2f",
			state.WeeklyRealizedPnL+state.DailyRealizedPnL, g.config.WeeklyLossLimit)
	}
	if g.config.MaxTradesPerDay > 0 && state.TradesToday >= g.config.MaxTradesPerDay {
		return reject(RejectTradeCount, "daily trade count %d reached maximum %d", state.TradesToday, g.config.MaxTradesPerDay)
	}
	if state.OpenCount() >= g.config.MaxPositions {
		return reject(RejectMaxPositions, "open positions %d at maximum %d", state.OpenCount(), g.config.MaxPositions)
	}
	if state.HasSymbol(sig.Symbol) {
		return reject(RejectDuplicate, "position already open for %s", sig.Symbol)
	}

	capital := state.Capital
	maxNotional := capital * g.config.Sizing.MaxFraction
	if sig.SizeHint > maxNotional*(1+1e-9) {
		return reject(RejectPositionSize, "notional %.2f exceeds max position %.2f", sig.SizeHint, maxNotional)
	}
	notional := g.Size(sig, capital)
	if notional <= 0 {
		return reject(RejectBelowMinimum, "capital %.2f cannot fund minimum notional %.2f", capital, g.config.MinNotional)
	}

	required := notional / float64(sig.LeverageHint)
	available := capital - state.UsedMargin()
	if required > available {
		return reject(RejectMargin, "required margin %.2f exceeds available %.2f", required, available)
	}

	newRisk := notional * math.Abs(sig.EntryPrice-sig.StopLoss) / sig.EntryPrice
	totalRisk := newRisk
	for _, p := range state.Positions {
		totalRisk += p.RiskAtStop()
	}
	if limit := capital * g.config.MaxRiskFraction; totalRisk > limit {
		return reject(RejectTotalRisk, "total risk at stop %.2f would exceed %.2f", totalRisk, limit)
	}

	if group, ok := g.group(sig.Symbol); ok && g.config.MaxCorrelated > 0 {
		count := 0
		for _, p := range state.Positions {
			if pg, ok := g.group(p.Symbol); ok && pg == group {
				count++
			}
		}
		if count >= g.config.MaxCorrelated {
			return reject(RejectCorrelation, "%d correlated positions already open", count)
		}
	}

	return Decision{Accepted: true, Notional: notional}
}

// Size returns the confidence-weighted notional for a signal, clipped to the
// relative and absolute bounds. It returns 0 when the bounds cannot be met.
func (g *Gatekeeper) Size(sig domain.TradingSignal, capital float64) float64 {
	if capital <= 0 {
		return 0
	}
	upper := capital * g.config.Sizing.MaxFraction
	if g.config.MaxNotional > 0 && g.config.MaxNotional < upper {
		upper = g.config.MaxNotional
	}
	lower := g.config.MinNotional
	if upper < lower {
		return 0
	}
	n := capital * g.config.Sizing.Fraction(sig.Side, sig.Confidence)
	if n < lower {
		n = lower
	}
	if n > upper {
		n = upper
	}
	return math.Round(n*100) / 100
}

// CheckPortfolio updates peak equity and escalates the halt state. It runs
// every cycle whether or not there are new signals.
func (g *Gatekeeper) CheckPortfolio(state *domain.PortfolioState) Assessment {
	equity := state.Equity()
	if equity > state.PeakEquity {
		state.PeakEquity = equity
	}
	drawdown := 0.0
	if state.PeakEquity > 0 {
		drawdown = (state.PeakEquity - equity) / state.PeakEquity
	}

	a := Assessment{Drawdown: drawdown}
	switch {
	case g.config.CrashDrawdown > 0 && drawdown >= g.config.CrashDrawdown && state.Halt != domain.HaltHard:
		state.Halt = domain.HaltHard
		state.HaltReason = fmt.Sprintf("drawdown %.2f%% reached crash threshold %.2f%%", drawdown*100, g.config.CrashDrawdown*100)
		a.Changed = true
	case state.Halt == domain.HaltNone && g.dailyLimitBreached(state):
		state.Halt = domain.HaltSoft
		state.HaltReason = fmt.Sprintf("daily loss limit reached (%.2f)", state.DailyRealizedPnL)
		a.Changed = true
	case state.Halt == domain.HaltNone && g.weeklyLimitBreached(state):
		state.Halt = domain.HaltSoft
		state.HaltReason = fmt.Sprintf("weekly loss limit reached (%.2f)", state.WeeklyRealizedPnL+state.DailyRealizedPnL)
		a.Changed = true
	}
	a.Halt = state.Halt
	a.Reason = state.HaltReason
	a.Liquidate = state.Halt == domain.HaltHard && state.OpenCount() > 0
	return a
}

// RecordOpen counts a new entry against the daily trade limit.
func (g *Gatekeeper) RecordOpen(state *domain.PortfolioState) {
	state.TradesToday++
}

// RecordRealized books a realized close into capital and the daily counter.
func (g *Gatekeeper) RecordRealized(state *domain.PortfolioState, rec *domain.TradeRecord) {
	state.Capital += rec.RealizedPnL
	state.DailyRealizedPnL += rec.RealizedPnL
}

// Rollover resets daily counters when now falls on a later UTC calendar day
// than the last reset. The daily result is folded into the weekly counter,
// which itself resets on an ISO week change. Calling it again on the same day
// is a no-op. It reports whether a reset happened.
func (g *Gatekeeper) Rollover(state *domain.PortfolioState, now time.Time) bool {
	if sameDay(state.LastReset, now) || now.Before(state.LastReset) {
		return false
	}
	if sameWeek(state.LastReset, now) {
		state.WeeklyRealizedPnL += state.DailyRealizedPnL
	} else {
		state.WeeklyRealizedPnL = 0
	}
	state.DailyRealizedPnL = 0
	state.TradesToday = 0
	state.LastReset = now

	if state.Halt == domain.HaltSoft && !g.weeklyLimitBreached(state) {
		state.Halt = domain.HaltNone
		state.HaltReason = ""
	}
	return true
}

// Resume clears any halt after manual intervention. Peak equity restarts from
// the current equity so the crash check does not immediately re-trigger.
func (g *Gatekeeper) Resume(state *domain.PortfolioState) bool {
	if state.Halt == domain.HaltNone {
		return false
	}
	state.Halt = domain.HaltNone
	state.HaltReason = ""
	state.PeakEquity = state.Equity()
	return true
}

// Halt forces a hard halt, e.g. after a manual emergency stop.
func (g *Gatekeeper) Halt(state *domain.PortfolioState, reason string) {
	state.Halt = domain.HaltHard
	state.HaltReason = reason
}

func (g *Gatekeeper) dailyLimitBreached(state *domain.PortfolioState) bool {
	return g.config.DailyLossLimit > 0 && state.DailyRealizedPnL <= -g.config.DailyLossLimit
}

func (g *Gatekeeper) weeklyLimitBreached(state *domain.PortfolioState) bool {
	return g.config.WeeklyLossLimit > 0 && state.WeeklyRealizedPnL+state.DailyRealizedPnL <= -g.config.WeeklyLossLimit
}

func (g *Gatekeeper) group(symbol string) (int, bool) {
	base := strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(g.config.QuoteAsset))
	i, ok := g.groups[base]
	return i, ok
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.UTC().ISOWeek()
	by, bw := b.UTC().ISOWeek()
	return ay == by && aw == bw
}
