package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Recorder receives every realized close before the position ledger changes.
// ports.TradeLedger satisfies it.
type Recorder interface {
	Append(ctx context.Context, rec *domain.TradeRecord) (int64, error)
}

// Config holds the controller configuration.
type Config struct {
	MaxPositions int
	Replacement  ReplacementPolicy
	Exits        ExitPolicy
}

// Replacement is the outcome of ReplacementDecision.
type Replacement struct {
	Replace     bool
	Victim      *domain.Position // Copy of the weakest position, nil below capacity
	VictimScore float64
	Reasons     []string
}

// ReplacementStats summarizes replacement activity since startup.
type ReplacementStats struct {
	TotalOpened         int
	Replaced            int
	ReplacementRate     float64 // Percent of opened positions later replaced
	AvgProfitOfReplaced float64 // Mean realized percent of replaced positions
}

// Controller owns the set of open positions inside PortfolioState and is the
// only code that mutates them.
type Controller struct {
	config   Config
	state    *domain.PortfolioState
	recorder Recorder
	logger   ports.Logger

	totalOpened       int
	replaced          int
	replacedProfitSum float64
}

// NewController creates a portfolio controller over state.
func NewController(config Config, state *domain.PortfolioState, recorder Recorder, logger ports.Logger) (*Controller, error) {
	if state == nil {
		return nil, fmt.Errorf("portfolio state is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("trade recorder is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.MaxPositions <= 0 {
		return nil, fmt.Errorf("max positions must be positive, got %d", config.MaxPositions)
	}
	return &Controller{config: config, state: state, recorder: recorder, logger: logger}, nil
}

// CanAcceptNew reports whether another position fits under MaxPositions.
func (c *Controller) CanAcceptNew() bool {
	return c.state.OpenCount() < c.config.MaxPositions
}

// Positions returns copies of the open positions.
func (c *Controller) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(c.state.Positions))
	for _, p := range c.state.Positions {
		out = append(out, p.Clone())
	}
	return out
}

// Get returns a copy of the position with id, or nil.
func (c *Controller) Get(id string) *domain.Position {
	if p := c.state.Find(id); p != nil {
		return p.Clone()
	}
	return nil
}

// VictimScore is the composite score used to find the weakest position.
// Lower is weaker.
func (c *Controller) VictimScore(p *domain.Position) float64 {
	rp := c.config.Replacement
	hours := p.HoldDuration.Hours()
	if hours > rp.TimePenaltyCapHours {
		hours = rp.TimePenaltyCapHours
	}
	timePenalty := -hours * rp.TimePenaltyPerHour
	return rp.ScorePnLWeight*p.UnrealizedPnLPct +
		rp.ScoreConfidenceWeight*(p.Confidence-50) +
		rp.ScoreTimeWeight*timePenalty +
		rp.ScorePotentialWeight*p.RemainingPotentialPct()
}

// ReplacementDecision picks the weakest position and reports whether a new
// signal with the given confidence and potential should replace it. It only
// ever recommends a replacement at capacity.
func (c *Controller) ReplacementDecision(newConfidence, newPotential float64) Replacement {
	if c.CanAcceptNew() || len(c.state.Positions) == 0 {
		return Replacement{}
	}

	var weakest *domain.Position
	weakestScore := math.Inf(1)
	for _, p := range c.state.Positions {
		s := c.VictimScore(p)
		if s < weakestScore || (s == weakestScore && weakest != nil && p.EntryTime.Before(weakest.EntryTime)) {
			weakest, weakestScore = p, s
		}
	}

	rp := c.config.Replacement
	var reasons []string
	if diff := newConfidence - weakest.Confidence; diff >= rp.ConfidenceMargin {
		reasons = append(reasons, fmt.Sprintf("confidence +%.1f", diff))
	}
	remaining := weakest.RemainingPotentialPct()
	if newPotential >= remaining*rp.PotentialMultiple {
		reasons = append(reasons, fmt.Sprintf("potential %.1f%% vs %.1f%%", newPotential, remaining))
	}
	if weakest.UnrealizedPnLPct <= -rp.LosingPct && newConfidence >= rp.LosingMinConfidence {
		reasons = append(reasons, "cutting loss for strong signal")
	}
	if weakest.HoldDuration >= rp.StagnantHold && weakest.UnrealizedPnLPct < rp.StagnantMaxProfitPct && newConfidence >= rp.StagnantMinConfidence {
		reasons = append(reasons, "stagnant position")
	}
	if weakest.UnrealizedPnLPct < 0 && math.Abs(weakest.DistanceToStopPct()) < rp.NearStopPct {
		reasons = append(reasons, "near stop loss")
	}

	return Replacement{
		Replace:     len(reasons) > 0,
		Victim:      weakest.Clone(),
		VictimScore: weakestScore,
		Reasons:     reasons,
	}
}

// Open activates a freshly filled position. It enforces capacity and symbol
// uniqueness so the ledger can never exceed MaxPositions.
func (c *Controller) Open(p *domain.Position) error {
	if p == nil || p.Quantity <= 0 || p.Size <= 0 || p.EntryPrice <= 0 || p.Leverage < 1 {
		return fmt.Errorf("%w: position must have positive quantity, size, entry price and leverage", ports.ErrInvalidRequest)
	}
	if !c.CanAcceptNew() {
		return fmt.Errorf("open %s: %w", p.Symbol, ports.ErrCapacityReached)
	}
	if c.state.HasSymbol(p.Symbol) {
		return fmt.Errorf("open %s: %w", p.Symbol, ports.ErrPositionExists)
	}
	p.Status = domain.StatusOpen
	c.state.Positions = append(c.state.Positions, p)
	c.totalOpened++
	return nil
}

// Restore re-attaches positions loaded from a snapshot. Entries that would
// break capacity or uniqueness are skipped and returned.
func (c *Controller) Restore(positions []*domain.Position) []*domain.Position {
	var skipped []*domain.Position
	for _, p := range positions {
		if p == nil {
			continue
		}
		if !c.CanAcceptNew() || c.state.HasSymbol(p.Symbol) || p.Quantity <= 0 {
			skipped = append(skipped, p)
			continue
		}
		if p.Status != domain.StatusPartial {
			p.Status = domain.StatusOpen
		}
		c.state.Positions = append(c.state.Positions, p)
	}
	return skipped
}

// Update marks the position on symbol to price.
func (c *Controller) Update(symbol string, price float64, now time.Time) (*domain.Position, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: invalid price %f for %s", ports.ErrInvalidRequest, price, symbol)
	}
	for _, p := range c.state.Positions {
		if p.Symbol == symbol {
			p.UpdatePrice(price, now)
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("update %s: %w", symbol, ports.ErrUnknownPosition)
}

// CheckExit returns the highest-priority exit action for a position.
func (c *Controller) CheckExit(id string) (ExitAction, error) {
	p := c.state.Find(id)
	if p == nil {
		return ExitAction{}, fmt.Errorf("check exit %s: %w", id, ports.ErrUnknownPosition)
	}
	return evaluateExit(p, c.config.Exits), nil
}

// RatchetStop moves the stop in the favorable direction only. It reports
// whether the stop changed.
func (c *Controller) RatchetStop(id string, stop float64) (bool, error) {
	p := c.state.Find(id)
	if p == nil {
		return false, fmt.Errorf("ratchet %s: %w", id, ports.ErrUnknownPosition)
	}
	if p.Side.Sign()*(stop-p.StopLoss) <= 0 {
		return false, nil
	}
	p.StopLoss = stop
	return true, nil
}

// SetStopOrder remembers the exchange-side protective stop order for a position.
func (c *Controller) SetStopOrder(id string, orderID int64) error {
	p := c.state.Find(id)
	if p == nil {
		return fmt.Errorf("set stop order %s: %w", id, ports.ErrUnknownPosition)
	}
	p.StopOrderID = orderID
	return nil
}

// Close fully closes a position at exitPrice and removes it from the ledger.
// The trade record is handed to the recorder first.
func (c *Controller) Close(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason, now time.Time) (*domain.TradeRecord, error) {
	p := c.state.Find(id)
	if p == nil {
		return nil, fmt.Errorf("close %s: %w", id, ports.ErrUnknownPosition)
	}
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%w: invalid exit price %f", ports.ErrInvalidRequest, exitPrice)
	}

	p.UpdatePrice(exitPrice, now)
	rec := c.record(p, 1, p.UnrealizedPnL, exitPrice, reason, now)
	c.emit(ctx, rec)

	p.Status = domain.StatusClosed
	c.remove(id)
	if reason == domain.CloseReasonReplaced {
		c.replaced++
		c.replacedProfitSum += rec.PnLPct
	}
	return rec, nil
}

// ClosePartial closes fraction of a position. Quantity and size shrink by
// (1-fraction), the realized slice is unrealized PnL times fraction, and the
// position keeps its identity, entry price and stop.
func (c *Controller) ClosePartial(ctx context.Context, id string, fraction, exitPrice float64, reason domain.CloseReason, now time.Time) (*domain.TradeRecord, error) {
	p := c.state.Find(id)
	if p == nil {
		return nil, fmt.Errorf("partial close %s: %w", id, ports.ErrUnknownPosition)
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("%w: partial fraction %f must be in (0,1)", ports.ErrInvalidRequest, fraction)
	}
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%w: invalid exit price %f", ports.ErrInvalidRequest, exitPrice)
	}

	p.UpdatePrice(exitPrice, now)
	rec := c.record(p, fraction, p.UnrealizedPnL*fraction, exitPrice, reason, now)
	rec.Partial = true
	c.emit(ctx, rec)

	p.Quantity *= 1 - fraction
	p.Size *= 1 - fraction
	p.UnrealizedPnL = p.PnLAt(p.CurrentPrice)
	p.Status = domain.StatusPartial
	p.PartialTaken = true
	return rec, nil
}

func (c *Controller) record(p *domain.Position, fraction, realized, exitPrice float64, reason domain.CloseReason, now time.Time) *domain.TradeRecord {
	notional := p.Size * fraction
	pct := 0.0
	if notional > 0 {
		pct = realized / notional * 100
	}
	return &domain.TradeRecord{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    p.Quantity * fraction,
		Notional:    notional,
		Leverage:    p.Leverage,
		RealizedPnL: realized,
		PnLPct:      pct,
		Confidence:  p.Confidence,
		EntryTime:   p.EntryTime,
		ExitTime:    now,
		CloseReason: reason,
	}
}

// emit persists the record. A storage failure is logged and does not block
// the close, since the exchange side has already been reduced.
func (c *Controller) emit(ctx context.Context, rec *domain.TradeRecord) {
	id, err := c.recorder.Append(ctx, rec)
	if err != nil {
		c.logger.Error(ctx, err, "Failed to append trade record", map[string]interface{}{
			"symbol":      rec.Symbol,
			"position_id": rec.PositionID,
			"reason":      rec.CloseReason,
			"pnl":         rec.RealizedPnL,
		})
		return
	}
	rec.ID = id
}

func (c *Controller) remove(id string) {
	kept := c.state.Positions[:0]
	for _, p := range c.state.Positions {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(c.state.Positions); i++ {
		c.state.Positions[i] = nil
	}
	c.state.Positions = kept
}

// ReplacementStats returns replacement counters.
func (c *Controller) ReplacementStats() ReplacementStats {
	s := ReplacementStats{TotalOpened: c.totalOpened, Replaced: c.replaced}
	if c.totalOpened > 0 {
		s.ReplacementRate = float64(c.replaced) / float64(c.totalOpened) * 100
	}
	if c.replaced > 0 {
		s.AvgProfitOfReplaced = c.replacedProfitSum / float64(c.replaced)
	}
	return s
}

// PerformerSummary identifies one position in a Summary.
type PerformerSummary struct {
	Symbol string
	PnL    float64
	PnLPct float64
}

// Summary aggregates the open positions.
type Summary struct {
	OpenPositions      int
	TotalUnrealizedPnL float64
	TotalUnrealizedPct float64
	Best               *PerformerSummary
	Worst              *PerformerSummary
	AvgConfidence      float64
}

// Summary returns aggregate figures for the open positions.
func (c *Controller) Summary() Summary {
	s := Summary{OpenPositions: len(c.state.Positions)}
	if s.OpenPositions == 0 {
		return s
	}
	totalSize, totalConf := 0.0, 0.0
	for _, p := range c.state.Positions {
		s.TotalUnrealizedPnL += p.UnrealizedPnL
		totalSize += p.Size
		totalConf += p.Confidence
		if s.Best == nil || p.UnrealizedPnLPct > s.Best.PnLPct {
			s.Best = &PerformerSummary{Symbol: p.Symbol, PnL: p.UnrealizedPnL, PnLPct: p.UnrealizedPnLPct}
		}
		if s.Worst == nil || p.UnrealizedPnLPct < s.Worst.PnLPct {
			s.Worst = &PerformerSummary{Symbol: p.Symbol, PnL: p.UnrealizedPnL, PnLPct: p.UnrealizedPnLPct}
		}
	}
	if totalSize > 0 {
		s.TotalUnrealizedPct = s.TotalUnrealizedPnL / totalSize * 100
	}
	s.AvgConfidence = totalConf / float64(s.OpenPositions)
	return s
}

// Ranking is one row of Rankings.
type Ranking struct {
	Rank               int
	PositionID         string
	Symbol             string
	Score              float64
	PnLPct             float64
	Confidence         float64
	RemainingPotential float64
	MaxProfitPct       float64
	HoldDuration       time.Duration
}

// Rankings orders open positions by a blend of current performance,
// confidence, remaining potential and best profit seen.
func (c *Controller) Rankings() []Ranking {
	out := make([]Ranking, 0, len(c.state.Positions))
	for _, p := range c.state.Positions {
		remaining := p.RemainingPotentialPct()
		out = append(out, Ranking{
			PositionID:         p.ID,
			Symbol:             p.Symbol,
			Score:              p.UnrealizedPnLPct*0.3 + p.Confidence*0.25 + remaining*0.25 + p.MaxProfitPct*0.2,
			PnLPct:             p.UnrealizedPnLPct,
			Confidence:         p.Confidence,
			RemainingPotential: remaining,
			MaxProfitPct:       p.MaxProfitPct,
			HoldDuration:       p.HoldDuration,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Symbol < out[j].Symbol
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
