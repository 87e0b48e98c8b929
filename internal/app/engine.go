package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"perpbot/internal/analytics"
	"perpbot/internal/domain"
	"perpbot/internal/indicators"
	"perpbot/internal/metrics"
	"perpbot/internal/portfolio"
	"perpbot/internal/ports"
	"perpbot/internal/retry"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

var errStepPanic = errors.New("cycle step panicked")

// EngineConfig holds the orchestrator timings and data settings.
type EngineConfig struct {
	CandleInterval string
	CandleLimit    int
	Concurrency    int // Parallel candle fetches

	CycleInterval    time.Duration // Pause between the end of one cycle and the start of the next
	CycleTimeout     time.Duration // Budget of each cycle step
	RequestTimeout   time.Duration // Per market data attempt, defaults to 10s
	HealthInterval   time.Duration
	SnapshotInterval time.Duration
	StatusInterval   time.Duration

	QuoteAsset  string
	LiveBalance bool // Take capital from the exchange wallet on restore
	Reconcile   bool // Book positions the exchange no longer holds
	Macro       signal.MacroThresholds
	Retry       retry.Config // Market data reads
}

// Pinger is implemented by the storage layer for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the engine. Controller must own State.
type Deps struct {
	Gateway    ports.Gateway
	Scanner    *Scanner
	Executor   *Executor
	Indicators *indicators.Engine
	Evaluator  *signal.Evaluator
	Gatekeeper *risk.Gatekeeper
	Controller *portfolio.Controller
	State      *domain.PortfolioState
	Ledger     ports.TradeLedger
	Snapshots  ports.SnapshotRepository
	Storage    Pinger // Optional
	Logger     ports.Logger
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Started    time.Time
	Duration   time.Duration
	Candidates int
	Signals    int
	Opened     int
	Replaced   int
	Closed     int
	Rejected   int
	Failed     int
	Errors     []string
}

// Status is the read-only view served to dashboards.
type Status struct {
	Running           bool
	Paused            bool
	Healthy           bool
	Halt              domain.HaltState
	HaltReason        string
	Capital           float64
	Equity            float64
	PeakEquity        float64
	DailyRealizedPnL  float64
	WeeklyRealizedPnL float64
	TradesToday       int
	Summary           portfolio.Summary
	Rankings          []portfolio.Ranking
	Replacement       portfolio.ReplacementStats
	LastCycle         CycleReport
	UpdatedAt         time.Time
}

// Engine runs the decision cycle. Only one cycle runs at a time, and manual
// controls that mutate state wait for the running cycle to finish.
type Engine struct {
	cfg        EngineConfig
	gateway    ports.Gateway
	scanner    *Scanner
	executor   *Executor
	indicators *indicators.Engine
	evaluator  *signal.Evaluator
	gatekeeper *risk.Gatekeeper
	controller *portfolio.Controller
	state      *domain.PortfolioState
	ledger     ports.TradeLedger
	snapshots  ports.SnapshotRepository
	storage    Pinger
	logger     ports.Logger
	now        func() time.Time

	cycleMu      sync.Mutex // Serializes cycles and manual controls
	lastHealth   time.Time
	lastSnapshot time.Time
	lastStatus   time.Time
	healthy      bool

	running atomic.Bool
	paused  atomic.Bool

	statusMu sync.RWMutex
	status   Status
}

// NewEngine validates dependencies and builds the engine.
func NewEngine(cfg EngineConfig, deps Deps) (*Engine, error) {
	if deps.Gateway == nil || deps.Scanner == nil || deps.Executor == nil || deps.Indicators == nil ||
		deps.Evaluator == nil || deps.Gatekeeper == nil || deps.Controller == nil || deps.State == nil ||
		deps.Ledger == nil || deps.Snapshots == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if cfg.CycleInterval <= 0 || cfg.CycleTimeout <= 0 {
		return nil, fmt.Errorf("cycle interval and timeout must be positive")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Macro == (signal.MacroThresholds{}) {
		cfg.Macro = signal.DefaultMacroThresholds()
	}

	return &Engine{
		cfg:        cfg,
		gateway:    deps.Gateway,
		scanner:    deps.Scanner,
		executor:   deps.Executor,
		indicators: deps.Indicators,
		evaluator:  deps.Evaluator,
		gatekeeper: deps.Gatekeeper,
		controller: deps.Controller,
		state:      deps.State,
		ledger:     deps.Ledger,
		snapshots:  deps.Snapshots,
		storage:    deps.Storage,
		logger:     deps.Logger,
		now:        time.Now,
		healthy:    true,
	}, nil
}

// Run executes cycles until ctx is cancelled. The next cycle is armed only
// after the previous one returns, so cycles never overlap. Stopping does not
// close positions.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine is already running")
	}
	defer e.running.Store(false)

	e.logger.Info(ctx, "Engine started", map[string]interface{}{
		"cycleInterval": e.cfg.CycleInterval.String(),
		"cycleTimeout":  e.cfg.CycleTimeout.String(),
	})

	for {
		if err := e.RunCycle(ctx); err != nil {
			e.logger.Warn(ctx, "Cycle finished with errors", map[string]interface{}{"error": err.Error()})
		}

		timer := time.NewTimer(e.cfg.CycleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.shutdown()
			return nil
		case <-timer.C:
		}
	}
}

// shutdown persists a final snapshot with a fresh context.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.saveSnapshot(ctx)
	e.logger.Info(ctx, "Engine stopped", map[string]interface{}{"openPositions": e.state.OpenCount()})
}

// RunCycle executes one full decision cycle. Each step recovers from panics
// and gets its own CycleTimeout budget, so a failing or slow step never
// prevents the following ones from running.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	report := CycleReport{Started: start}
	var errs error
	run := func(name string, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
		if err := e.safeStep(stepCtx, name, fn); err != nil {
			errs = multierr.Append(errs, err)
			report.Errors = append(report.Errors, err.Error())
		}
	}

	run("rollover", e.stepRollover)
	run("entries", func(ctx context.Context) error { return e.stepEntries(ctx, &report) })
	run("monitor", func(ctx context.Context) error { return e.stepMonitor(ctx, &report) })
	run("risk", func(ctx context.Context) error { return e.stepRisk(ctx, &report) })
	run("maintenance", e.stepMaintenance)

	report.Duration = e.now().Sub(start)
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	switch {
	case errors.Is(errs, errStepPanic):
		metrics.CyclesTotal.WithLabelValues("panic").Inc()
	case errs != nil:
		metrics.CyclesTotal.WithLabelValues("error").Inc()
	default:
		metrics.CyclesTotal.WithLabelValues("ok").Inc()
	}
	e.publish(report)

	e.logger.Debug(ctx, "Cycle complete", map[string]interface{}{
		"duration":   report.Duration.String(),
		"candidates": report.Candidates,
		"signals":    report.Signals,
		"opened":     report.Opened,
		"closed":     report.Closed,
		"replaced":   report.Replaced,
		"rejected":   report.Rejected,
		"errors":     len(report.Errors),
	})
	return errs
}

func (e *Engine) safeStep(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", errStepPanic, name, r)
			e.logger.Error(ctx, err, "Recovered from panic in cycle step", map[string]interface{}{
				"step":  name,
				"stack": string(debug.Stack()),
			})
		}
	}()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// stepRollover resets the daily counters on a new UTC day and logs the
// summary of the day that just ended.
func (e *Engine) stepRollover(ctx context.Context) error {
	now := e.now()
	previous := e.state.LastReset
	if !e.gatekeeper.Rollover(e.state, now) {
		return nil
	}
	e.logger.Info(ctx, "Daily counters reset", map[string]interface{}{
		"weeklyRealizedPnL": e.state.WeeklyRealizedPnL,
		"halt":              e.state.Halt,
	})
	return e.dailySummary(ctx, startOfDay(previous), startOfDay(now))
}

func (e *Engine) dailySummary(ctx context.Context, from, to time.Time) error {
	records, err := e.ledger.FindSince(ctx, from)
	if err != nil {
		return fmt.Errorf("loading ledger for daily summary: %w", err)
	}
	day := make([]*domain.TradeRecord, 0, len(records))
	realized := 0.0
	for _, r := range records {
		if r.ExitTime.Before(to) {
			day = append(day, r)
			realized += r.RealizedPnL
		}
	}
	perf := analytics.AnalyzePerformance(day, e.state.Capital-realized)
	fields := map[string]interface{}{
		"day":          from.Format("2006-01-02"),
		"trades":       perf.TotalTrades,
		"partials":     perf.PartialCloses,
		"winRate":      perf.WinRate,
		"totalProfit":  perf.TotalProfit,
		"profitFactor": perf.ProfitFactor,
		"maxDrawdown":  perf.MaxDrawdown,
		"avgHold":      perf.AverageHold.String(),
	}
	if perf.BestTrade != nil {
		fields["best"] = perf.BestTrade.Symbol
		fields["worst"] = perf.WorstTrade.Symbol
	}
	e.logger.Info(ctx, "Daily summary", fields)
	return nil
}

// stepEntries scans, evaluates and tries to open positions for the ranked signals.
func (e *Engine) stepEntries(ctx context.Context, report *CycleReport) error {
	if e.paused.Load() {
		e.logger.Debug(ctx, "Entries paused, skipping scan")
		return nil
	}
	if e.state.Halt != domain.HaltNone {
		e.logger.Debug(ctx, "Trading halted, skipping scan", map[string]interface{}{"halt": e.state.Halt, "reason": e.state.HaltReason})
		return nil
	}

	scan, err := e.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	macro := signal.MacroTrendFrom(scan.Reference, e.cfg.Macro)

	candidates := make([]*domain.MarketSnapshot, 0, len(scan.Candidates))
	for _, c := range scan.Candidates {
		if !e.state.HasSymbol(c.Symbol) {
			candidates = append(candidates, c)
		}
	}
	report.Candidates = len(candidates)

	candles := e.fetchCandles(ctx, candidates)
	now := e.now()
	var signals []domain.TradingSignal
	for _, c := range candidates {
		klines, ok := candles[c.Symbol]
		if !ok {
			continue
		}
		set := e.indicators.Compute(c.Symbol, klines)
		for _, sig := range e.evaluator.Evaluate(c, set, macro, e.state.Capital, now) {
			metrics.SignalsTotal.WithLabelValues(string(sig.Side)).Inc()
			signals = append(signals, sig)
		}
	}
	report.Signals = len(signals)
	if len(signals) > 0 {
		e.logger.Info(ctx, "Signals generated", map[string]interface{}{"count": len(signals), "macro": macro})
	}

	for _, sig := range signal.Rank(signals) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.tryEnter(ctx, sig, report)
	}
	return nil
}

// fetchCandles loads history for each candidate with bounded parallelism.
// Symbols whose fetch fails are left out for this cycle.
func (e *Engine) fetchCandles(ctx context.Context, candidates []*domain.MarketSnapshot) map[string][]*domain.Kline {
	out := make(map[string][]*domain.Kline, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, c := range candidates {
		symbol := c.Symbol
		g.Go(func() error {
			var klines []*domain.Kline
			err := timedRead(gctx, e.cfg.Retry, e.cfg.RequestTimeout, func(ctx context.Context) error {
				var err error
				klines, err = e.gateway.GetCandles(ctx, symbol, e.cfg.CandleInterval, e.cfg.CandleLimit)
				return err
			})
			if err != nil {
				e.logger.Warn(gctx, "Candle fetch failed, skipping symbol this cycle", map[string]interface{}{"symbol": symbol, "error": err.Error()})
				return nil
			}
			mu.Lock()
			out[symbol] = klines
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// tryEnter validates a signal and opens it, replacing the weakest position
// when the portfolio is full and the replacement rules allow it.
func (e *Engine) tryEnter(ctx context.Context, sig domain.TradingSignal, report *CycleReport) {
	decision := e.gatekeeper.Validate(sig, e.state)
	if decision.Accepted {
		e.open(ctx, sig, decision.Notional, report)
		return
	}
	if decision.Code != risk.RejectMaxPositions {
		e.rejected(ctx, sig, decision, report)
		return
	}

	rep := e.controller.ReplacementDecision(sig.Confidence, sig.Potential)
	if !rep.Replace || rep.Victim == nil {
		e.rejected(ctx, sig, decision, report)
		return
	}
	decision = e.gatekeeper.Validate(sig, e.state.Without(rep.Victim.ID))
	if !decision.Accepted {
		e.rejected(ctx, sig, decision, report)
		return
	}

	e.logger.Info(ctx, "Replacing position", map[string]interface{}{
		"victimID":      rep.Victim.ID,
		"victim":        rep.Victim.Symbol,
		"victimScore":   rep.VictimScore,
		"victimPnLPct":  rep.Victim.UnrealizedPnLPct,
		"newSymbol":     sig.Symbol,
		"newConfidence": sig.Confidence,
		"reasons":       rep.Reasons,
	})
	if _, err := e.closePosition(ctx, rep.Victim, 1, rep.Victim.CurrentPrice, domain.CloseReasonReplaced); err != nil {
		e.logger.Error(ctx, err, "Replacement aborted, victim could not be closed", map[string]interface{}{"positionID": rep.Victim.ID})
		report.Failed++
		return
	}
	report.Closed++
	if !e.open(ctx, sig, decision.Notional, report) {
		e.logger.Error(ctx, fmt.Errorf("replacement entry for %s failed", sig.Symbol), "Replacement failed, victim closed without a successor", map[string]interface{}{
			"victimID": rep.Victim.ID,
			"victim":   rep.Victim.Symbol,
		})
		return
	}
	report.Replaced++
	metrics.ReplacementsTotal.Inc()
}

func (e *Engine) rejected(ctx context.Context, sig domain.TradingSignal, d risk.Decision, report *CycleReport) {
	report.Rejected++
	metrics.RejectionsTotal.WithLabelValues(string(d.Code)).Inc()
	e.logger.Debug(ctx, "Signal rejected", map[string]interface{}{
		"symbol":     sig.Symbol,
		"side":       sig.Side,
		"confidence": sig.Confidence,
		"code":       d.Code,
		"reason":     d.Reason,
	})
}

// open reports whether the signal became an OPEN position.
func (e *Engine) open(ctx context.Context, sig domain.TradingSignal, notional float64, report *CycleReport) bool {
	pos, err := e.executor.Open(ctx, sig, notional)
	if err != nil {
		report.Failed++
		e.logger.Error(ctx, err, "Entry failed, signal dropped", map[string]interface{}{"symbol": sig.Symbol, "side": sig.Side})
		return false
	}
	if err := e.controller.Open(pos); err != nil {
		report.Failed++
		e.logger.Error(ctx, err, "Filled position rejected by controller, unwinding", map[string]interface{}{"symbol": pos.Symbol})
		if uerr := e.executor.Unwind(ctx, pos); uerr != nil {
			e.logger.Error(ctx, uerr, "UNWIND FAILED, manual intervention required", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity})
		}
		return false
	}
	e.gatekeeper.RecordOpen(e.state)
	report.Opened++
	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"side":       pos.Side,
		"entry":      pos.EntryPrice,
		"size":       pos.Size,
		"leverage":   pos.Leverage,
		"stopLoss":   pos.StopLoss,
		"tp1":        pos.TakeProfit1,
		"tp2":        pos.TakeProfit2,
		"confidence": pos.Confidence,
	})
	return true
}

// closePosition sends the closing order and books the result. The actual
// fill price is used when the gateway reports one, otherwise fallback.
func (e *Engine) closePosition(ctx context.Context, p *domain.Position, fraction, fallback float64, reason domain.CloseReason) (*domain.TradeRecord, error) {
	fill, err := e.executor.Close(ctx, p, fraction)
	if err != nil {
		// A reduce-only order is rejected once the exchange stop has filled.
		if rec := e.reconcile(ctx, p); rec != nil {
			return rec, nil
		}
		return nil, err
	}
	price := fill
	if price <= 0 {
		price = fallback
	}
	return e.book(ctx, p, fraction, price, reason)
}

// book records a close in the portfolio and the risk counters.
func (e *Engine) book(ctx context.Context, p *domain.Position, fraction, price float64, reason domain.CloseReason) (*domain.TradeRecord, error) {
	now := e.now()
	var (
		rec *domain.TradeRecord
		err error
	)
	if fraction >= 1 {
		rec, err = e.controller.Close(ctx, p.ID, price, reason, now)
	} else {
		rec, err = e.controller.ClosePartial(ctx, p.ID, fraction, price, reason, now)
	}
	if err != nil {
		return nil, err
	}
	e.gatekeeper.RecordRealized(e.state, rec)
	metrics.ExitsTotal.WithLabelValues(string(reason)).Inc()

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID":  rec.PositionID,
		"symbol":      rec.Symbol,
		"reason":      reason,
		"partial":     rec.Partial,
		"exitPrice":   rec.ExitPrice,
		"realizedPnL": rec.RealizedPnL,
		"pnlPct":      rec.PnLPct,
	})
	return rec, nil
}

// stepMonitor marks every open position to market and applies at most one
// exit action per position.
func (e *Engine) stepMonitor(ctx context.Context, report *CycleReport) error {
	for _, p := range e.controller.Positions() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rec := e.reconcile(ctx, p); rec != nil {
			report.Closed++
			continue
		}
		price, err := e.currentPrice(ctx, p.Symbol)
		if err != nil {
			e.logger.Warn(ctx, "Price unavailable, position not monitored this cycle", map[string]interface{}{"symbol": p.Symbol, "error": err.Error()})
			continue
		}
		updated, err := e.controller.Update(p.Symbol, price, e.now())
		if err != nil {
			e.logger.Warn(ctx, "Position update rejected", map[string]interface{}{"symbol": p.Symbol, "error": err.Error()})
			continue
		}
		action, err := e.controller.CheckExit(updated.ID)
		if err != nil {
			continue
		}
		e.applyExit(ctx, updated, action, report)
	}
	return nil
}

func (e *Engine) applyExit(ctx context.Context, p *domain.Position, action portfolio.ExitAction, report *CycleReport) {
	switch action.Kind {
	case portfolio.ExitFull:
		if _, err := e.closePosition(ctx, p, 1, action.Price, action.Reason); err != nil {
			e.logger.Error(ctx, err, "Exit failed, retrying next cycle", map[string]interface{}{"positionID": p.ID, "reason": action.Reason})
			return
		}
		report.Closed++

	case portfolio.ExitPartial:
		if _, err := e.closePosition(ctx, p, action.Fraction, action.Price, action.Reason); err != nil {
			e.logger.Error(ctx, err, "Partial exit failed, retrying next cycle", map[string]interface{}{"positionID": p.ID})
			return
		}
		report.Closed++
		// Resize the protective stop to the remaining quantity.
		if remaining := e.controller.Get(p.ID); remaining != nil {
			e.moveStop(ctx, remaining, remaining.StopLoss)
		}

	case portfolio.ExitRatchet:
		changed, err := e.controller.RatchetStop(p.ID, action.Price)
		if err != nil || !changed {
			return
		}
		if cur := e.controller.Get(p.ID); cur != nil {
			e.logger.Info(ctx, "Stop ratcheted", map[string]interface{}{"positionID": p.ID, "symbol": p.Symbol, "stopLoss": cur.StopLoss})
			e.moveStop(ctx, cur, cur.StopLoss)
		}
	}
}

// moveStop replaces the exchange-side stop. On failure the engine-side stop
// check still protects the position.
func (e *Engine) moveStop(ctx context.Context, p *domain.Position, stop float64) {
	orderID, err := e.executor.ReplaceStop(ctx, p, stop)
	if err != nil {
		e.logger.Error(ctx, err, "Stop replacement failed", map[string]interface{}{"positionID": p.ID})
		return
	}
	_ = e.controller.SetStopOrder(p.ID, orderID)
}

func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := timedRead(ctx, e.cfg.Retry, e.cfg.RequestTimeout, func(ctx context.Context) error {
		var err error
		price, err = e.gateway.GetCurrentPrice(ctx, symbol)
		return err
	})
	return price, err
}

// reconcile books a position the exchange no longer holds, which is what a
// filled exchange-side stop looks like. The close is booked at the stop
// price. It returns nil when the exchange still holds the position or the
// query failed.
func (e *Engine) reconcile(ctx context.Context, p *domain.Position) *domain.TradeRecord {
	if !e.cfg.Reconcile {
		return nil
	}
	var amount float64
	err := timedRead(ctx, e.cfg.Retry, e.cfg.RequestTimeout, func(ctx context.Context) error {
		var err error
		amount, err = e.gateway.GetPositionAmount(ctx, p.Symbol)
		return err
	})
	if err != nil {
		e.logger.Warn(ctx, "Position query failed, exchange state not reconciled", map[string]interface{}{"symbol": p.Symbol, "error": err.Error()})
		return nil
	}
	if p.Side.Sign()*amount > p.Quantity*1e-6 {
		return nil
	}

	e.logger.Warn(ctx, "Position no longer held on the exchange, booking stop fill", map[string]interface{}{
		"positionID": p.ID,
		"symbol":     p.Symbol,
		"exchange":   amount,
		"stopLoss":   p.StopLoss,
	})
	if p.StopOrderID != 0 {
		_ = e.executor.cancelOrderWarn(ctx, p.Symbol, p.StopOrderID, "SL")
	}
	rec, err := e.book(ctx, p, 1, p.StopLoss, domain.CloseReasonStopLoss)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to book reconciled close", map[string]interface{}{"positionID": p.ID})
		return nil
	}
	return rec
}

// stepRisk runs the portfolio-level checks and liquidates on a hard halt.
func (e *Engine) stepRisk(ctx context.Context, report *CycleReport) error {
	a := e.gatekeeper.CheckPortfolio(e.state)
	if a.Changed {
		e.logger.Warn(ctx, "Trading halted", map[string]interface{}{
			"halt":     a.Halt,
			"reason":   a.Reason,
			"drawdown": a.Drawdown,
		})
	}
	if !a.Liquidate {
		return nil
	}
	closed, err := e.liquidateAll(ctx, domain.CloseReasonEmergency)
	report.Closed += closed
	return err
}

// liquidateAll closes every open position. Positions that fail to close stay
// in the ledger and are retried by the next call.
func (e *Engine) liquidateAll(ctx context.Context, reason domain.CloseReason) (int, error) {
	var errs error
	closed := 0
	for _, p := range e.controller.Positions() {
		if _, err := e.closePosition(ctx, p, 1, p.CurrentPrice, reason); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("liquidating %s: %w", p.Symbol, err))
			continue
		}
		closed++
	}
	if errs != nil {
		e.logger.Error(ctx, errs, "Liquidation incomplete", map[string]interface{}{
			"closed":    closed,
			"remaining": e.state.OpenCount(),
		})
	}
	return closed, errs
}

// stepMaintenance runs the periodic health check, snapshot and status log.
func (e *Engine) stepMaintenance(ctx context.Context) error {
	now := e.now()
	var err error
	if now.Sub(e.lastHealth) >= e.cfg.HealthInterval {
		e.lastHealth = now
		err = e.healthCheck(ctx)
	}
	if now.Sub(e.lastSnapshot) >= e.cfg.SnapshotInterval {
		e.lastSnapshot = now
		e.saveSnapshot(ctx)
	}
	if now.Sub(e.lastStatus) >= e.cfg.StatusInterval {
		e.lastStatus = now
		e.logStatus(ctx)
	}
	e.updateGauges()
	return err
}

func (e *Engine) healthCheck(ctx context.Context) error {
	var errs error
	errs = multierr.Append(errs, e.gateway.Ping(ctx))
	if _, err := e.gateway.GetAccountBalance(ctx, e.cfg.QuoteAsset); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("balance: %w", err))
	}
	if e.storage != nil {
		errs = multierr.Append(errs, e.storage.Ping(ctx))
	}

	e.healthy = errs == nil
	if errs != nil {
		e.logger.Error(ctx, errs, "Health check failed", map[string]interface{}{"failures": len(multierr.Errors(errs))})
		return fmt.Errorf("health check: %w", errs)
	}
	e.logger.Debug(ctx, "Health check passed")
	return nil
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	snap := e.state.Snapshot(e.now())
	if _, err := e.snapshots.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Error(ctx, err, "Failed to save portfolio snapshot")
	}
}

func (e *Engine) logStatus(ctx context.Context) {
	summary := e.controller.Summary()
	stats := e.controller.ReplacementStats()
	fields := map[string]interface{}{
		"capital":         e.state.Capital,
		"equity":          e.state.Equity(),
		"openPositions":   summary.OpenPositions,
		"unrealizedPnL":   summary.TotalUnrealizedPnL,
		"dailyRealized":   e.state.DailyRealizedPnL,
		"weeklyRealized":  e.state.WeeklyRealizedPnL,
		"tradesToday":     e.state.TradesToday,
		"halt":            e.state.Halt,
		"paused":          e.paused.Load(),
		"replaced":        stats.Replaced,
		"replacementRate": stats.ReplacementRate,
	}
	if summary.Best != nil {
		fields["best"] = summary.Best.Symbol
		fields["worst"] = summary.Worst.Symbol
	}
	e.logger.Info(ctx, "Portfolio status", fields)
}

func (e *Engine) updateGauges() {
	metrics.OpenPositions.Set(float64(e.state.OpenCount()))
	metrics.Equity.Set(e.state.Equity())
	metrics.DailyRealizedPnL.Set(e.state.DailyRealizedPnL)
	metrics.HaltState.Set(haltValue(e.state.Halt))
}

func haltValue(h domain.HaltState) float64 {
	switch h {
	case domain.HaltSoft:
		return 1
	case domain.HaltHard:
		return 2
	default:
		return 0
	}
}

// publish refreshes the status view. Callers hold cycleMu.
func (e *Engine) publish(report CycleReport) {
	s := Status{
		Healthy:           e.healthy,
		Halt:              e.state.Halt,
		HaltReason:        e.state.HaltReason,
		Capital:           e.state.Capital,
		Equity:            e.state.Equity(),
		PeakEquity:        e.state.PeakEquity,
		DailyRealizedPnL:  e.state.DailyRealizedPnL,
		WeeklyRealizedPnL: e.state.WeeklyRealizedPnL,
		TradesToday:       e.state.TradesToday,
		Summary:           e.controller.Summary(),
		Rankings:          e.controller.Rankings(),
		Replacement:       e.controller.ReplacementStats(),
		LastCycle:         report,
		UpdatedAt:         e.now(),
	}
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

// Status returns the view published by the last cycle or control action.
// It never blocks on a running cycle.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	s := e.status
	e.statusMu.RUnlock()
	s.Running = e.running.Load()
	s.Paused = e.paused.Load()
	return s
}

// Pause stops new entries. Open positions keep being monitored.
func (e *Engine) Pause(ctx context.Context) {
	if e.paused.CompareAndSwap(false, true) {
		e.logger.Info(ctx, "Entries paused")
	}
}

// Resume re-enables new entries after Pause.
func (e *Engine) Resume(ctx context.Context) {
	if e.paused.CompareAndSwap(true, false) {
		e.logger.Info(ctx, "Entries resumed")
	}
}

// EmergencyStop hard-halts trading and closes every open position.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.gatekeeper.Halt(e.state, "emergency stop")
	e.logger.Warn(ctx, "Emergency stop requested, liquidating", map[string]interface{}{"openPositions": e.state.OpenCount()})
	_, err := e.liquidateAll(ctx, domain.CloseReasonEmergency)
	e.updateGauges()
	e.publish(e.lastReport())
	return err
}

// ResumeAfterHalt clears a soft or hard halt. It reports whether a halt was cleared.
func (e *Engine) ResumeAfterHalt(ctx context.Context) bool {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if !e.gatekeeper.Resume(e.state) {
		return false
	}
	e.logger.Info(ctx, "Trading resumed after halt", map[string]interface{}{"peakEquity": e.state.PeakEquity})
	e.updateGauges()
	e.publish(e.lastReport())
	return true
}

func (e *Engine) lastReport() CycleReport {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status.LastCycle
}

// Restore rebuilds state at startup: realized PnL from the ledger, open
// positions and peak equity from the latest snapshot, and in live mode the
// capital from the exchange wallet.
func (e *Engine) Restore(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	now := e.now()
	if e.cfg.LiveBalance {
		balance, err := e.gateway.GetAccountBalance(ctx, e.cfg.QuoteAsset)
		if err != nil {
			return fmt.Errorf("restore: reading balance: %w", err)
		}
		e.state.Capital = balance
		e.state.PeakEquity = balance
	}

	snap, err := e.snapshots.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("restore: loading snapshot: %w", err)
	}
	restored := 0
	if snap != nil {
		if !e.cfg.LiveBalance && snap.Capital > 0 {
			e.state.Capital = snap.Capital
		}
		positions := make([]*domain.Position, 0, len(snap.Positions))
		for i := range snap.Positions {
			p := snap.Positions[i]
			positions = append(positions, &p)
		}
		for _, p := range e.controller.Restore(positions) {
			e.logger.Warn(ctx, "Snapshot position not restored", map[string]interface{}{"positionID": p.ID, "symbol": p.Symbol})
		}
		restored = e.state.OpenCount()
		if snap.PeakEquity > e.state.PeakEquity {
			e.state.PeakEquity = snap.PeakEquity
		}
		if e.state.Capital > e.state.PeakEquity {
			e.state.PeakEquity = e.state.Capital
		}
		if snap.Halt == domain.HaltHard {
			e.gatekeeper.Halt(e.state, snap.HaltReason)
		}
	}

	dayStart := startOfDay(now)
	daily, err := e.ledger.RealizedSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("restore: daily realized: %w", err)
	}
	weekly, err := e.ledger.RealizedSince(ctx, startOfISOWeek(now))
	if err != nil {
		return fmt.Errorf("restore: weekly realized: %w", err)
	}
	today, err := e.ledger.FindSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("restore: today's trades: %w", err)
	}
	seen := make(map[string]struct{}, len(today))
	for _, r := range today {
		seen[r.PositionID] = struct{}{}
	}

	e.state.DailyRealizedPnL = daily
	e.state.WeeklyRealizedPnL = weekly - daily
	e.state.TradesToday = len(seen)
	e.state.LastReset = now

	e.logger.Info(ctx, "State restored", map[string]interface{}{
		"capital":           e.state.Capital,
		"peakEquity":        e.state.PeakEquity,
		"openPositions":     restored,
		"dailyRealizedPnL":  daily,
		"weeklyRealizedPnL": e.state.WeeklyRealizedPnL,
		"tradesToday":       e.state.TradesToday,
		"halt":              e.state.Halt,
	})
	e.updateGauges()
	e.publish(CycleReport{})
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// startOfISOWeek returns the Monday 00:00 UTC of t's ISO week.
func startOfISOWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
