package portfolio

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	errors int
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errors++
}

// mockRecorder collects trade records in memory
type mockRecorder struct {
	records []*domain.TradeRecord
	err     error
}

func (m *mockRecorder) Append(ctx context.Context, rec *domain.TradeRecord) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	cp := *rec
	m.records = append(m.records, &cp)
	return int64(len(m.records)), nil
}

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MaxPositions: 3,
		Replacement:  DefaultReplacementPolicy(),
		Exits:        DefaultExitPolicy(),
	}
}

func newTestController(t *testing.T) (*Controller, *domain.PortfolioState, *mockRecorder) {
	t.Helper()
	state := domain.NewPortfolioState(10000, t0)
	rec := &mockRecorder{}
	c, err := NewController(testConfig(), state, rec, &mockLogger{})
	require.NoError(t, err)
	return c, state, rec
}

func longPosition(symbol string, confidence float64) *domain.Position {
	sig := domain.TradingSignal{
		Symbol:      symbol,
		Side:        domain.SideLong,
		Confidence:  confidence,
		EntryPrice:  100,
		StopLoss:    92,
		TakeProfit1: 120,
		TakeProfit2: 170,
	}
	return domain.NewPosition(sig, 100, 10, 1000, 3, t0)
}

func shortPosition(symbol string, confidence float64) *domain.Position {
	sig := domain.TradingSignal{
		Symbol:      symbol,
		Side:        domain.SideShort,
		Confidence:  confidence,
		EntryPrice:  100,
		StopLoss:    108,
		TakeProfit1: 80,
		TakeProfit2: 30,
	}
	return domain.NewPosition(sig, 100, 10, 1000, 2, t0)
}

func TestNewController_Validation(t *testing.T) {
	state := domain.NewPortfolioState(1000, t0)
	_, err := NewController(testConfig(), nil, &mockRecorder{}, &mockLogger{})
	assert.Error(t, err)
	_, err = NewController(testConfig(), state, nil, &mockLogger{})
	assert.Error(t, err)
	_, err = NewController(testConfig(), state, &mockRecorder{}, nil)
	assert.Error(t, err)
	cfg := testConfig()
	cfg.MaxPositions = 0
	_, err = NewController(cfg, state, &mockRecorder{}, &mockLogger{})
	assert.Error(t, err)
}

func TestController_StopLossExit(t *testing.T) {
	c, state, rec := newTestController(t)
	p := longPosition("SOLUSDT", 60)
	require.NoError(t, c.Open(p))

	_, err := c.Update("SOLUSDT", 91, t0.Add(time.Hour))
	require.NoError(t, err)

	action, err := c.CheckExit(p.ID)
	require.NoError(t, err)
	assert.Equal(t, ExitFull, action.Kind)
	assert.Equal(t, domain.CloseReasonStopLoss, action.Reason)
	assert.Equal(t, 92.0, action.Price)

	tr, err := c.Close(context.Background(), p.ID, action.Price, action.Reason, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, -80.0, tr.RealizedPnL, 1e-9)
	assert.InDelta(t, -8.0, tr.PnLPct, 1e-9)
	assert.Equal(t, int64(1), tr.ID)
	assert.False(t, tr.Partial)
	assert.Empty(t, state.Positions)
	require.Len(t, rec.records, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, rec.records[0].CloseReason)
}

func TestController_PartialAtFirstTarget(t *testing.T) {
	c, state, rec := newTestController(t)
	p := longPosition("SOLUSDT", 70)
	p.TakeProfit1 = 116
	require.NoError(t, c.Open(p))

	_, err := c.Update("SOLUSDT", 116, t0.Add(2*time.Hour))
	require.NoError(t, err)

	action, err := c.CheckExit(p.ID)
	require.NoError(t, err)
	require.Equal(t, ExitPartial, action.Kind)
	assert.Equal(t, domain.CloseReasonTakeProfit1, action.Reason)
	assert.Equal(t, 0.5, action.Fraction)

	tr, err := c.ClosePartial(context.Background(), p.ID, action.Fraction, action.Price, action.Reason, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, tr.Partial)
	assert.InDelta(t, 80.0, tr.RealizedPnL, 1e-9)
	assert.InDelta(t, 5.0, tr.Quantity, 1e-9)

	require.Len(t, state.Positions, 1)
	held := state.Positions[0]
	assert.Equal(t, p.ID, held.ID)
	assert.InDelta(t, 5.0, held.Quantity, 1e-9)
	assert.InDelta(t, 500.0, held.Size, 1e-9)
	assert.Equal(t, 92.0, held.StopLoss)
	assert.Equal(t, 100.0, held.EntryPrice)
	assert.Equal(t, domain.StatusPartial, held.Status)
	assert.True(t, held.PartialTaken)
	assert.Len(t, rec.records, 1)

	// The partial is taken once.
	action, err = c.CheckExit(p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, ExitPartial, action.Kind)
}

func TestController_ClosePartialRejectsBadFraction(t *testing.T) {
	c, _, _ := newTestController(t)
	p := longPosition("SOLUSDT", 70)
	require.NoError(t, c.Open(p))

	for _, f := range []float64{0, 1, -0.1, 1.5} {
		_, err := c.ClosePartial(context.Background(), p.ID, f, 110, domain.CloseReasonTakeProfit1, t0)
		assert.ErrorIs(t, err, ports.ErrInvalidRequest, "fraction %f", f)
	}
}

func TestController_ExitPriority(t *testing.T) {
	tests := []struct {
		name       string
		side       domain.Side
		price      float64
		hold       time.Duration
		partial    bool
		wantKind   ExitKind
		wantReason domain.CloseReason
		wantPrice  float64
	}{
		{name: "hold", side: domain.SideLong, price: 103, hold: time.Hour, wantKind: ExitNone},
		{name: "long stop", side: domain.SideLong, price: 92, wantKind: ExitFull, wantReason: domain.CloseReasonStopLoss, wantPrice: 92},
		{name: "long target 2", side: domain.SideLong, price: 175, wantKind: ExitFull, wantReason: domain.CloseReasonTakeProfit2, wantPrice: 170},
		{name: "long target 1 after partial ratchets", side: domain.SideLong, price: 125, partial: true, wantKind: ExitRatchet, wantPrice: 102},
		{name: "time limit", side: domain.SideLong, price: 102, hold: 25 * time.Hour, wantKind: ExitFull, wantReason: domain.CloseReasonTimeLimit, wantPrice: 102},
		{name: "old but profitable", side: domain.SideLong, price: 106, hold: 25 * time.Hour, wantKind: ExitNone},
		{name: "long ratchet", side: domain.SideLong, price: 111, hold: time.Hour, wantKind: ExitRatchet, wantPrice: 102},
		{name: "short stop", side: domain.SideShort, price: 109, wantKind: ExitFull, wantReason: domain.CloseReasonStopLoss, wantPrice: 108},
		{name: "short target 2", side: domain.SideShort, price: 29, wantKind: ExitFull, wantReason: domain.CloseReasonTakeProfit2, wantPrice: 30},
		{name: "short partial", side: domain.SideShort, price: 80, wantKind: ExitPartial, wantReason: domain.CloseReasonTakeProfit1, wantPrice: 80},
		{name: "short ratchet", side: domain.SideShort, price: 89, wantKind: ExitRatchet, wantPrice: 98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestController(t)
			var p *domain.Position
			if tt.side == domain.SideLong {
				p = longPosition("SOLUSDT", 60)
			} else {
				p = shortPosition("SOLUSDT", 60)
			}
			p.PartialTaken = tt.partial
			require.NoError(t, c.Open(p))
			_, err := c.Update("SOLUSDT", tt.price, t0.Add(tt.hold))
			require.NoError(t, err)

			action, err := c.CheckExit(p.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, action.Kind)
			if tt.wantKind != ExitNone {
				assert.Equal(t, tt.wantReason, action.Reason)
				assert.InDelta(t, tt.wantPrice, action.Price, 1e-9)
			}
		})
	}
}

func TestController_RatchetStopIsMonotonic(t *testing.T) {
	c, _, _ := newTestController(t)
	long := longPosition("SOLUSDT", 60)
	short := shortPosition("ADAUSDT", 60)
	require.NoError(t, c.Open(long))
	require.NoError(t, c.Open(short))

	moved, err := c.RatchetStop(long.ID, 102)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = c.RatchetStop(long.ID, 95)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 102.0, c.Get(long.ID).StopLoss)

	moved, err = c.RatchetStop(short.ID, 98)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = c.RatchetStop(short.ID, 105)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 98.0, c.Get(short.ID).StopLoss)

	_, err = c.RatchetStop("missing", 1)
	assert.ErrorIs(t, err, ports.ErrUnknownPosition)
}

func TestController_ReplacementPicksWeakest(t *testing.T) {
	c, _, _ := newTestController(t)
	a := longPosition("AAAUSDT", 80)
	b := longPosition("BBBUSDT", 70)
	weak := longPosition("CCCUSDT", 55)
	for _, p := range []*domain.Position{a, b, weak} {
		require.NoError(t, c.Open(p))
	}
	assert.False(t, c.CanAcceptNew())

	r := c.ReplacementDecision(90, 20)
	require.NotNil(t, r.Victim)
	assert.True(t, r.Replace)
	assert.Equal(t, weak.ID, r.Victim.ID)
	assert.NotEmpty(t, r.Reasons)
}

func TestController_ReplacementTriggers(t *testing.T) {
	tests := []struct {
		name          string
		victimPrice   float64
		hold          time.Duration
		newConfidence float64
		newPotential  float64
		wantReplace   bool
	}{
		{name: "no trigger", victimPrice: 101, hold: time.Hour, newConfidence: 62, newPotential: 10, wantReplace: false},
		{name: "confidence margin", victimPrice: 101, hold: time.Hour, newConfidence: 70, newPotential: 10, wantReplace: true},
		{name: "potential multiple", victimPrice: 101, hold: time.Hour, newConfidence: 60, newPotential: 200, wantReplace: true},
		{name: "losing victim", victimPrice: 97, hold: time.Hour, newConfidence: 70, newPotential: 10, wantReplace: true},
		{name: "stagnant victim", victimPrice: 101, hold: 5 * time.Hour, newConfidence: 65, newPotential: 10, wantReplace: true},
		{name: "near stop", victimPrice: 94, hold: time.Hour, newConfidence: 55, newPotential: 10, wantReplace: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := domain.NewPortfolioState(10000, t0)
			cfg := testConfig()
			cfg.MaxPositions = 1
			c, err := NewController(cfg, state, &mockRecorder{}, &mockLogger{})
			require.NoError(t, err)

			victim := longPosition("SOLUSDT", 60)
			require.NoError(t, c.Open(victim))
			_, err = c.Update("SOLUSDT", tt.victimPrice, t0.Add(tt.hold))
			require.NoError(t, err)

			r := c.ReplacementDecision(tt.newConfidence, tt.newPotential)
			assert.Equal(t, tt.wantReplace, r.Replace, "reasons: %v", r.Reasons)
			assert.Equal(t, victim.ID, r.Victim.ID)
		})
	}
}

func TestController_NoReplacementBelowCapacity(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.Open(longPosition("SOLUSDT", 50)))
	r := c.ReplacementDecision(99, 100)
	assert.False(t, r.Replace)
	assert.Nil(t, r.Victim)
}

func TestController_CapacityAndUniqueness(t *testing.T) {
	c, state, _ := newTestController(t)
	require.NoError(t, c.Open(longPosition("SOLUSDT", 60)))

	err := c.Open(longPosition("SOLUSDT", 90))
	assert.ErrorIs(t, err, ports.ErrPositionExists)

	require.NoError(t, c.Open(longPosition("ADAUSDT", 60)))
	require.NoError(t, c.Open(longPosition("XRPUSDT", 60)))
	err = c.Open(longPosition("DOGEUSDT", 60))
	assert.ErrorIs(t, err, ports.ErrCapacityReached)

	// Replace sequences never exceed capacity or duplicate a symbol.
	for i := 0; i < 20; i++ {
		r := c.ReplacementDecision(95, 50)
		require.True(t, r.Replace)
		_, err := c.Close(context.Background(), r.Victim.ID, 100, domain.CloseReasonReplaced, t0)
		require.NoError(t, err)
		require.NoError(t, c.Open(longPosition(fmt.Sprintf("NEW%dUSDT", i), 50)))

		assert.LessOrEqual(t, len(state.Positions), 3)
		seen := map[string]bool{}
		for _, p := range state.Positions {
			assert.False(t, seen[p.Symbol], "duplicate %s", p.Symbol)
			seen[p.Symbol] = true
		}
	}

	stats := c.ReplacementStats()
	assert.Equal(t, 23, stats.TotalOpened)
	assert.Equal(t, 20, stats.Replaced)
	assert.InDelta(t, 20.0/23.0*100, stats.ReplacementRate, 1e-9)
	assert.InDelta(t, 0.0, stats.AvgProfitOfReplaced, 1e-9)
}

func TestController_OpenRejectsInvalid(t *testing.T) {
	c, _, _ := newTestController(t)
	p := longPosition("SOLUSDT", 60)
	p.Quantity = 0
	assert.ErrorIs(t, c.Open(p), ports.ErrInvalidRequest)
	assert.ErrorIs(t, c.Open(nil), ports.ErrInvalidRequest)
}

func TestController_RecorderFailureDoesNotBlockClose(t *testing.T) {
	state := domain.NewPortfolioState(10000, t0)
	logger := &mockLogger{}
	c, err := NewController(testConfig(), state, &mockRecorder{err: errors.New("disk full")}, logger)
	require.NoError(t, err)
	p := longPosition("SOLUSDT", 60)
	require.NoError(t, c.Open(p))

	tr, err := c.Close(context.Background(), p.ID, 110, domain.CloseReasonManual, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, tr.ID)
	assert.Empty(t, state.Positions)
	assert.Equal(t, 1, logger.errors)
}

func TestController_UnknownPosition(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Close(context.Background(), "nope", 100, domain.CloseReasonManual, t0)
	assert.ErrorIs(t, err, ports.ErrUnknownPosition)
	_, err = c.CheckExit("nope")
	assert.ErrorIs(t, err, ports.ErrUnknownPosition)
	_, err = c.Update("NOPEUSDT", 100, t0)
	assert.ErrorIs(t, err, ports.ErrUnknownPosition)
	_, err = c.Update("NOPEUSDT", -1, t0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestController_SummaryAndRankings(t *testing.T) {
	c, _, _ := newTestController(t)
	assert.Equal(t, Summary{}, c.Summary())

	winner := longPosition("SOLUSDT", 80)
	loser := longPosition("ADAUSDT", 50)
	require.NoError(t, c.Open(winner))
	require.NoError(t, c.Open(loser))
	_, err := c.Update("SOLUSDT", 110, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = c.Update("ADAUSDT", 95, t0.Add(time.Hour))
	require.NoError(t, err)

	s := c.Summary()
	assert.Equal(t, 2, s.OpenPositions)
	assert.InDelta(t, 50.0, s.TotalUnrealizedPnL, 1e-9)
	assert.InDelta(t, 2.5, s.TotalUnrealizedPct, 1e-9)
	assert.InDelta(t, 65.0, s.AvgConfidence, 1e-9)
	require.NotNil(t, s.Best)
	require.NotNil(t, s.Worst)
	assert.Equal(t, "SOLUSDT", s.Best.Symbol)
	assert.Equal(t, "ADAUSDT", s.Worst.Symbol)

	r := c.Rankings()
	require.Len(t, r, 2)
	assert.Equal(t, "SOLUSDT", r[0].Symbol)
	assert.Equal(t, 1, r[0].Rank)
	assert.Equal(t, 2, r[1].Rank)
	assert.Greater(t, r[0].Score, r[1].Score)
}

func TestController_PositionsAreCopies(t *testing.T) {
	c, state, _ := newTestController(t)
	require.NoError(t, c.Open(longPosition("SOLUSDT", 60)))
	got := c.Positions()
	got[0].StopLoss = 1
	assert.Equal(t, 92.0, state.Positions[0].StopLoss)
}

func TestController_Restore(t *testing.T) {
	c, state, _ := newTestController(t)
	a := longPosition("SOLUSDT", 60)
	dup := longPosition("SOLUSDT", 70)
	b := longPosition("ADAUSDT", 60)
	b.Status = domain.StatusPartial

	skipped := c.Restore([]*domain.Position{a, dup, nil, b})
	assert.Len(t, skipped, 1)
	assert.Equal(t, dup.ID, skipped[0].ID)
	require.Len(t, state.Positions, 2)
	assert.Equal(t, domain.StatusOpen, state.Positions[0].Status)
	assert.Equal(t, domain.StatusPartial, state.Positions[1].Status)
	assert.Zero(t, c.ReplacementStats().TotalOpened)
}

// Replaying the same price sequence yields identical decisions.
func TestController_DeterministicReplay(t *testing.T) {
	prices := []float64{101, 104, 108, 111, 113, 116, 112, 109, 120, 125, 171}
	run := func() []ExitAction {
		state := domain.NewPortfolioState(10000, t0)
		c, err := NewController(testConfig(), state, &mockRecorder{}, &mockLogger{})
		require.NoError(t, err)
		p := longPosition("SOLUSDT", 60)
		p.ID = "fixed"
		p.TakeProfit1 = 116
		require.NoError(t, c.Open(p))

		var actions []ExitAction
		for i, px := range prices {
			now := t0.Add(time.Duration(i) * time.Minute)
			if _, err := c.Update("SOLUSDT", px, now); err != nil {
				break
			}
			a, err := c.CheckExit("fixed")
			require.NoError(t, err)
			actions = append(actions, a)
			switch a.Kind {
			case ExitFull:
				_, err = c.Close(context.Background(), "fixed", a.Price, a.Reason, now)
				require.NoError(t, err)
			case ExitPartial:
				_, err = c.ClosePartial(context.Background(), "fixed", a.Fraction, a.Price, a.Reason, now)
				require.NoError(t, err)
			case ExitRatchet:
				_, err = c.RatchetStop("fixed", a.Price)
				require.NoError(t, err)
			}
			if a.Kind == ExitFull {
				break
			}
		}
		return actions
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
	assert.Equal(t, domain.CloseReasonTakeProfit2, first[len(first)-1].Reason)
}
