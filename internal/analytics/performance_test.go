package analytics

import (
	"testing"
	"time"

	"perpbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(pnl, pct float64, reason domain.CloseReason, side domain.Side, entry, exit time.Time) *domain.TradeRecord {
	return &domain.TradeRecord{
		Symbol:      "BTCUSDT",
		Side:        side,
		RealizedPnL: pnl,
		PnLPct:      pct,
		CloseReason: reason,
		EntryTime:   entry,
		ExitTime:    exit,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	initialBalance := 10000.0
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []*domain.TradeRecord{
		rec(-1000, -8, domain.CloseReasonStopLoss, domain.SideLong, base.Add(12*time.Hour), base.Add(18*time.Hour)),
		rec(1000, 16, domain.CloseReasonTakeProfit1, domain.SideLong, base, base.Add(6*time.Hour)),
	}
	records[1].Partial = true

	metrics := AnalyzePerformance(records, initialBalance)

	assert.Equal(t, 2, metrics.TotalTrades)
	assert.Equal(t, 1, metrics.PartialCloses)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.Equal(t, 1, metrics.LosingTrades)
	assert.Equal(t, 0.5, metrics.WinRate)
	assert.Equal(t, 0.0, metrics.TotalProfit)
	assert.Equal(t, initialBalance, metrics.FinalBalance)
	assert.Equal(t, 1, metrics.MaxConsecutiveWins)
	assert.Equal(t, 1, metrics.MaxConsecutiveLosses)
	assert.Equal(t, 1000.0, metrics.AverageWin)
	assert.Equal(t, -1000.0, metrics.AverageLoss)
	assert.Equal(t, 1.0, metrics.ProfitFactor)
	assert.Equal(t, 4.0, metrics.AveragePnLPct)
	assert.Equal(t, 6*time.Hour, metrics.AverageHold)
	assert.Equal(t, 0.0, metrics.Expectancy)

	// Replayed in exit order: +1000 then -1000
	require.Len(t, metrics.EquityCurve, 2)
	assert.Equal(t, 11000.0, metrics.EquityCurve[0].Value)
	assert.InDelta(t, 1000.0/11000.0, metrics.MaxDrawdown, 1e-12)
	require.Len(t, metrics.Drawdowns, 1)

	assert.Equal(t, 1000.0, metrics.BestTrade.RealizedPnL)
	assert.Equal(t, -1000.0, metrics.WorstTrade.RealizedPnL)
	assert.Equal(t, ReasonStats{Count: 1, PnL: -1000}, metrics.ByReason[domain.CloseReasonStopLoss])
	assert.Equal(t, 0.0, metrics.BySide[domain.SideLong])

	// Input order is untouched
	assert.Equal(t, domain.CloseReasonStopLoss, records[0].CloseReason)
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	metrics := AnalyzePerformance(nil, 5000)
	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Equal(t, 5000.0, metrics.FinalBalance)
	assert.Nil(t, metrics.BestTrade)
	assert.Empty(t, metrics.EquityCurve)

	metrics = AnalyzePerformance([]*domain.TradeRecord{nil}, 5000)
	assert.Equal(t, 0, metrics.TotalTrades)
}

func TestAnalyzePerformance_Streaks(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	pnls := []float64{100, 200, -50, -50, -50, 300}
	records := make([]*domain.TradeRecord, 0, len(pnls))
	for i, p := range pnls {
		exit := base.Add(time.Duration(i+1) * time.Hour)
		records = append(records, rec(p, p/10, domain.CloseReasonTimeLimit, domain.SideShort, base, exit))
	}

	metrics := AnalyzePerformance(records, 1000)
	assert.Equal(t, 2, metrics.MaxConsecutiveWins)
	assert.Equal(t, 3, metrics.MaxConsecutiveLosses)
	assert.InDelta(t, 450.0, metrics.TotalProfit, 1e-9)
	assert.InDelta(t, 600.0/150.0, metrics.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.45, metrics.ReturnOnInvestment, 1e-9)
	assert.InDelta(t, 450.0, metrics.BySide[domain.SideShort], 1e-9)
}

func TestGetDailyReturns(t *testing.T) {
	d1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	records := []*domain.TradeRecord{
		rec(50, 5, domain.CloseReasonManual, domain.SideLong, d2.Add(-time.Hour), d2),
		rec(20, 2, domain.CloseReasonManual, domain.SideLong, d1.Add(-time.Hour), d1),
		rec(-5, -1, domain.CloseReasonManual, domain.SideLong, d1.Add(-time.Hour), d1.Add(time.Hour)),
	}

	returns := AnalyzePerformance(records, 1000).GetDailyReturns()
	require.Len(t, returns, 2)
	assert.Equal(t, 2, returns[0].Day.Day())
	assert.Equal(t, 15.0, returns[0].Return)
	assert.Equal(t, 50.0, returns[1].Return)
}
