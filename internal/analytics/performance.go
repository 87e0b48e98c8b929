// Package analytics computes performance statistics over the trade ledger.
package analytics

import (
	"math"
	"sort"
	"time"

	"perpbot/internal/domain"
)

// PerformanceMetrics holds performance statistics over a set of ledger records.
// Partial closes count as separate trades.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	PartialCloses      int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	AveragePnLPct      float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHold          time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	BestTrade            *domain.TradeRecord
	WorstTrade           *domain.TradeRecord
	ByReason             map[domain.CloseReason]ReasonStats
	BySide               map[domain.Side]float64 // Realized PnL per side
	DailyReturns         map[string]float64
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// ReasonStats aggregates closes that share a close reason.
type ReasonStats struct {
	Count int
	PnL   float64
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance replays records in exit order on top of initialBalance.
// The input slice is not modified.
func AnalyzePerformance(records []*domain.TradeRecord, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance: initialBalance,
		ByReason:     make(map[domain.CloseReason]ReasonStats),
		BySide:       make(map[domain.Side]float64),
		DailyReturns: make(map[string]float64),
		Drawdowns:    make([]Drawdown, 0),
		EquityCurve:  make([]EquityPoint, 0),
	}

	if len(records) == 0 {
		return metrics
	}

	trades := make([]*domain.TradeRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			trades = append(trades, r)
		}
	}
	if len(trades) == 0 {
		return metrics
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExitTime.Before(trades[j].ExitTime)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var grossWin, grossLoss, pctSum float64
	var totalHold time.Duration

	for _, trade := range trades {
		metrics.TotalTrades++
		if trade.Partial {
			metrics.PartialCloses++
		}
		if trade.RealizedPnL > 0 {
			metrics.WinningTrades++
			consecutiveWins++
			consecutiveLosses = 0
			grossWin += trade.RealizedPnL
		} else {
			metrics.LosingTrades++
			consecutiveLosses++
			consecutiveWins = 0
			grossLoss += trade.RealizedPnL
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}
		if metrics.BestTrade == nil || trade.RealizedPnL > metrics.BestTrade.RealizedPnL {
			metrics.BestTrade = trade
		}
		if metrics.WorstTrade == nil || trade.RealizedPnL < metrics.WorstTrade.RealizedPnL {
			metrics.WorstTrade = trade
		}

		rs := metrics.ByReason[trade.CloseReason]
		rs.Count++
		rs.PnL += trade.RealizedPnL
		metrics.ByReason[trade.CloseReason] = rs
		metrics.BySide[trade.Side] += trade.RealizedPnL
		metrics.DailyReturns[trade.ExitTime.UTC().Format("2006-01-02")] += trade.RealizedPnL
		pctSum += trade.PnLPct
		totalHold += trade.HoldDuration()

		currentBalance += trade.RealizedPnL
		metrics.TotalProfit += trade.RealizedPnL
		metrics.FinalBalance = currentBalance

		// Update drawdown tracking
		if currentBalance > peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.ExitTime
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else if currentBalance < peakBalance && peakBalance > 0 {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.ExitTime,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			if drawdown > metrics.MaxDrawdown {
				metrics.MaxDrawdown = drawdown
			}
		}

		dd := 0.0
		if peakBalance > 0 {
			dd = (peakBalance - currentBalance) / peakBalance
		}
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.ExitTime,
			Value:    currentBalance,
			Drawdown: dd,
		})
	}

	// Close any open drawdown
	if currentDrawdown != nil {
		currentDrawdown.EndTime = trades[len(trades)-1].ExitTime
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	n := float64(metrics.TotalTrades)
	metrics.WinRate = float64(metrics.WinningTrades) / n
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = grossWin / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = grossLoss / float64(metrics.LosingTrades)
	}
	if grossLoss != 0 {
		metrics.ProfitFactor = grossWin / -grossLoss
	}
	metrics.AveragePnLPct = pctSum / n
	metrics.AverageHold = totalHold / time.Duration(metrics.TotalTrades)
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)

	return metrics
}

// DailyReturn is one UTC day of realized PnL.
type DailyReturn struct {
	Day    time.Time
	Return float64
}

// GetDailyReturns returns the daily returns sorted by day.
func (m *PerformanceMetrics) GetDailyReturns() []DailyReturn {
	returns := make([]DailyReturn, 0, len(m.DailyReturns))
	for day, profit := range m.DailyReturns {
		date, _ := time.Parse("2006-01-02", day)
		returns = append(returns, DailyReturn{
			Day:    date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Day.Before(returns[j].Day)
	})
	return returns
}
