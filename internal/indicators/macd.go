package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

// MACDConfig holds the three MACD windows.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// MACDResult is the latest MACD reading.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// Bullish reports line above signal with a positive histogram.
func (r MACDResult) Bullish() bool {
	return r.Line > r.Signal && r.Histogram > 0
}

// AboveZero reports both lines above the zero line.
func (r MACDResult) AboveZero() bool {
	return r.Line > 0 && r.Signal > 0
}

// RequiredDataPoints returns the shortest series that yields a defined signal line.
func (c MACDConfig) RequiredDataPoints() int {
	return c.Slow + c.Signal - 1
}

// MACD computes the latest MACD line, signal and histogram from closes.
func MACD(values []float64, cfg MACDConfig) (MACDResult, error) {
	if cfg.Fast <= 0 || cfg.Slow <= cfg.Fast || cfg.Signal <= 0 {
		return MACDResult{}, fmt.Errorf("invalid MACD windows %d/%d/%d", cfg.Fast, cfg.Slow, cfg.Signal)
	}
	if len(values) < cfg.RequiredDataPoints() {
		return MACDResult{}, fmt.Errorf("not enough data (%d) to calculate MACD, need %d", len(values), cfg.RequiredDataPoints())
	}
	line, signal, hist := talib.Macd(values, cfg.Fast, cfg.Slow, cfg.Signal)
	last := len(values) - 1
	return MACDResult{Line: line[last], Signal: signal[last], Histogram: hist[last]}, nil
}
