package indicators

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"perpbot/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average of closes based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	switch m.config.Type {
	case SimpleMovingAverage:
		return SMA(closes(klines), m.Config.Period)
	case ExponentialMovingAverage:
		return EMA(closes(klines), m.Config.Period)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// Value returns the average, or the latest close when history is too short.
func (m *MovingAverage) Value(klines []*domain.Kline) float64 {
	v, err := m.Calculate(context.Background(), klines)
	if err != nil {
		if len(klines) == 0 {
			return 0
		}
		return klines[len(klines)-1].Close
	}
	return v
}

// SMA averages the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(values), period)
	}
	total := 0.0
	for _, v := range values[len(values)-period:] {
		total += v
	}
	return total / float64(period), nil
}

// EMA returns the last value of the exponential moving average seeded with an SMA.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(values), period)
	}
	if period == 1 {
		return values[len(values)-1], nil
	}
	series := talib.Ema(values, period)
	return series[len(series)-1], nil
}
