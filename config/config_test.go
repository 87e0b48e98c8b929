package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/adapters/logger"
	"perpbot/internal/signal"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PAPER_TRADING", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Exchange.PaperTrading)
	assert.Equal(t, 50000.0, cfg.Trading.StartingCapital)
	assert.Equal(t, 3, cfg.Trading.MaxPositions)
	assert.Equal(t, 5, cfg.Trading.MaxLeverage)
	assert.Equal(t, 3, cfg.Trading.ShortMaxLeverage)
	assert.Equal(t, signal.DefaultSizing(), cfg.Trading.Sizing)
	assert.Equal(t, 2500.0, cfg.Limits.DailyLossLimit)
	assert.Equal(t, 7500.0, cfg.Limits.WeeklyLossLimit)
	assert.Equal(t, 10, cfg.Limits.MaxTradesPerDay)
	assert.Equal(t, [][]string{{"BTC", "ETH"}}, cfg.Limits.CorrelatedGroups)
	assert.Equal(t, 0.20, cfg.Signals.TakeProfit1Pct)
	assert.Equal(t, 0.70, cfg.Signals.TakeProfit2Pct)
	assert.Equal(t, 0.08, cfg.Signals.StopLossPct)
	assert.Equal(t, signal.DefaultMacroThresholds(), cfg.Macro)
	assert.Equal(t, 0.0004, cfg.Exchange.PaperFeeRate)
	assert.False(t, cfg.Stops.UseATR)
	assert.Equal(t, 24*time.Hour, cfg.Exits.MaxHold)
	assert.Equal(t, 30*time.Second, cfg.Schedule.CycleInterval)
	assert.Equal(t, 10*time.Second, cfg.Exchange.RequestTimeout)
	assert.Equal(t, 1000, cfg.Exchange.RateLimit)
	assert.Equal(t, logger.LevelInfo, cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.Logging.MaxSizeMB)

	rc := cfg.RiskConfig()
	assert.Equal(t, cfg.Trading.MaxPositions, rc.MaxPositions)
	assert.Equal(t, "USDT", rc.QuoteAsset)
	pc := cfg.PortfolioConfig()
	assert.Equal(t, cfg.Trading.MaxPositions, pc.MaxPositions)
}

func TestLoadConfig_LiveRequiresKeys(t *testing.T) {
	t.Setenv("PAPER_TRADING", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfig_TakeProfitProfiles(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantTP1 float64
		wantTP2 float64
		wantErr string
	}{
		{name: "scalp", env: map[string]string{"TP_PROFILE": "scalp"}, wantTP1: 0.01, wantTP2: 0.02},
		{name: "swing", env: map[string]string{"TP_PROFILE": "SWING"}, wantTP1: 0.20, wantTP2: 0.70},
		{name: "explicit override", env: map[string]string{"TP_PROFILE": "scalp", "TAKE_PROFIT_2": "0.05"}, wantTP1: 0.01, wantTP2: 0.05},
		{name: "unknown profile", env: map[string]string{"TP_PROFILE": "moon"}, wantErr: "unknown TP_PROFILE"},
		{name: "inverted targets", env: map[string]string{"TAKE_PROFIT_1": "0.5", "TAKE_PROFIT_2": "0.1"}, wantErr: "TAKE_PROFIT_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAPER_TRADING", "true")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTP1, cfg.Signals.TakeProfit1Pct)
			assert.Equal(t, tt.wantTP2, cfg.Signals.TakeProfit2Pct)
		})
	}
}

func TestLoadConfig_TuningFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	content := `
weights:
  momentum_ideal: 30
  macro_bearish_penalty: 25
replacement:
  confidence_margin: 15
  stagnant_hold: 6h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PAPER_TRADING", "true")
	t.Setenv("TUNING_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Signals.Weights.MomentumIdeal)
	assert.Equal(t, 25.0, cfg.Signals.Weights.MacroBearishPenalty)
	assert.Equal(t, signal.DefaultWeights().RSIContinuation, cfg.Signals.Weights.RSIContinuation)
	assert.Equal(t, 15.0, cfg.Replacement.ConfidenceMargin)
	assert.Equal(t, 6*time.Hour, cfg.Replacement.StagnantHold)
	assert.Equal(t, 1.5, cfg.Replacement.PotentialMultiple)
}

func TestLoadConfig_TuningFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("weights:\n  momentum_ideal: -5\n"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.yaml")},
		{name: "negative weight", path: bad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAPER_TRADING", "true")
			t.Setenv("TUNING_FILE", tt.path)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_CollectsAllErrors(t *testing.T) {
	t.Setenv("PAPER_TRADING", "true")
	t.Setenv("MAX_POSITIONS", "abc")
	t.Setenv("STOP_LOSS", "1.5")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("EMA_SHORT_PERIOD", "60")

	_, err := LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid MAX_POSITIONS")
	assert.Contains(t, msg, "STOP_LOSS must be between")
	assert.Contains(t, msg, "LOG_FORMAT")
	assert.Contains(t, msg, "EMA_SHORT_PERIOD")
}

func TestParseGroups(t *testing.T) {
	assert.Equal(t, [][]string{{"BTC", "ETH"}, {"SOL", "AVAX"}}, parseGroups("btc, eth; SOL,AVAX"))
	assert.Nil(t, parseGroups(""))
	assert.Equal(t, [][]string{{"DOGE"}}, parseGroups(" ; doge ,"))
}

func TestGetEnvAsDurationRequired(t *testing.T) {
	t.Setenv("TEST_DURATION", "90")
	d, err := getEnvAsDurationRequired("TEST_DURATION", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	t.Setenv("TEST_DURATION", "2h30m")
	d, err = getEnvAsDurationRequired("TEST_DURATION", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Minute, d)

	t.Setenv("TEST_DURATION", "soon")
	_, err = getEnvAsDurationRequired("TEST_DURATION", time.Second)
	assert.Error(t, err)
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
}
