package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"perpbot/internal/adapters/logger" // Import the logger package for LogLevel
	"perpbot/internal/indicators"
	"perpbot/internal/portfolio"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

// Take-profit profiles selectable with TP_PROFILE.
const (
	ProfileScalp = "scalp"
	ProfileSwing = "swing"
)

// Config holds all application configuration.
type Config struct {
	Exchange    ExchangeConfig
	Trading     TradingConfig
	Limits      LimitsConfig
	Indicators  indicators.Config
	Candles     CandleConfig
	Signals     signal.Config
	Macro       signal.MacroThresholds
	Stops       risk.StopConfig
	Exits       portfolio.ExitPolicy
	Replacement portfolio.ReplacementPolicy
	Scanner     ScannerConfig
	Schedule    ScheduleConfig
	Storage     StorageConfig
	Logging     LogConfig
	Metrics     MetricsConfig
}

// ExchangeConfig covers the gateway connection.
type ExchangeConfig struct {
	APIKey    string
	SecretKey string
	IsTestnet bool

	PaperTrading     bool    // Simulate fills against live prices
	UseLimitEntries  bool    // IOC limit entries instead of market
	LimitSlippagePct float64 // Limit price offset from last price, fraction
	PaperFeeRate     float64 // Taker fee charged by the paper gateway

	RequestTimeout time.Duration
	RateLimit      int // Requests allowed per RateWindow
	RateWindow     time.Duration
	MaxRetries     int
}

// TradingConfig holds capital and position bounds.
type TradingConfig struct {
	StartingCapital  float64
	QuoteAsset       string
	ReferenceSymbol  string // Macro trend reference, e.g. BTCUSDT
	MaxPositions     int
	MaxLeverage      int
	ShortMaxLeverage int
	Sizing           signal.Sizing
	MinNotional      float64
	MaxNotional      float64
}

// LimitsConfig holds the loss limits and circuit breakers.
type LimitsConfig struct {
	DailyLossLimit   float64
	WeeklyLossLimit  float64
	MaxTradesPerDay  int
	MaxRiskFraction  float64
	MaxCorrelated    int
	CorrelatedGroups [][]string
	CrashDrawdown    float64
}

// CandleConfig selects the history used for indicators.
type CandleConfig struct {
	Interval    string
	Limit       int
	Concurrency int // Parallel candle fetches per cycle
}

// ScannerConfig holds the coarse candidate filters.
type ScannerConfig struct {
	MaxSymbols     int
	MinQuoteVolume float64
	MaxCandidates  int
}

// ScheduleConfig holds the orchestrator timings.
type ScheduleConfig struct {
	CycleInterval    time.Duration
	CycleTimeout     time.Duration
	HealthInterval   time.Duration
	SnapshotInterval time.Duration
	StatusInterval   time.Duration
}

// StorageConfig holds the database settings.
type StorageConfig struct {
	DBPath string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      logger.LogLevel // Use the LogLevel type from the logger adapter
	Format     string          // text or json
	File       string          // Rotated log file, empty for stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// tuning is the YAML override file for scoring weights and replacement thresholds.
type tuning struct {
	Weights     signal.Weights              `yaml:"weights"`
	Replacement portfolio.ReplacementPolicy `yaml:"replacement"`
}

// RiskConfig assembles the gatekeeper configuration.
func (c *Config) RiskConfig() risk.RiskConfig {
	return risk.RiskConfig{
		MaxPositions:     c.Trading.MaxPositions,
		MaxTradesPerDay:  c.Limits.MaxTradesPerDay,
		DailyLossLimit:   c.Limits.DailyLossLimit,
		WeeklyLossLimit:  c.Limits.WeeklyLossLimit,
		Sizing:           c.Trading.Sizing,
		MinNotional:      c.Trading.MinNotional,
		MaxNotional:      c.Trading.MaxNotional,
		MaxRiskFraction:  c.Limits.MaxRiskFraction,
		MaxCorrelated:    c.Limits.MaxCorrelated,
		CorrelatedGroups: c.Limits.CorrelatedGroups,
		QuoteAsset:       c.Trading.QuoteAsset,
		MaxLeverage:      c.Trading.MaxLeverage,
		CrashDrawdown:    c.Limits.CrashDrawdown,
	}
}

// PortfolioConfig assembles the portfolio controller configuration.
func (c *Config) PortfolioConfig() portfolio.Config {
	return portfolio.Config{
		MaxPositions: c.Trading.MaxPositions,
		Replacement:  c.Replacement,
		Exits:        c.Exits,
	}
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Exchange
	cfg.Exchange.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.Exchange.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.Exchange.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.Exchange.PaperTrading = getEnvAsBool("PAPER_TRADING", true)
	cfg.Exchange.UseLimitEntries = getEnvAsBool("USE_LIMIT_ENTRIES", false)
	cfg.Exchange.LimitSlippagePct = getEnvAsFloat("LIMIT_SLIPPAGE", 0.001)
	cfg.Exchange.PaperFeeRate = getEnvAsFloat("PAPER_FEE_RATE", 0.0004)
	if cfg.Exchange.LimitSlippagePct < 0 || cfg.Exchange.PaperFeeRate < 0 {
		errs = append(errs, "LIMIT_SLIPPAGE and PAPER_FEE_RATE cannot be negative")
	}

	// Live trading needs signed endpoints; paper trading only reads public market data.
	if !cfg.Exchange.PaperTrading {
		if cfg.Exchange.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when PAPER_TRADING=false")
		}
		if cfg.Exchange.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when PAPER_TRADING=false")
		}
	}

	cfg.Exchange.RequestTimeout, err = getEnvAsDurationRequired("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT: %v", err))
	} else if cfg.Exchange.RequestTimeout <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT must be positive")
	}
	cfg.Exchange.RateLimit = getEnvAsInt("RATE_LIMIT_REQUESTS", 1000)
	cfg.Exchange.RateWindow = getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute)
	if cfg.Exchange.RateLimit <= 0 || cfg.Exchange.RateWindow <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	cfg.Exchange.MaxRetries = getEnvAsInt("MAX_RETRIES", 3)
	if cfg.Exchange.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES cannot be negative")
	}

	// Trading Parameters
	cfg.Trading.StartingCapital, err = getEnvAsFloatRequired("STARTING_CAPITAL", 50000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STARTING_CAPITAL: %v", err))
	} else if cfg.Trading.StartingCapital <= 0 {
		errs = append(errs, "STARTING_CAPITAL must be positive")
	}
	cfg.Trading.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	cfg.Trading.ReferenceSymbol = strings.ToUpper(getEnv("REFERENCE_SYMBOL", "BTCUSDT"))

	cfg.Trading.MaxPositions, err = getEnvAsIntRequired("MAX_POSITIONS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITIONS: %v", err))
	} else if cfg.Trading.MaxPositions <= 0 {
		errs = append(errs, "MAX_POSITIONS must be positive")
	}

	cfg.Trading.MaxLeverage, err = getEnvAsIntRequired("MAX_LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_LEVERAGE: %v", err))
	} else if cfg.Trading.MaxLeverage <= 0 {
		errs = append(errs, "MAX_LEVERAGE must be positive")
	}
	cfg.Trading.ShortMaxLeverage = getEnvAsInt("SHORT_MAX_LEVERAGE", 3)
	if cfg.Trading.ShortMaxLeverage <= 0 || cfg.Trading.ShortMaxLeverage > cfg.Trading.MaxLeverage {
		errs = append(errs, "SHORT_MAX_LEVERAGE must be positive and not above MAX_LEVERAGE")
	}

	cfg.Trading.Sizing = signal.Sizing{
		MinFraction:     getEnvAsFloat("MIN_POSITION_SIZE", 0.06),
		TypicalFraction: getEnvAsFloat("TYPICAL_POSITION_SIZE", 0.10),
		MaxFraction:     getEnvAsFloat("MAX_POSITION_SIZE", 0.12),
		ShortMultiplier: getEnvAsFloat("SHORT_SIZE_MULTIPLIER", 0.7),
	}
	s := cfg.Trading.Sizing
	if s.MinFraction <= 0 || s.MinFraction > s.TypicalFraction || s.TypicalFraction > s.MaxFraction || s.MaxFraction > 1 {
		errs = append(errs, "position size fractions must satisfy 0 < MIN <= TYPICAL <= MAX <= 1")
	}
	if s.ShortMultiplier <= 0 || s.ShortMultiplier > 1 {
		errs = append(errs, "SHORT_SIZE_MULTIPLIER must be in (0,1]")
	}
	cfg.Trading.MinNotional = getEnvAsFloat("MIN_NOTIONAL", 50)
	cfg.Trading.MaxNotional = getEnvAsFloat("MAX_NOTIONAL", 25000)
	if cfg.Trading.MinNotional < 0 || cfg.Trading.MaxNotional < cfg.Trading.MinNotional {
		errs = append(errs, "MIN_NOTIONAL must not be negative and MAX_NOTIONAL must be at least MIN_NOTIONAL")
	}

	// Limits
	cfg.Limits.DailyLossLimit, err = getEnvAsFloatRequired("DAILY_LOSS_LIMIT", 2500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DAILY_LOSS_LIMIT: %v", err))
	} else if cfg.Limits.DailyLossLimit <= 0 {
		errs = append(errs, "DAILY_LOSS_LIMIT must be positive")
	}
	cfg.Limits.WeeklyLossLimit, err = getEnvAsFloatRequired("WEEKLY_LOSS_LIMIT", 7500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid WEEKLY_LOSS_LIMIT: %v", err))
	} else if cfg.Limits.WeeklyLossLimit < cfg.Limits.DailyLossLimit {
		errs = append(errs, "WEEKLY_LOSS_LIMIT must be at least DAILY_LOSS_LIMIT")
	}
	cfg.Limits.MaxTradesPerDay, err = getEnvAsIntRequired("MAX_TRADES_PER_DAY", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_TRADES_PER_DAY: %v", err))
	} else if cfg.Limits.MaxTradesPerDay < 0 {
		errs = append(errs, "MAX_TRADES_PER_DAY cannot be negative")
	}
	cfg.Limits.MaxRiskFraction = getEnvAsFloat("MAX_TOTAL_RISK", 0.25)
	if cfg.Limits.MaxRiskFraction <= 0 || cfg.Limits.MaxRiskFraction > 1 {
		errs = append(errs, "MAX_TOTAL_RISK must be in (0,1]")
	}
	cfg.Limits.MaxCorrelated = getEnvAsInt("MAX_CORRELATED_POSITIONS", 2)
	cfg.Limits.CorrelatedGroups = parseGroups(getEnv("CORRELATED_GROUPS", "BTC,ETH"))
	cfg.Limits.CrashDrawdown = getEnvAsFloat("CRASH_DRAWDOWN", 0.15)
	if cfg.Limits.CrashDrawdown <= 0 || cfg.Limits.CrashDrawdown >= 1 {
		errs = append(errs, "CRASH_DRAWDOWN must be between 0.0 and 1.0 (exclusive)")
	}

	// Indicators
	cfg.Indicators = indicators.DefaultConfig()
	cfg.Indicators.RSIPeriod = getEnvAsInt("RSI_PERIOD", cfg.Indicators.RSIPeriod)
	cfg.Indicators.MACD.Fast = getEnvAsInt("MACD_FAST", cfg.Indicators.MACD.Fast)
	cfg.Indicators.MACD.Slow = getEnvAsInt("MACD_SLOW", cfg.Indicators.MACD.Slow)
	cfg.Indicators.MACD.Signal = getEnvAsInt("MACD_SIGNAL", cfg.Indicators.MACD.Signal)
	cfg.Indicators.EMAShortPeriod = getEnvAsInt("EMA_SHORT_PERIOD", cfg.Indicators.EMAShortPeriod)
	cfg.Indicators.EMALongPeriod = getEnvAsInt("EMA_LONG_PERIOD", cfg.Indicators.EMALongPeriod)
	cfg.Indicators.VolumeSMAPeriod = getEnvAsInt("VOLUME_SMA_PERIOD", cfg.Indicators.VolumeSMAPeriod)
	cfg.Indicators.LevelsLookback = getEnvAsInt("LEVELS_LOOKBACK", cfg.Indicators.LevelsLookback)
	cfg.Indicators.ATRPeriod = getEnvAsInt("ATR_PERIOD", cfg.Indicators.ATRPeriod)
	ic := cfg.Indicators
	if ic.RSIPeriod <= 0 || ic.EMAShortPeriod <= 0 || ic.EMALongPeriod <= 0 || ic.VolumeSMAPeriod <= 0 || ic.LevelsLookback <= 0 || ic.ATRPeriod <= 0 {
		errs = append(errs, "indicator periods (RSI, EMA, volume, levels, ATR) must be positive")
	}
	if ic.EMAShortPeriod >= ic.EMALongPeriod {
		errs = append(errs, "EMA_SHORT_PERIOD must be less than EMA_LONG_PERIOD")
	}
	if ic.MACD.Fast <= 0 || ic.MACD.Fast >= ic.MACD.Slow || ic.MACD.Signal <= 0 {
		errs = append(errs, "MACD periods must be positive with MACD_FAST < MACD_SLOW")
	}

	cfg.Candles.Interval = getEnv("CANDLE_INTERVAL", "1h")
	cfg.Candles.Limit = getEnvAsInt("CANDLE_LIMIT", 100)
	cfg.Candles.Concurrency = getEnvAsInt("CANDLE_CONCURRENCY", 5)
	if cfg.Candles.Limit < indicators.NewEngine(cfg.Indicators).RequiredDataPoints() {
		errs = append(errs, "CANDLE_LIMIT is shorter than the indicator history required")
	}
	if cfg.Candles.Concurrency <= 0 {
		errs = append(errs, "CANDLE_CONCURRENCY must be positive")
	}

	// Signals
	cfg.Signals = signal.DefaultConfig()
	cfg.Signals.LongThreshold = getEnvAsFloat("LONG_CONFIDENCE_THRESHOLD", cfg.Signals.LongThreshold)
	cfg.Signals.ShortThreshold = getEnvAsFloat("SHORT_CONFIDENCE_THRESHOLD", cfg.Signals.ShortThreshold)
	if cfg.Signals.LongThreshold < 0 || cfg.Signals.LongThreshold > 100 || cfg.Signals.ShortThreshold < 0 || cfg.Signals.ShortThreshold > 100 {
		errs = append(errs, "confidence thresholds must be between 0 and 100")
	}
	cfg.Macro = signal.DefaultMacroThresholds()
	cfg.Macro.Bullish = getEnvAsFloat("MACRO_BULLISH_PCT", cfg.Macro.Bullish)
	cfg.Macro.Bearish = getEnvAsFloat("MACRO_BEARISH_PCT", cfg.Macro.Bearish)
	if cfg.Macro.Bearish >= cfg.Macro.Bullish {
		errs = append(errs, "MACRO_BEARISH_PCT must be below MACRO_BULLISH_PCT")
	}
	cfg.Signals.BlockLongsInBearishMacro = getEnvAsBool("BLOCK_LONGS_IN_BEARISH_MACRO", cfg.Signals.BlockLongsInBearishMacro)
	cfg.Signals.Sizing = cfg.Trading.Sizing
	cfg.Signals.MaxLeverage = cfg.Trading.MaxLeverage
	cfg.Signals.ShortMaxLeverage = cfg.Trading.ShortMaxLeverage

	profile := strings.ToLower(getEnv("TP_PROFILE", ProfileSwing))
	tp1, tp2, ok := profileTargets(profile)
	if !ok {
		errs = append(errs, fmt.Sprintf("unknown TP_PROFILE %q (want %s or %s)", profile, ProfileScalp, ProfileSwing))
	}
	cfg.Signals.TakeProfit1Pct = getEnvAsFloat("TAKE_PROFIT_1", tp1)
	cfg.Signals.TakeProfit2Pct = getEnvAsFloat("TAKE_PROFIT_2", tp2)
	if cfg.Signals.TakeProfit1Pct <= 0 || cfg.Signals.TakeProfit1Pct >= cfg.Signals.TakeProfit2Pct {
		errs = append(errs, "TAKE_PROFIT_1 must be positive and less than TAKE_PROFIT_2")
	}

	// Stops
	cfg.Stops = risk.DefaultStopConfig()
	cfg.Stops.UseATR = getEnvAsBool("USE_ATR_STOPS", cfg.Stops.UseATR)
	cfg.Stops.MaxPct, err = getEnvAsFloatRequired("STOP_LOSS", cfg.Stops.MaxPct)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	} else if cfg.Stops.MaxPct <= 0 || cfg.Stops.MaxPct >= 1.0 {
		errs = append(errs, "STOP_LOSS must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.Stops.MinPct = getEnvAsFloat("MIN_STOP_LOSS", cfg.Stops.MinPct)
	if cfg.Stops.MinPct <= 0 || cfg.Stops.MinPct > cfg.Stops.MaxPct {
		errs = append(errs, "MIN_STOP_LOSS must be positive and not above STOP_LOSS")
	}
	cfg.Stops.LowMultiplier = getEnvAsFloat("ATR_MULTIPLIER_LOW", cfg.Stops.LowMultiplier)
	cfg.Stops.MediumMultiplier = getEnvAsFloat("ATR_MULTIPLIER_MEDIUM", cfg.Stops.MediumMultiplier)
	cfg.Stops.HighMultiplier = getEnvAsFloat("ATR_MULTIPLIER_HIGH", cfg.Stops.HighMultiplier)
	if cfg.Stops.LowMultiplier <= 0 || cfg.Stops.MediumMultiplier <= 0 || cfg.Stops.HighMultiplier <= 0 {
		errs = append(errs, "ATR multipliers must be positive")
	}
	cfg.Signals.StopLossPct = cfg.Stops.MaxPct

	// Exits
	cfg.Exits = portfolio.DefaultExitPolicy()
	cfg.Exits.MaxHold, err = getEnvAsDurationRequired("MAX_HOLD", cfg.Exits.MaxHold)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_HOLD: %v", err))
	}
	cfg.Exits.PartialTriggerPct = getEnvAsFloat("PARTIAL_TRIGGER_PCT", cfg.Exits.PartialTriggerPct)
	cfg.Exits.TrailTriggerPct = getEnvAsFloat("TRAIL_TRIGGER_PCT", cfg.Exits.TrailTriggerPct)
	if err := cfg.Exits.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid exit policy: %v", err))
	}

	// Scoring weights and replacement thresholds, optionally tuned from YAML
	cfg.Replacement = portfolio.DefaultReplacementPolicy()
	if path := getEnv("TUNING_FILE", ""); path != "" {
		t, err := loadTuning(path, cfg.Signals.Weights, cfg.Replacement)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TUNING_FILE: %v", err))
		} else {
			cfg.Signals.Weights = t.Weights
			cfg.Replacement = t.Replacement
		}
	}
	if err := cfg.Signals.Weights.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid weights: %v", err))
	}
	if err := cfg.Replacement.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid replacement policy: %v", err))
	}

	// Scanner
	cfg.Scanner.MaxSymbols = getEnvAsInt("SCAN_MAX_SYMBOLS", 250)
	cfg.Scanner.MinQuoteVolume = getEnvAsFloat("SCAN_MIN_QUOTE_VOLUME", 1_000_000)
	cfg.Scanner.MaxCandidates = getEnvAsInt("SCAN_MAX_CANDIDATES", 50)
	if cfg.Scanner.MaxSymbols <= 0 || cfg.Scanner.MaxCandidates <= 0 {
		errs = append(errs, "SCAN_MAX_SYMBOLS and SCAN_MAX_CANDIDATES must be positive")
	}

	// Schedule
	cfg.Schedule.CycleInterval = getEnvAsDuration("CYCLE_INTERVAL", 30*time.Second)
	cfg.Schedule.CycleTimeout = getEnvAsDuration("CYCLE_TIMEOUT", 25*time.Second)
	cfg.Schedule.HealthInterval = getEnvAsDuration("HEALTH_CHECK_INTERVAL", 10*time.Minute)
	cfg.Schedule.SnapshotInterval = getEnvAsDuration("SNAPSHOT_INTERVAL", 5*time.Minute)
	cfg.Schedule.StatusInterval = getEnvAsDuration("STATUS_INTERVAL", time.Hour)
	if cfg.Schedule.CycleInterval <= 0 || cfg.Schedule.CycleTimeout <= 0 {
		errs = append(errs, "CYCLE_INTERVAL and CYCLE_TIMEOUT must be positive")
	}
	if cfg.Schedule.HealthInterval <= 0 || cfg.Schedule.SnapshotInterval <= 0 || cfg.Schedule.StatusInterval <= 0 {
		errs = append(errs, "maintenance intervals must be positive")
	}

	// Database
	cfg.Storage.DBPath = getEnv("DB_PATH", "./data/perpbot.db")
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.Logging.Level = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.Logging.Format = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}
	cfg.Logging.File = getEnv("LOG_FILE", "")
	cfg.Logging.MaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.Logging.MaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.Logging.MaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 30)
	cfg.Logging.Compress = getEnvAsBool("LOG_COMPRESS", true)

	// Metrics
	cfg.Metrics.Enabled = getEnvAsBool("METRICS_ENABLED", true)
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9090")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func profileTargets(profile string) (float64, float64, bool) {
	switch profile {
	case ProfileScalp:
		return 0.01, 0.02, true
	case ProfileSwing:
		return 0.20, 0.70, true
	default:
		return 0.20, 0.70, false
	}
}

// loadTuning overlays the YAML file on the given defaults. Keys missing from
// the file keep their default values.
func loadTuning(path string, weights signal.Weights, replacement portfolio.ReplacementPolicy) (tuning, error) {
	t := tuning{Weights: weights, Replacement: replacement}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// parseGroups reads "BTC,ETH;SOL,AVAX" into asset groups.
func parseGroups(raw string) [][]string {
	var groups [][]string
	for _, g := range strings.Split(raw, ";") {
		var assets []string
		for _, a := range strings.Split(g, ",") {
			if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
				assets = append(assets, a)
			}
		}
		if len(assets) > 0 {
			groups = append(groups, assets)
		}
	}
	return groups
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvAsDurationRequired(key, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationRequired accepts Go duration strings ("30s", "24h") or a
// bare integer number of seconds.
func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
