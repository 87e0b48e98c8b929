package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpbot/config"
	"perpbot/internal/adapters/binanceclient"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/paper"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/app"
	"perpbot/internal/domain"
	"perpbot/internal/indicators"
	"perpbot/internal/metrics"
	"perpbot/internal/portfolio"
	"perpbot/internal/ports"
	"perpbot/internal/ratelimit"
	"perpbot/internal/retry"
	"perpbot/internal/risk"
	sig "perpbot/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.Logging.Format == "json" || cfg.Logging.File != "" {
		zl := logger.NewZapLogger(logger.ZapConfig{
			Level:      cfg.Logging.Level,
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
			Console:    true,
		})
		defer func() { _ = zl.Sync() }()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.Logging.Level)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.Logging.Level.String(), "format": cfg.Logging.Format})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.Storage.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.Storage.DBPath})

	// 4. Initialize Exchange Client (Binance Adapter), wrapped by the paper gateway when simulating
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		UseTestnet: cfg.Exchange.IsTestnet,
		QuoteAsset: cfg.Trading.QuoteAsset,
		Logger:     appLogger,
		Limiter:    ratelimit.NewLimiter(cfg.Exchange.RateLimit, cfg.Exchange.RateWindow),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var gateway ports.Gateway = binanceClient
	if cfg.Exchange.PaperTrading {
		gateway, err = paper.NewGateway(binanceClient, paper.Config{
			StartingBalance: cfg.Trading.StartingCapital,
			QuoteAsset:      cfg.Trading.QuoteAsset,
			FeeRate:         cfg.Exchange.PaperFeeRate,
			Logger:          appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper gateway")
			log.Fatalf("FATAL: Failed to initialize paper gateway: %v", err)
		}
	} else if err := binanceClient.SetServerTime(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to synchronize server time")
		log.Fatalf("FATAL: Failed to synchronize server time: %v", err)
	}
	appLogger.Info(ctx, "Exchange gateway initialized", map[string]interface{}{
		"paper":   cfg.Exchange.PaperTrading,
		"testnet": cfg.Exchange.IsTestnet,
	})

	// 5. Initialize Decision Components
	readRetry := retry.DefaultConfig()
	readRetry.MaxAttempts = cfg.Exchange.MaxRetries + 1
	closeRetry := retry.CloseConfig()

	evaluator := sig.NewEvaluator(cfg.Signals, risk.NewStopPlanner(cfg.Stops))
	gatekeeper := risk.NewGatekeeper(cfg.RiskConfig())
	state := domain.NewPortfolioState(cfg.Trading.StartingCapital, time.Now())
	controller, err := portfolio.NewController(cfg.PortfolioConfig(), state, repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize portfolio controller")
		log.Fatalf("FATAL: Failed to initialize portfolio controller: %v", err)
	}

	// 6. Initialize Orchestrator
	scanner := app.NewScanner(app.ScannerConfig{
		MaxSymbols:      cfg.Scanner.MaxSymbols,
		MinQuoteVolume:  cfg.Scanner.MinQuoteVolume,
		MaxCandidates:   cfg.Scanner.MaxCandidates,
		LongMinGain:     cfg.Signals.LongMinGain,
		LongMaxGain:     cfg.Signals.LongMaxGain,
		ShortMinGain:    cfg.Signals.ShortMinGain,
		ReferenceSymbol: cfg.Trading.ReferenceSymbol,
		RequestTimeout:  cfg.Exchange.RequestTimeout,
		Retry:           readRetry,
	}, gateway, appLogger)
	executor := app.NewExecutor(app.ExecutorConfig{
		UseLimitEntries:  cfg.Exchange.UseLimitEntries,
		LimitSlippagePct: cfg.Exchange.LimitSlippagePct,
		OrderTimeout:     cfg.Exchange.RequestTimeout,
		CloseRetry:       closeRetry,
	}, gateway, appLogger)

	engine, err := app.NewEngine(app.EngineConfig{
		CandleInterval:   cfg.Candles.Interval,
		CandleLimit:      cfg.Candles.Limit,
		Concurrency:      cfg.Candles.Concurrency,
		CycleInterval:    cfg.Schedule.CycleInterval,
		CycleTimeout:     cfg.Schedule.CycleTimeout,
		HealthInterval:   cfg.Schedule.HealthInterval,
		SnapshotInterval: cfg.Schedule.SnapshotInterval,
		StatusInterval:   cfg.Schedule.StatusInterval,
		QuoteAsset:       cfg.Trading.QuoteAsset,
		LiveBalance:      !cfg.Exchange.PaperTrading,
		Reconcile:        !cfg.Exchange.PaperTrading,
		RequestTimeout:   cfg.Exchange.RequestTimeout,
		Macro:            cfg.Macro,
		Retry:            readRetry,
	}, app.Deps{
		Gateway:    gateway,
		Scanner:    scanner,
		Executor:   executor,
		Indicators: indicators.NewEngine(cfg.Indicators),
		Evaluator:  evaluator,
		Gatekeeper: gatekeeper,
		Controller: controller,
		State:      state,
		Ledger:     repo,
		Snapshots:  repo,
		Storage:    repo,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 7. Restore state from the ledger and the last snapshot
	if err := engine.Restore(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to restore portfolio state")
		log.Fatalf("FATAL: Failed to restore portfolio state: %v", err)
	}

	// 8. Metrics and health endpoint
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Addr, func() interface{} { return engine.Status() }, appLogger)
		go func() {
			if err := server.Run(ctx); err != nil {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
	}

	// 9. Run until SIGINT/SIGTERM. Open positions stay open on shutdown; their
	// exchange-side stops keep protecting them.
	if err := engine.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
