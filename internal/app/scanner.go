package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/retry"
)

// ScannerConfig holds the coarse filters applied to the 24h tickers.
type ScannerConfig struct {
	MaxSymbols      int     // Universe cap, most liquid first
	MinQuoteVolume  float64 // 24h quote volume floor
	MaxCandidates   int
	LongMinGain     float64 // 24h gain band for long candidates, percent
	LongMaxGain     float64
	ShortMinGain    float64 // Overextension for short candidates, percent
	ReferenceSymbol string
	RequestTimeout  time.Duration // Per attempt, defaults to 10s
	Retry           retry.Config
}

// ScanResult is the output of one scan.
type ScanResult struct {
	Candidates []*domain.MarketSnapshot // Sorted by 24h gain, largest first
	Reference  *domain.MarketSnapshot   // Nil when the reference ticker is unavailable
	Universe   int                      // Symbols considered after the cap
}

// Scanner narrows the perpetual universe to a short list worth evaluating.
type Scanner struct {
	cfg    ScannerConfig
	market ports.MarketData
	logger ports.Logger
}

// NewScanner creates a scanner over market.
func NewScanner(cfg ScannerConfig, market ports.MarketData, logger ports.Logger) *Scanner {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Scanner{cfg: cfg, market: market, logger: logger}
}

// Scan lists the perpetual symbols, pulls every 24h ticker in one call and
// keeps the symbols inside the long or short gain bands.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	op := "Scan"

	var symbols []string
	err := timedRead(ctx, s.cfg.Retry, s.cfg.RequestTimeout, func(ctx context.Context) error {
		var err error
		symbols, err = s.market.ListPerpetualSymbols(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed listing symbols: %w", op, err)
	}

	var tickers []*domain.MarketSnapshot
	err = timedRead(ctx, s.cfg.Retry, s.cfg.RequestTimeout, func(ctx context.Context) error {
		var err error
		tickers, err = s.market.GetTickers24h(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed fetching tickers: %w", op, err)
	}

	tradable := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		tradable[sym] = struct{}{}
	}

	result := &ScanResult{}
	universe := make([]*domain.MarketSnapshot, 0, len(symbols))
	for _, t := range tickers {
		if t == nil {
			continue
		}
		if t.Symbol == s.cfg.ReferenceSymbol {
			result.Reference = t
		}
		if _, ok := tradable[t.Symbol]; !ok || !validTicker(t) {
			continue
		}
		universe = append(universe, t)
	}

	// Most liquid first, so the cap drops the thinnest contracts.
	sort.SliceStable(universe, func(i, j int) bool {
		return universe[i].QuoteVolume24h > universe[j].QuoteVolume24h
	})
	if s.cfg.MaxSymbols > 0 && len(universe) > s.cfg.MaxSymbols {
		universe = universe[:s.cfg.MaxSymbols]
	}
	result.Universe = len(universe)

	for _, t := range universe {
		if t.QuoteVolume24h < s.cfg.MinQuoteVolume {
			continue
		}
		if s.inLongBand(t) || s.inShortBand(t) {
			result.Candidates = append(result.Candidates, t)
		}
	}
	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.PriceChangePct24h != b.PriceChangePct24h {
			return a.PriceChangePct24h > b.PriceChangePct24h
		}
		return a.Symbol < b.Symbol
	})
	if s.cfg.MaxCandidates > 0 && len(result.Candidates) > s.cfg.MaxCandidates {
		result.Candidates = result.Candidates[:s.cfg.MaxCandidates]
	}

	if result.Reference == nil && s.cfg.ReferenceSymbol != "" {
		var ref *domain.MarketSnapshot
		err := timedRead(ctx, retry.Config{MaxAttempts: 1}, s.cfg.RequestTimeout, func(ctx context.Context) error {
			var err error
			ref, err = s.market.GetTicker24h(ctx, s.cfg.ReferenceSymbol)
			return err
		})
		if err != nil {
			s.logger.Warn(ctx, op+": reference ticker unavailable, macro trend treated as neutral", map[string]interface{}{
				"symbol": s.cfg.ReferenceSymbol,
				"error":  err.Error(),
			})
		} else {
			result.Reference = ref
		}
	}

	s.logger.Debug(ctx, op+" complete", map[string]interface{}{
		"listed":     len(symbols),
		"universe":   result.Universe,
		"candidates": len(result.Candidates),
	})
	return result, nil
}

func (s *Scanner) inLongBand(t *domain.MarketSnapshot) bool {
	return t.PriceChangePct24h >= s.cfg.LongMinGain && t.PriceChangePct24h <= s.cfg.LongMaxGain
}

func (s *Scanner) inShortBand(t *domain.MarketSnapshot) bool {
	return s.cfg.ShortMinGain > 0 && t.PriceChangePct24h >= s.cfg.ShortMinGain
}

func validTicker(t *domain.MarketSnapshot) bool {
	return t.LastPrice > 0 && !math.IsNaN(t.PriceChangePct24h) && !math.IsInf(t.PriceChangePct24h, 0)
}

// timedRead retries fn under cfg and bounds each attempt by timeout.
func timedRead(ctx context.Context, cfg retry.Config, timeout time.Duration, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(rctx)
	})
}
