package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/metrics"
	"perpbot/internal/ports"
	"perpbot/internal/retry"
)

// ExecutorConfig controls how orders are sent.
type ExecutorConfig struct {
	UseLimitEntries  bool    // IOC limit entries instead of market
	LimitSlippagePct float64 // Limit price offset beyond the signal price, fraction
	OrderTimeout     time.Duration
	CloseRetry       retry.Config // Reduce-only closes
}

// Executor turns accepted signals into filled, stop-protected positions and
// closes them again. It never touches PortfolioState.
type Executor struct {
	cfg     ExecutorConfig
	gateway ports.Gateway
	logger  ports.Logger
	now     func() time.Time
}

// NewExecutor creates an executor over gateway.
func NewExecutor(cfg ExecutorConfig, gateway ports.Gateway, logger ports.Logger) *Executor {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	return &Executor{cfg: cfg, gateway: gateway, logger: logger, now: time.Now}
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OrderTimeout)
}

// Open sets leverage, places the entry and the protective stop, and returns
// a position in OPENING state. When the stop cannot be placed the fill is
// closed again and no position is returned.
func (e *Executor) Open(ctx context.Context, sig domain.TradingSignal, notional float64) (*domain.Position, error) {
	op := "Executor.Open"
	if sig.EntryPrice <= 0 || notional <= 0 {
		return nil, fmt.Errorf("%s failed: %w: entry %.8f notional %.2f", op, ports.ErrInvalidRequest, sig.EntryPrice, notional)
	}
	fields := map[string]interface{}{"symbol": sig.Symbol, "side": sig.Side, "notional": notional, "leverage": sig.LeverageHint, "confidence": sig.Confidence}
	e.logger.Info(ctx, op+": Attempting to enter position", fields)

	lctx, cancel := e.withTimeout(ctx)
	err := e.gateway.SetLeverage(lctx, sig.Symbol, sig.LeverageHint)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s failed setting leverage: %w", op, err)
	}

	// 1. Entry order
	req := ports.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     sig.Side.EntryOrderSide(),
		Quantity: notional / sig.EntryPrice,
	}
	entry, err := e.placeEntry(ctx, req, sig)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("entry", "error").Inc()
		return nil, fmt.Errorf("%s entry order failed: %w", op, err)
	}
	if entry.ExecutedQty <= 0 {
		metrics.OrdersTotal.WithLabelValues("entry", "unfilled").Inc()
		return nil, fmt.Errorf("%s failed: %w: order %d status %s", op, ports.ErrInvalidFill, entry.OrderID, entry.Status)
	}
	metrics.OrdersTotal.WithLabelValues("entry", "ok").Inc()

	fillPrice := entry.AvgPrice
	if fillPrice <= 0 {
		e.logger.Warn(ctx, op+": Entry order AvgPrice is 0, using signal price as fallback", map[string]interface{}{"orderID": entry.OrderID, "fallbackPrice": sig.EntryPrice})
		fillPrice = sig.EntryPrice
	}
	adjusted := rebase(sig, fillPrice)

	// 2. Protective stop for the filled quantity
	exitSide := sig.Side.ExitOrderSide()
	stop, err := e.placeStop(ctx, sig.Symbol, exitSide, entry.ExecutedQty, adjusted.StopLoss)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to place stop loss order, attempting emergency close", map[string]interface{}{"symbol": sig.Symbol})
		if closeErr := e.emergencyClose(ctx, sig.Symbol, exitSide, entry.ExecutedQty); closeErr != nil {
			e.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"symbol": sig.Symbol, "quantity": entry.ExecutedQty})
			return nil, fmt.Errorf("%s failed: %w: stop order: %w (emergency close failed: %w)", op, ports.ErrOrderPlacementFailed, err, closeErr)
		}
		return nil, fmt.Errorf("%s failed: %w: stop order: %w (emergency close attempted)", op, ports.ErrOrderPlacementFailed, err)
	}

	pos := domain.NewPosition(adjusted, fillPrice, entry.ExecutedQty, fillPrice*entry.ExecutedQty, sig.LeverageHint, e.now())
	pos.StopOrderID = stop.OrderID

	e.logger.Info(ctx, op+": Entry filled and protected", map[string]interface{}{
		"symbol":      pos.Symbol,
		"side":        pos.Side,
		"fillPrice":   fillPrice,
		"quantity":    pos.Quantity,
		"stopLoss":    pos.StopLoss,
		"stopOrderID": pos.StopOrderID,
	})
	return pos, nil
}

func (e *Executor) placeEntry(ctx context.Context, req ports.OrderRequest, sig domain.TradingSignal) (*ports.OrderResponse, error) {
	octx, cancel := e.withTimeout(ctx)
	defer cancel()
	if e.cfg.UseLimitEntries {
		req.Price = sig.EntryPrice * (1 + sig.Side.Sign()*e.cfg.LimitSlippagePct)
		return e.gateway.PlaceLimitOrder(octx, req)
	}
	return e.gateway.PlaceMarketOrder(octx, req)
}

func (e *Executor) placeStop(ctx context.Context, symbol string, side domain.OrderSide, qty, stopPrice float64) (*ports.OrderResponse, error) {
	octx, cancel := e.withTimeout(ctx)
	defer cancel()
	resp, err := e.gateway.PlaceStopOrder(octx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		StopPrice:  stopPrice,
		ReduceOnly: true,
	})
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("stop", "error").Inc()
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues("stop", "ok").Inc()
	return resp, nil
}

// Close sends a reduce-only market order for fraction of the position and
// returns the fill price, or 0 when the gateway did not report one. A full
// close also cancels the protective stop.
func (e *Executor) Close(ctx context.Context, p *domain.Position, fraction float64) (float64, error) {
	op := "Executor.Close"
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("%s failed: %w: fraction %.4f", op, ports.ErrInvalidRequest, fraction)
	}
	qty := p.Quantity * fraction
	req := ports.OrderRequest{Symbol: p.Symbol, Side: p.Side.ExitOrderSide(), Quantity: qty, ReduceOnly: true}

	var resp *ports.OrderResponse
	err := retry.Do(ctx, e.cfg.CloseRetry, func(ctx context.Context) error {
		octx, cancel := e.withTimeout(ctx)
		defer cancel()
		var err error
		resp, err = e.gateway.PlaceMarketOrder(octx, req)
		return err
	})
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("close", "error").Inc()
		return 0, fmt.Errorf("%s failed for position %s: %w", op, p.ID, err)
	}
	metrics.OrdersTotal.WithLabelValues("close", "ok").Inc()

	if fraction == 1 && p.StopOrderID != 0 {
		_ = e.cancelOrderWarn(ctx, p.Symbol, p.StopOrderID, "SL")
	}

	e.logger.Info(ctx, op+": Closing order filled", map[string]interface{}{
		"positionID": p.ID,
		"symbol":     p.Symbol,
		"quantity":   qty,
		"fraction":   fraction,
		"avgPrice":   resp.AvgPrice,
	})
	return resp.AvgPrice, nil
}

// ReplaceStop places a stop at stopPrice for the position's current quantity,
// then cancels the previous one. The position is never left without a stop.
func (e *Executor) ReplaceStop(ctx context.Context, p *domain.Position, stopPrice float64) (int64, error) {
	op := "Executor.ReplaceStop"
	resp, err := e.placeStop(ctx, p.Symbol, p.Side.ExitOrderSide(), p.Quantity, stopPrice)
	if err != nil {
		return p.StopOrderID, fmt.Errorf("%s failed for position %s: %w", op, p.ID, err)
	}
	if p.StopOrderID != 0 {
		if err := e.cancelOrderWarn(ctx, p.Symbol, p.StopOrderID, "SL"); err != nil {
			e.logger.Warn(ctx, op+": previous stop still resting", map[string]interface{}{"positionID": p.ID, "orderID": p.StopOrderID})
		}
	}
	e.logger.Info(ctx, op+": Stop moved", map[string]interface{}{"positionID": p.ID, "symbol": p.Symbol, "stopPrice": stopPrice, "orderID": resp.OrderID})
	return resp.OrderID, nil
}

// Unwind reverses a filled entry that could not be registered.
func (e *Executor) Unwind(ctx context.Context, p *domain.Position) error {
	if p.StopOrderID != 0 {
		_ = e.cancelOrderWarn(ctx, p.Symbol, p.StopOrderID, "SL")
	}
	return e.emergencyClose(ctx, p.Symbol, p.Side.ExitOrderSide(), p.Quantity)
}

// emergencyClose places a reduce-only market order for qty.
func (e *Executor) emergencyClose(ctx context.Context, symbol string, side domain.OrderSide, qty float64) error {
	op := "emergencyClose"
	e.logger.Warn(ctx, op+": Placing emergency closing order", map[string]interface{}{"symbol": symbol, "side": side, "quantity": qty})
	err := retry.Do(ctx, e.cfg.CloseRetry, func(ctx context.Context) error {
		octx, cancel := e.withTimeout(ctx)
		defer cancel()
		_, err := e.gateway.PlaceMarketOrder(octx, ports.OrderRequest{Symbol: symbol, Side: side, Quantity: qty, ReduceOnly: true})
		return err
	})
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("close", "error").Inc()
		e.logger.Error(ctx, err, op+": FAILED TO PLACE EMERGENCY CLOSE ORDER", map[string]interface{}{"symbol": symbol})
		return fmt.Errorf("emergency close order placement failed: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues("close", "ok").Inc()
	e.logger.Info(ctx, op+": Emergency close order placed successfully", map[string]interface{}{"symbol": symbol})
	return nil
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (e *Executor) cancelOrderWarn(ctx context.Context, symbol string, orderID int64, orderType string) error {
	op := "cancelOrderWarn"
	octx, cancel := e.withTimeout(ctx)
	defer cancel()
	_, err := e.gateway.CancelOrder(octx, symbol, orderID)
	if err != nil {
		// Ignore "Order does not exist" errors, as it might have already been filled or cancelled.
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"orderID": orderID, "type": orderType})
			return nil
		}
		metrics.OrdersTotal.WithLabelValues("cancel", "error").Inc()
		e.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"orderID": orderID, "type": orderType})
		return err
	}
	metrics.OrdersTotal.WithLabelValues("cancel", "ok").Inc()
	e.logger.Debug(ctx, op+": Order cancelled successfully", map[string]interface{}{"orderID": orderID, "type": orderType})
	return nil
}

// rebase moves the stop and targets of sig so they keep their percentage
// distance from the actual fill price.
func rebase(sig domain.TradingSignal, fill float64) domain.TradingSignal {
	if sig.EntryPrice <= 0 || fill == sig.EntryPrice {
		return sig
	}
	ratio := fill / sig.EntryPrice
	out := sig
	out.EntryPrice = fill
	out.StopLoss = sig.StopLoss * ratio
	out.TakeProfit1 = sig.TakeProfit1 * ratio
	out.TakeProfit2 = sig.TakeProfit2 * ratio
	return out
}
