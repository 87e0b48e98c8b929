// Package paper provides a simulated order gateway on top of live market data.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	"github.com/shopspring/decimal"
)

// Config holds the paper gateway settings.
type Config struct {
	StartingBalance float64
	QuoteAsset      string  // Default USDT
	FeeRate         float64 // Taker fee charged on each fill notional, e.g. 0.0004
	Logger          ports.Logger
	Now             func() time.Time // Optional, for tests
}

type holding struct {
	qty   float64 // Signed, positive for long
	entry float64
}

type stopOrder struct {
	req     ports.OrderRequest
	created time.Time
}

// Gateway fills orders at the current mark price and keeps a local wallet.
// Market data is delegated to the wrapped source.
type Gateway struct {
	ports.MarketData

	logger     ports.Logger
	quoteAsset string
	feeRate    decimal.Decimal
	now        func() time.Time

	mu       sync.Mutex
	balance  decimal.Decimal
	holdings map[string]*holding
	stops    map[int64]stopOrder
	leverage map[string]int
	nextID   int64
}

var _ ports.Gateway = (*Gateway)(nil)

// NewGateway wraps market data with simulated execution.
func NewGateway(md ports.MarketData, cfg Config) (*Gateway, error) {
	if md == nil {
		return nil, fmt.Errorf("market data source is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper gateway: %w", ports.ErrConfigurationError)
	}
	if cfg.StartingBalance <= 0 {
		return nil, fmt.Errorf("starting balance must be positive: %w", ports.ErrConfigurationError)
	}
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		MarketData: md,
		logger:     cfg.Logger,
		quoteAsset: quote,
		feeRate:    decimal.NewFromFloat(cfg.FeeRate),
		now:        now,
		balance:    decimal.NewFromFloat(cfg.StartingBalance),
		holdings:   make(map[string]*holding),
		stops:      make(map[int64]stopOrder),
		leverage:   make(map[string]int),
	}, nil
}

// PlaceMarketOrder fills the full quantity at the current price.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("PlaceMarketOrder failed: %w", err)
	}
	price, err := g.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("PlaceMarketOrder failed: %w", err)
	}
	return g.fill(ctx, req, price, "MARKET"), nil
}

// PlaceLimitOrder fills at the limit price when the market is at or through
// it, and expires unfilled otherwise.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("PlaceLimitOrder failed: %w", err)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("PlaceLimitOrder failed: limit price %.8f: %w", req.Price, ports.ErrInvalidRequest)
	}
	price, err := g.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("PlaceLimitOrder failed: %w", err)
	}

	marketable := (req.Side == domain.Buy && price <= req.Price) || (req.Side == domain.Sell && price >= req.Price)
	if !marketable {
		g.mu.Lock()
		g.nextID++
		id := g.nextID
		g.mu.Unlock()
		g.logger.Debug(ctx, "Paper limit order expired", map[string]interface{}{"symbol": req.Symbol, "limit": req.Price, "market": price})
		return &ports.OrderResponse{
			OrderID:      id,
			Symbol:       req.Symbol,
			Price:        req.Price,
			OrigQuantity: req.Quantity,
			Status:       "EXPIRED",
			Type:         "LIMIT",
			Side:         string(req.Side),
			Timestamp:    g.now(),
		}, nil
	}
	resp := g.fill(ctx, req, req.Price, "LIMIT")
	resp.Price = req.Price
	return resp, nil
}

// PlaceStopOrder records a resting stop. Stops are not triggered locally;
// the engine evaluates exits on its own price checks.
func (g *Gateway) PlaceStopOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	if req.Symbol == "" || req.StopPrice <= 0 {
		return nil, fmt.Errorf("PlaceStopOrder failed: %w", ports.ErrInvalidRequest)
	}
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.stops[id] = stopOrder{req: req, created: g.now()}
	g.mu.Unlock()

	g.logger.Debug(ctx, "Paper stop order placed", map[string]interface{}{"symbol": req.Symbol, "stopPrice": req.StopPrice, "orderID": id})
	return &ports.OrderResponse{
		OrderID:      id,
		Symbol:       req.Symbol,
		Price:        req.StopPrice,
		OrigQuantity: req.Quantity,
		Status:       "NEW",
		Type:         "STOP_MARKET",
		Side:         string(req.Side),
		Timestamp:    g.now(),
	}, nil
}

// CancelOrder removes a resting stop.
func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	g.mu.Lock()
	o, ok := g.stops[orderID]
	if ok && o.req.Symbol == symbol {
		delete(g.stops, orderID)
	}
	g.mu.Unlock()

	if !ok || o.req.Symbol != symbol {
		return nil, fmt.Errorf("CancelOrder failed: order %d for %s: %w", orderID, symbol, ports.ErrOrderNotFound)
	}
	return &ports.OrderResponse{
		OrderID:      orderID,
		Symbol:       symbol,
		Price:        o.req.StopPrice,
		OrigQuantity: o.req.Quantity,
		Status:       "CANCELED",
		Type:         "STOP_MARKET",
		Side:         string(o.req.Side),
		Timestamp:    g.now(),
	}, nil
}

// GetAccountBalance returns the simulated wallet balance.
func (g *Gateway) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	if !strings.EqualFold(asset, g.quoteAsset) {
		return 0, fmt.Errorf("GetAccountBalance failed: asset %s: %w", asset, ports.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance.InexactFloat64(), nil
}

// SetLeverage records the leverage for a symbol.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("SetLeverage failed: leverage %d: %w", leverage, ports.ErrInvalidRequest)
	}
	g.mu.Lock()
	g.leverage[symbol] = leverage
	g.mu.Unlock()
	return nil
}

// GetPositionAmount returns the signed simulated holding for symbol.
func (g *Gateway) GetPositionAmount(ctx context.Context, symbol string) (float64, error) {
	return g.NetQuantity(symbol), nil
}

// OpenStops returns the number of resting stop orders.
func (g *Gateway) OpenStops() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stops)
}

// NetQuantity returns the signed simulated holding for a symbol.
func (g *Gateway) NetQuantity(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holdings[symbol]; ok {
		return h.qty
	}
	return 0
}

// fill books a fill into the wallet: realized PnL on the reducing part,
// a new average entry on the increasing part, and the fee on the notional.
func (g *Gateway) fill(ctx context.Context, req ports.OrderRequest, price float64, kind string) *ports.OrderResponse {
	signed := req.Quantity
	if req.Side == domain.Sell {
		signed = -signed
	}

	g.mu.Lock()
	h, ok := g.holdings[req.Symbol]
	if !ok {
		h = &holding{}
		g.holdings[req.Symbol] = h
	}

	realized := decimal.Zero
	if h.qty != 0 && (h.qty > 0) != (signed > 0) {
		closing := minAbs(signed, h.qty)
		// closing carries the sign of the existing holding
		realized = decimal.NewFromFloat(price - h.entry).Mul(decimal.NewFromFloat(closing))
		h.qty -= closing
		signed += closing
		if h.qty == 0 {
			h.entry = 0
		}
	}
	if signed != 0 && !req.ReduceOnly {
		total := h.qty + signed
		h.entry = (h.entry*h.qty + price*signed) / total
		h.qty = total
	}
	if h.qty == 0 {
		delete(g.holdings, req.Symbol)
	}

	fee := decimal.NewFromFloat(price * req.Quantity).Mul(g.feeRate)
	g.balance = g.balance.Add(realized).Sub(fee)
	g.nextID++
	id := g.nextID
	balance := g.balance
	g.mu.Unlock()

	g.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"type":     kind,
		"quantity": req.Quantity,
		"price":    price,
		"realized": realized.InexactFloat64(),
		"fee":      fee.InexactFloat64(),
		"balance":  balance.InexactFloat64(),
	})

	return &ports.OrderResponse{
		OrderID:      id,
		Symbol:       req.Symbol,
		AvgPrice:     price,
		OrigQuantity: req.Quantity,
		ExecutedQty:  req.Quantity,
		Status:       "FILLED",
		Type:         kind,
		Side:         string(req.Side),
		Timestamp:    g.now(),
	}
}

// minAbs returns the part of order that offsets held, signed like held.
func minAbs(order, held float64) float64 {
	o, h := order, held
	if o < 0 {
		o = -o
	}
	if h < 0 {
		h = -h
	}
	m := o
	if h < m {
		m = h
	}
	if held < 0 {
		return -m
	}
	return m
}

func validate(req ports.OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("empty symbol: %w", ports.ErrInvalidRequest)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return fmt.Errorf("side %q: %w", req.Side, ports.ErrInvalidRequest)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity %.8f: %w", req.Quantity, ports.ErrInvalidRequest)
	}
	return nil
}
