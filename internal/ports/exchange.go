package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID      int64     // Exchange's order ID
	Symbol       string    // Symbol for the order
	Price        float64   // Limit or stop price, 0 for market orders
	AvgPrice     float64   // Average filled price
	OrigQuantity float64   // Original quantity requested
	ExecutedQty  float64   // Quantity filled
	Status       string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type         string    // Order type (e.g., MARKET, LIMIT, STOP_MARKET)
	Side         string    // Order side (BUY, SELL)
	Timestamp    time.Time // Time the order response was generated
}

// OrderRequest carries the parameters common to every order kind.
// Price is used by limit orders, StopPrice by stop orders.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Quantity   float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
}

// MarketData is the read-only half of the gateway.
type MarketData interface {
	// ListPerpetualSymbols returns tradable USDT perpetual symbols.
	ListPerpetualSymbols(ctx context.Context) ([]string, error)

	// GetCandles retrieves historical klines, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetTicker24h retrieves the 24h statistics for one symbol.
	GetTicker24h(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)

	// GetTickers24h retrieves the 24h statistics for every symbol in one call.
	GetTickers24h(ctx context.Context) ([]*domain.MarketSnapshot, error)

	// GetCurrentPrice retrieves the mark price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// Gateway is the full exchange abstraction used by the engine.
type Gateway interface {
	MarketData

	// PlaceMarketOrder places a market order and returns its fill.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// PlaceLimitOrder places an immediate-or-cancel limit order.
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// PlaceStopOrder places a reduce-only stop-market order.
	PlaceStopOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// GetAccountBalance retrieves the wallet balance for an asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetPositionAmount returns the signed open quantity the exchange holds
	// for symbol, 0 when flat. Longs are positive.
	GetPositionAmount(ctx context.Context, symbol string) (float64, error)
}
