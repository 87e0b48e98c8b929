package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Limiter throttles outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client implements the ports.Gateway interface using the go-binance futures API.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       Limiter
	quoteAsset    string

	mu      sync.RWMutex
	filters map[string]symbolFilters // Loaded from exchangeInfo
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	QuoteAsset string // Perpetuals are listed for this margin asset, default USDT
	Logger     ports.Logger
	Limiter    Limiter // Optional
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       cfg.Limiter,
		quoteAsset:    quote,
		filters:       make(map[string]symbolFilters),
	}, nil
}

// wait blocks on the request limiter, if any.
func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
	}
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPICode(apiErr.Code)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// mapAPICode maps Binance error codes to port sentinels.
func mapAPICode(code int64) error {
	switch code {
	case -1001, -1007: // Disconnected, backend timeout
		return ports.ErrExchangeUnavailable
	case -1003, -1015: // Too many requests / orders
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010, -2022: // New order rejected, ReduceOnly rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid, or IP/permissions
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041, -4047: // Margin or position insufficient
		return ports.ErrInsufficientFunds
	case -4003, -4014, -4015, -4164: // Qty, price, leverage or notional out of range
		return ports.ErrInvalidRequest
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	default:
		return ports.ErrUnknown
	}
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// ListPerpetualSymbols returns trading perpetual contracts margined in the
// quote asset, sorted by name. Symbol filters are cached for order rounding.
func (c *Client) ListPerpetualSymbols(ctx context.Context) ([]string, error) {
	op := "ListPerpetualSymbols"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	symbols := make([]string, 0, len(info.Symbols))
	loaded := make(map[string]symbolFilters, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.ContractType != futures.ContractTypePerpetual || s.Status != "TRADING" || s.QuoteAsset != c.quoteAsset {
			continue
		}
		symbols = append(symbols, s.Symbol)
		loaded[s.Symbol] = filtersFromSymbol(s)
	}
	sort.Strings(symbols)

	c.mu.Lock()
	c.filters = loaded
	c.mu.Unlock()

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(symbols)})
	return symbols, nil
}

// GetCandles retrieves historical klines for the given symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetCandles"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetTicker24h retrieves the 24h statistics for one symbol.
func (c *Client) GetTicker24h(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	op := "GetTicker24h"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s: %w", symbol, ports.ErrNotFound), op)
	}
	snap, err := translateTicker(stats[0])
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return snap, nil
}

// GetTickers24h retrieves the 24h statistics for every symbol. Rows that fail
// to parse are skipped.
func (c *Client) GetTickers24h(ctx context.Context) ([]*domain.MarketSnapshot, error) {
	op := "GetTickers24h"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.MarketSnapshot, 0, len(stats))
	skipped := 0
	for _, s := range stats {
		snap, err := translateTicker(s)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, snap)
	}
	if skipped > 0 {
		c.logger.Warn(ctx, op+": skipped unparsable tickers", map[string]interface{}{"skipped": skipped})
	}
	return out, nil
}

// GetCurrentPrice retrieves the current mark price for a given symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetCurrentPrice"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s: %w", symbol, ports.ErrNotFound), op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetAccountBalance retrieves the wallet balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance: %w", asset, ports.ErrNotFound)
	return 0, c.handleError(ctx, err, op)
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// GetPositionAmount sums positionAmt over every position side of symbol.
// In one-way mode there is a single BOTH entry.
func (c *Client) GetPositionAmount(ctx context.Context, symbol string) (float64, error) {
	op := "GetPositionAmount"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	risks, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	total := 0.0
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse positionAmt '%s' for %s: %w", r.PositionAmt, symbol, err)
			return 0, c.handleError(ctx, parseErr, op)
		}
		total += amt
	}
	return total, nil
}

// PlaceMarketOrder places a market order with the quantity floored to the symbol step size.
func (c *Client) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	qty, err := c.formatQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": qty, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice, "reduceOnly": req.ReduceOnly})
	return resp, nil
}

// PlaceLimitOrder places an immediate-or-cancel limit order. The unfilled
// remainder is cancelled by the exchange.
func (c *Client) PlaceLimitOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceLimitOrder"
	qty, err := c.formatQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	price, err := c.formatPrice(ctx, req.Symbol, req.Price)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeIOC).
		Quantity(qty).
		Price(price).
		ReduceOnly(req.ReduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": qty, "price": price, "orderID": resp.OrderID, "executedQty": resp.ExecutedQty})
	return resp, nil
}

// PlaceStopOrder places a stop-market order triggered on mark price. A zero
// quantity closes the whole position.
func (c *Client) PlaceStopOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceStopOrder"
	stop, err := c.formatPrice(ctx, req.Symbol, req.StopPrice)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stop).
		WorkingType(futures.WorkingTypeMarkPrice)
	qty := ""
	if req.Quantity > 0 {
		qty, err = c.formatQuantity(ctx, req.Symbol, req.Quantity)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		svc = svc.Quantity(qty).ReduceOnly(true)
	} else {
		svc = svc.ClosePosition(true)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": qty, "stopPrice": stop, "orderID": resp.OrderID})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		// -2013 maps to ErrOrderNotFound
		return nil, c.handleError(ctx, err, op)
	}

	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	resp := &ports.OrderResponse{
		OrderID:      res.OrderID,
		Symbol:       res.Symbol,
		Price:        price,
		OrigQuantity: origQty,
		Status:       string(res.Status),
		Type:         string(res.Type),
		Side:         string(res.Side),
		Timestamp:    time.UnixMilli(res.UpdateTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}
