package binanceclient

import (
	"context"
	"fmt"

	"perpbot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// symbolFilters holds the order precision rules of one contract.
type symbolFilters struct {
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
	TickSize decimal.Decimal
}

func filtersFromSymbol(s *futures.Symbol) symbolFilters {
	var f symbolFilters
	if lot := s.LotSizeFilter(); lot != nil {
		f.StepSize, _ = decimal.NewFromString(lot.StepSize)
		f.MinQty, _ = decimal.NewFromString(lot.MinQuantity)
	}
	if pf := s.PriceFilter(); pf != nil {
		f.TickSize, _ = decimal.NewFromString(pf.TickSize)
	}
	return f
}

// floorToStep rounds value down to a multiple of step. A zero step leaves
// the value untouched.
func floorToStep(value float64, step decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// roundToTick rounds value to the nearest multiple of tick.
func roundToTick(value float64, tick decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if tick.Sign() <= 0 {
		return v
	}
	return v.Div(tick).Round(0).Mul(tick)
}

func (c *Client) symbolFilters(symbol string) (symbolFilters, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.filters[symbol]
	return f, ok
}

func (c *Client) formatQuantity(ctx context.Context, symbol string, qty float64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("quantity %.8f for %s: %w", qty, symbol, ports.ErrInvalidRequest)
	}
	f, ok := c.symbolFilters(symbol)
	if !ok {
		c.logger.Debug(ctx, "No cached filters for symbol, sending raw quantity", map[string]interface{}{"symbol": symbol})
		return decimal.NewFromFloat(qty).String(), nil
	}
	rounded := floorToStep(qty, f.StepSize)
	if rounded.Sign() <= 0 || (f.MinQty.Sign() > 0 && rounded.LessThan(f.MinQty)) {
		return "", fmt.Errorf("quantity %.8f for %s below minimum %s: %w", qty, symbol, f.MinQty.String(), ports.ErrInvalidRequest)
	}
	return rounded.String(), nil
}

func (c *Client) formatPrice(ctx context.Context, symbol string, price float64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("price %.8f for %s: %w", price, symbol, ports.ErrInvalidRequest)
	}
	f, ok := c.symbolFilters(symbol)
	if !ok {
		return decimal.NewFromFloat(price).String(), nil
	}
	return roundToTick(price, f.TickSize).String(), nil
}
