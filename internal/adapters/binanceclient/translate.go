package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:      order.OrderID,
		Symbol:       order.Symbol,
		Price:        price,
		AvgPrice:     avgPrice,
		OrigQuantity: origQty,
		ExecutedQty:  execQty,
		Status:       string(order.Status),
		Type:         string(order.Type),
		Side:         string(order.Side),
		Timestamp:    time.UnixMilli(order.UpdateTime),
	}
}

func translateTicker(s *futures.PriceChangeStats) (*domain.MarketSnapshot, error) {
	if s == nil {
		return nil, errors.New("received nil ticker")
	}
	last, err := strconv.ParseFloat(s.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing last price '%s' for %s: %w", s.LastPrice, s.Symbol, err)
	}
	change, err := strconv.ParseFloat(s.PriceChangePercent, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing price change '%s' for %s: %w", s.PriceChangePercent, s.Symbol, err)
	}
	high, _ := strconv.ParseFloat(s.HighPrice, 64)
	low, _ := strconv.ParseFloat(s.LowPrice, 64)
	vol, _ := strconv.ParseFloat(s.Volume, 64)
	quoteVol, _ := strconv.ParseFloat(s.QuoteVolume, 64)

	return &domain.MarketSnapshot{
		Symbol:            s.Symbol,
		LastPrice:         last,
		PriceChangePct24h: change,
		High24h:           high,
		Low24h:            low,
		Volume24h:         vol,
		QuoteVolume24h:    quoteVol,
		Timestamp:         time.UnixMilli(s.CloseTime),
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	closeTime := time.UnixMilli(bk.CloseTime)
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: closeTime,
		Symbol:    symbol,   // Use passed symbol as it's not in futures.Kline
		Interval:  interval, // Use passed interval
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   !closeTime.After(time.Now()), // The newest candle is usually still forming
	}, nil
}
