package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockGateway is an in-memory exchange. Market orders fill at the configured
// price for the symbol, limit orders fill at their limit when limitFills is set.
type mockGateway struct {
	mu sync.Mutex

	symbols  []string
	tickers  []*domain.MarketSnapshot
	ticker   map[string]*domain.MarketSnapshot
	candles  map[string][]*domain.Kline
	prices   map[string]float64
	balance  float64
	noAvg    bool // Report fills without an average price
	partial  float64
	limitOK  bool
	panicked bool // GetTickers24h panics
	hang     bool // GetCandles blocks until its context is done

	// stopFillsOnClose simulates the exchange stop filling just before a
	// reduce-only market order: the holding goes flat and the order is rejected.
	stopFillsOnClose bool

	listErr     error
	tickersErr  error
	tickerErr   error
	candleErr   map[string]error
	priceErr    map[string]error
	leverageErr error
	marketErr   error
	stopErr     error
	cancelErr   error
	pingErr     error
	balanceErr  error
	positionErr error

	nextID     int64
	calls      []string
	listCalls  int
	leverage   map[string]int
	markets    []ports.OrderRequest
	limits     []ports.OrderRequest
	stops      []ports.OrderRequest
	cancels    []int64
	candleHits map[string]int
	held       map[string]float64 // Signed exchange-side holding
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		ticker:     map[string]*domain.MarketSnapshot{},
		candles:    map[string][]*domain.Kline{},
		prices:     map[string]float64{},
		candleErr:  map[string]error{},
		priceErr:   map[string]error{},
		leverage:   map[string]int{},
		candleHits: map[string]int{},
		held:       map[string]float64{},
		balance:    10000,
		nextID:     100,
	}
}

func (m *mockGateway) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockGateway) ListPerpetualSymbols(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.symbols, m.listErr
}

func (m *mockGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.mu.Lock()
	m.candleHits[symbol]++
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.candleErr[symbol]; err != nil {
		return nil, err
	}
	return m.candles[symbol], nil
}

func (m *mockGateway) GetTicker24h(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerErr != nil {
		return nil, m.tickerErr
	}
	t, ok := m.ticker[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, symbol)
	}
	return t, nil
}

func (m *mockGateway) GetTickers24h(ctx context.Context) ([]*domain.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicked {
		panic("ticker decode blew up")
	}
	return m.tickers, m.tickersErr
}

func (m *mockGateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.priceErr[symbol]; err != nil {
		return 0, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", ports.ErrNotFound, symbol)
	}
	return p, nil
}

func (m *mockGateway) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockGateway) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("market %s %s", req.Side, req.Symbol))
	m.markets = append(m.markets, req)
	if m.stopFillsOnClose && req.ReduceOnly {
		m.held[req.Symbol] = 0
		return nil, fmt.Errorf("%w: ReduceOnly Order is rejected", ports.ErrOrderPlacementFailed)
	}
	if m.marketErr != nil {
		return nil, m.marketErr
	}
	qty := req.Quantity
	if m.partial > 0 && !req.ReduceOnly {
		qty *= m.partial
	}
	m.fill(req, qty)
	resp := &ports.OrderResponse{OrderID: m.id(), Symbol: req.Symbol, OrigQuantity: req.Quantity, ExecutedQty: qty, Status: "FILLED", Type: "MARKET", Side: string(req.Side)}
	if !m.noAvg {
		resp.AvgPrice = m.prices[req.Symbol]
	}
	return resp, nil
}

func (m *mockGateway) PlaceLimitOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("limit %s %s", req.Side, req.Symbol))
	m.limits = append(m.limits, req)
	resp := &ports.OrderResponse{OrderID: m.id(), Symbol: req.Symbol, Price: req.Price, OrigQuantity: req.Quantity, Type: "LIMIT", Side: string(req.Side), Status: "EXPIRED"}
	if m.limitOK {
		resp.Status = "FILLED"
		resp.ExecutedQty = req.Quantity
		resp.AvgPrice = req.Price
		m.fill(req, req.Quantity)
	}
	return resp, nil
}

func (m *mockGateway) PlaceStopOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("stop %s %s", req.Side, req.Symbol))
	m.stops = append(m.stops, req)
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &ports.OrderResponse{OrderID: m.id(), Symbol: req.Symbol, OrigQuantity: req.Quantity, Status: "NEW", Type: "STOP_MARKET", Side: string(req.Side)}, nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("cancel %d", orderID))
	m.cancels = append(m.cancels, orderID)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: "CANCELED"}, nil
}

func (m *mockGateway) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockGateway) GetPositionAmount(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionErr != nil {
		return 0, m.positionErr
	}
	return m.held[symbol], nil
}

// fill applies an executed quantity to the holding. Reduce-only fills never
// flip it.
func (m *mockGateway) fill(req ports.OrderRequest, qty float64) {
	delta := qty
	if req.Side == domain.Sell {
		delta = -qty
	}
	cur := m.held[req.Symbol]
	next := cur + delta
	if req.ReduceOnly && cur*next < 0 {
		next = 0
	}
	m.held[req.Symbol] = next
}

// stopFilled flattens the holding as if the exchange stop had triggered.
func (m *mockGateway) stopFilled(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[symbol] = 0
}

func (m *mockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("leverage %s %d", symbol, leverage))
	if m.leverageErr != nil {
		return m.leverageErr
	}
	m.leverage[symbol] = leverage
	return nil
}

type mockLedger struct {
	mu        sync.Mutex
	records   []*domain.TradeRecord
	appendErr error
	findErr   error
	sinceArgs []time.Time
	realized  map[time.Time]float64
}

func (m *mockLedger) Append(ctx context.Context, rec *domain.TradeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *mockLedger) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TradeRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].Symbol == symbol {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *mockLedger) FindSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceArgs = append(m.sinceArgs, since)
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.TradeRecord
	for _, r := range m.records {
		if !r.ExitTime.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockLedger) RealizedSince(ctx context.Context, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.realized[since]; ok {
		return v, nil
	}
	sum := 0.0
	for _, r := range m.records {
		if !r.ExitTime.Before(since) {
			sum += r.RealizedPnL
		}
	}
	return sum, nil
}

func (m *mockLedger) reasons() []domain.CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CloseReason, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.CloseReason)
	}
	return out
}

type mockSnapshots struct {
	saved   []*domain.PortfolioSnapshot
	latest  *domain.PortfolioSnapshot
	saveErr error
}

func (m *mockSnapshots) SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.saved = append(m.saved, snap)
	return int64(len(m.saved)), nil
}

func (m *mockSnapshots) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	return m.latest, nil
}

type mockStorage struct{ err error }

func (m *mockStorage) Ping(ctx context.Context) error { return m.err }
