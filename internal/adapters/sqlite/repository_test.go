package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	// Create temporary directory for test database
	tmpDir, err := os.MkdirTemp("", "perpbot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	// Return cleanup function
	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

var base = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func record(symbol string, pnl float64, exit time.Time, reason domain.CloseReason) *domain.TradeRecord {
	return &domain.TradeRecord{
		PositionID:  "pos-" + symbol,
		Symbol:      symbol,
		Side:        domain.SideLong,
		EntryPrice:  100,
		ExitPrice:   100 + pnl/10,
		Quantity:    10,
		Notional:    1000,
		Leverage:    3,
		RealizedPnL: pnl,
		PnLPct:      pnl / 10,
		Confidence:  64.5,
		EntryTime:   exit.Add(-2 * time.Hour),
		ExitTime:    exit,
		CloseReason: reason,
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_AppendAndFindBySymbol(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := record("SOLUSDT", -80, base, domain.CloseReasonStopLoss)
	partial := record("SOLUSDT", 40, base.Add(time.Hour), domain.CloseReasonTakeProfit1)
	partial.Partial = true
	other := record("ADAUSDT", 10, base.Add(2*time.Hour), domain.CloseReasonTimeLimit)

	for _, rec := range []*domain.TradeRecord{first, partial, other} {
		id, err := repo.Append(ctx, rec)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))
		assert.Equal(t, id, rec.ID)
	}

	found, err := repo.FindBySymbol(ctx, "SOLUSDT", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)

	// Most recent first
	assert.Equal(t, partial.ID, found[0].ID)
	assert.True(t, found[0].Partial)
	assert.Equal(t, domain.CloseReasonTakeProfit1, found[0].CloseReason)
	assert.Equal(t, first.ID, found[1].ID)
	assert.Equal(t, domain.SideLong, found[1].Side)
	assert.Equal(t, -80.0, found[1].RealizedPnL)
	assert.Equal(t, 64.5, found[1].Confidence)
	assert.Equal(t, "pos-SOLUSDT", found[1].PositionID)
	assert.True(t, found[1].ExitTime.Equal(base))
	assert.Equal(t, 2*time.Hour, found[1].HoldDuration())

	limited, err := repo.FindBySymbol(ctx, "SOLUSDT", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.FindBySymbol(ctx, "XRPUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_FindSinceAndRealizedSince(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	yesterday := base.Add(-24 * time.Hour)
	for _, rec := range []*domain.TradeRecord{
		record("SOLUSDT", -100, yesterday, domain.CloseReasonStopLoss),
		record("ADAUSDT", 50, base, domain.CloseReasonTakeProfit2),
		record("XRPUSDT", -20, base.Add(time.Minute), domain.CloseReasonReplaced),
	} {
		_, err := repo.Append(ctx, rec)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		since     time.Time
		wantCount int
		wantSum   float64
	}{
		{name: "everything", since: yesterday.Add(-time.Hour), wantCount: 3, wantSum: -70},
		{name: "boundary is inclusive", since: base, wantCount: 2, wantSum: 30},
		{name: "latest only", since: base.Add(30 * time.Second), wantCount: 1, wantSum: -20},
		{name: "future", since: base.Add(time.Hour), wantCount: 0, wantSum: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := repo.FindSince(ctx, tt.since)
			require.NoError(t, err)
			assert.Len(t, recs, tt.wantCount)
			for i := 1; i < len(recs); i++ {
				assert.False(t, recs[i].ExitTime.Before(recs[i-1].ExitTime), "records must be oldest first")
			}

			sum, err := repo.RealizedSince(ctx, tt.since)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSum, sum, 1e-9)
		})
	}
}

func TestRepository_Snapshots(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	latest, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	state := domain.NewPortfolioState(10000, base)
	state.Positions = append(state.Positions, &domain.Position{
		ID: "abc", Symbol: "SOLUSDT", Side: domain.SideShort, EntryPrice: 100, EntryTime: base,
		CurrentPrice: 95, Size: 1000, Quantity: 10, Leverage: 2, StopLoss: 108,
		TakeProfit1: 80, TakeProfit2: 30, Confidence: 77, UnrealizedPnL: 50, UnrealizedPnLPct: 5,
		Status: domain.StatusOpen, StopOrderID: 42,
	})
	state.PeakEquity = 10100

	first := state.Snapshot(base)
	_, err = repo.SaveSnapshot(ctx, first)
	require.NoError(t, err)

	state.Halt = domain.HaltSoft
	state.HaltReason = "daily loss limit reached"
	second := state.Snapshot(base.Add(5 * time.Minute))
	id, err := repo.SaveSnapshot(ctx, second)
	require.NoError(t, err)

	latest, err = repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.True(t, latest.TakenAt.Equal(base.Add(5*time.Minute)))
	assert.Equal(t, domain.HaltSoft, latest.Halt)
	assert.Equal(t, "daily loss limit reached", latest.HaltReason)
	assert.Equal(t, 10100.0, latest.PeakEquity)
	assert.Equal(t, 10050.0, latest.Equity)
	require.Len(t, latest.Positions, 1)
	p := latest.Positions[0]
	assert.Equal(t, "abc", p.ID)
	assert.Equal(t, domain.SideShort, p.Side)
	assert.Equal(t, 108.0, p.StopLoss)
	assert.Equal(t, int64(42), p.StopOrderID)
	assert.True(t, p.EntryTime.Equal(base))
}

func TestRepository_AppendErrorWrapsSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepositoryFromDB(db, &mockLogger{})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trade_ledger")).
		WillReturnError(errors.New("disk I/O error"))

	_, err = repo.Append(context.Background(), record("SOLUSDT", 1, base, domain.CloseReasonManual))
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RealizedSinceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepositoryFromDB(db, &mockLogger{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(realized_pnl), 0) FROM trade_ledger")).
		WithArgs(base.UnixMilli()).
		WillReturnError(errors.New("locked"))

	_, err = repo.RealizedSince(context.Background(), base)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LatestSnapshotCorruptPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepositoryFromDB(db, &mockLogger{})

	rows := sqlmock.NewRows([]string{"id", "taken_at_ms", "capital", "equity", "peak_equity", "unrealized_pnl",
		"daily_realized_pnl", "weekly_realized_pnl", "trades_today", "halt", "halt_reason", "positions"}).
		AddRow(1, base.UnixMilli(), 1000.0, 1000.0, 1000.0, 0.0, 0.0, 0.0, 0, "NONE", nil, "{not json")
	mock.ExpectQuery(regexp.QuoteMeta("FROM portfolio_snapshots")).WillReturnRows(rows)

	_, err = repo.LatestSnapshot(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepositoryFromDB(db, &mockLogger{})

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	assert.ErrorIs(t, repo.Ping(context.Background()), ports.ErrDBConnection)
}
