package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Repository implements the ports.TradeLedger and ports.SnapshotRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/perpbot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := NewRepositoryFromDB(db, cfg.Logger)

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// NewRepositoryFromDB wraps an already opened database. The schema is not touched.
func NewRepositoryFromDB(db *sql.DB, logger ports.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// initializeSchema creates tables if they don't exist. Times are stored as
// unix milliseconds so range queries compare numerically.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		notional REAL NOT NULL,
		leverage INTEGER NOT NULL,
		realized_pnl REAL NOT NULL,
		pnl_pct REAL NOT NULL,
		confidence REAL NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		entry_time_ms INTEGER NOT NULL,
		exit_time_ms INTEGER NOT NULL,
		close_reason TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at_ms INTEGER NOT NULL,
		capital REAL NOT NULL,
		equity REAL NOT NULL,
		peak_equity REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		daily_realized_pnl REAL NOT NULL,
		weekly_realized_pnl REAL NOT NULL,
		trades_today INTEGER NOT NULL,
		halt TEXT NOT NULL,
		halt_reason TEXT NULL,
		positions TEXT NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_trade_ledger_symbol_exit ON trade_ledger (symbol, exit_time_ms);
	CREATE INDEX IF NOT EXISTS idx_trade_ledger_exit ON trade_ledger (exit_time_ms);
	CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_taken ON portfolio_snapshots (taken_at_ms);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

// --- TradeLedger Implementation ---

const tradeColumns = `id, position_id, symbol, side, entry_price, exit_price, quantity, notional, leverage,
	       realized_pnl, pnl_pct, confidence, partial, entry_time_ms, exit_time_ms, close_reason`

// Append saves a trade record and returns its assigned ID.
func (r *Repository) Append(ctx context.Context, rec *domain.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_ledger (position_id, symbol, side, entry_price, exit_price, quantity, notional, leverage,
	                          realized_pnl, pnl_pct, confidence, partial, entry_time_ms, exit_time_ms, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.PositionID, rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExitPrice, rec.Quantity, rec.Notional, rec.Leverage,
		rec.RealizedPnL, rec.PnLPct, rec.Confidence, boolToInt(rec.Partial),
		rec.EntryTime.UnixMilli(), rec.ExitTime.UnixMilli(), string(rec.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade record for symbol %s: %w: %w", rec.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade record %s: %w", rec.Symbol, err)
	}
	rec.ID = id // Update domain object
	r.logger.Debug(ctx, "Trade record appended", map[string]interface{}{"tradeID": id, "symbol": rec.Symbol, "pnl": rec.RealizedPnL, "reason": rec.CloseReason})
	return id, nil
}

// FindBySymbol retrieves the most recent records for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + `
	FROM trade_ledger
	WHERE symbol = ? ORDER BY exit_time_ms DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade ledger for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindSince retrieves records closed at or after since, oldest first.
func (r *Repository) FindSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + `
	FROM trade_ledger
	WHERE exit_time_ms >= ? ORDER BY exit_time_ms ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query trade ledger since %s: %w: %w", since.Format(time.RFC3339), ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// RealizedSince sums realized PnL for records closed at or after since.
func (r *Repository) RealizedSince(ctx context.Context, since time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(realized_pnl), 0) FROM trade_ledger WHERE exit_time_ms >= ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, since.UnixMilli()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized PnL: %w: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// --- SnapshotRepository Implementation ---

// SaveSnapshot stores a snapshot and returns its assigned ID.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) (int64, error) {
	const query = `
	INSERT INTO portfolio_snapshots (taken_at_ms, capital, equity, peak_equity, unrealized_pnl,
	                                 daily_realized_pnl, weekly_realized_pnl, trades_today, halt, halt_reason, positions)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot positions: %w", err)
	}
	var haltReason sql.NullString
	if snap.HaltReason != "" {
		haltReason = sql.NullString{String: snap.HaltReason, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		snap.TakenAt.UnixMilli(), snap.Capital, snap.Equity, snap.PeakEquity, snap.UnrealizedPnL,
		snap.DailyRealizedPnL, snap.WeeklyRealizedPnL, snap.TradesToday, string(snap.Halt), haltReason, string(positions))
	if err != nil {
		return 0, fmt.Errorf("failed to insert portfolio snapshot: %w: %w", ports.ErrQueryFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for snapshot: %w", err)
	}
	snap.ID = id
	r.logger.Debug(ctx, "Portfolio snapshot saved", map[string]interface{}{"snapshotID": id, "positions": len(snap.Positions), "equity": snap.Equity})
	return id, nil
}

// LatestSnapshot returns the most recent snapshot, or nil if none exist.
func (r *Repository) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	const query = `
	SELECT id, taken_at_ms, capital, equity, peak_equity, unrealized_pnl, daily_realized_pnl,
	       weekly_realized_pnl, trades_today, halt, halt_reason, positions
	FROM portfolio_snapshots
	ORDER BY taken_at_ms DESC, id DESC LIMIT 1`

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No portfolio snapshot found")
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query latest snapshot: %w: %w", ports.ErrQueryFailed, err)
	}
	return snap, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectTrades(rows *sql.Rows) ([]*domain.TradeRecord, error) {
	trades := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		trades = append(trades, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade ledger rows: %w", err)
	}
	return trades, nil
}

// scanTrade scans a row into a domain.TradeRecord struct.
func scanTrade(s scanner) (*domain.TradeRecord, error) {
	rec := &domain.TradeRecord{}
	var side, reason string
	var partial int
	var entryMs, exitMs int64
	err := s.Scan(
		&rec.ID, &rec.PositionID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice, &rec.Quantity, &rec.Notional,
		&rec.Leverage, &rec.RealizedPnL, &rec.PnLPct, &rec.Confidence, &partial, &entryMs, &exitMs, &reason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	rec.Side = domain.Side(side)
	rec.CloseReason = domain.CloseReason(reason)
	rec.Partial = partial != 0
	rec.EntryTime = time.UnixMilli(entryMs).UTC()
	rec.ExitTime = time.UnixMilli(exitMs).UTC()
	return rec, nil
}

// scanSnapshot scans a row into a domain.PortfolioSnapshot struct.
func scanSnapshot(s scanner) (*domain.PortfolioSnapshot, error) {
	snap := &domain.PortfolioSnapshot{}
	var takenMs int64
	var halt, positions string
	var haltReason sql.NullString
	err := s.Scan(
		&snap.ID, &takenMs, &snap.Capital, &snap.Equity, &snap.PeakEquity, &snap.UnrealizedPnL, &snap.DailyRealizedPnL,
		&snap.WeeklyRealizedPnL, &snap.TradesToday, &halt, &haltReason, &positions)
	if err != nil {
		return nil, err
	}
	snap.TakenAt = time.UnixMilli(takenMs).UTC()
	snap.Halt = domain.HaltState(halt)
	if haltReason.Valid {
		snap.HaltReason = haltReason.String
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot positions: %w", err)
	}
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
