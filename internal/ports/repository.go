package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// TradeLedger is the append-only store of realized closes.
type TradeLedger interface {
	// Append saves a trade record and returns its assigned ID.
	Append(ctx context.Context, rec *domain.TradeRecord) (int64, error)
	// FindBySymbol retrieves the most recent records for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error)
	// FindSince retrieves records whose exit time is at or after since, oldest first.
	FindSince(ctx context.Context, since time.Time) ([]*domain.TradeRecord, error)
	// RealizedSince sums realized PnL for records closed at or after since.
	RealizedSince(ctx context.Context, since time.Time) (float64, error)
}

// SnapshotRepository persists periodic portfolio snapshots.
type SnapshotRepository interface {
	// SaveSnapshot stores a snapshot and returns its assigned ID.
	SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) (int64, error)
	// LatestSnapshot returns the most recent snapshot, or nil, nil if none exist.
	LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error)
}
