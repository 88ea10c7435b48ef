package port

import (
	"context"
	"time"

	"pricepulse/internal/domain/model"
)

// FeedStore persists discovered feed mappings so registry lookups only have
// to succeed once per coin.
type FeedStore interface {
	// GetFeed returns the most recently verified active mapping for a
	// coin, or nil when none is stored.
	GetFeed(ctx context.Context, coinID string) (*model.FeedMapping, error)
	SaveFeed(ctx context.Context, m *model.FeedMapping) error
	ListFeeds(ctx context.Context) ([]*model.FeedMapping, error)
	DeleteFeed(ctx context.Context, coinID, chain string) error
}

// PriceHistory is the durable cache tier. Prices are appended, never
// updated: the store is a time series, so the latest row doubles as the
// tier's answer and history stays queryable.
type PriceHistory interface {
	AppendPrice(ctx context.Context, p *model.PricePoint) error
	// LatestPrice returns the newest stored point for a coin, or nil.
	// Callers apply their own freshness cutoff.
	LatestPrice(ctx context.Context, coinID string) (*model.PricePoint, error)

	AppendSnapshots(ctx context.Context, snaps []*model.Snapshot) error
	LatestSnapshot(ctx context.Context, coinID string) (*model.Snapshot, error)
	// OldestSnapshotSince returns the oldest snapshot at or after the
	// given time, or nil when the window is empty.
	OldestSnapshotSince(ctx context.Context, coinID string, since time.Time) (*model.Snapshot, error)
	SnapshotsSince(ctx context.Context, coinID string, since time.Time) ([]*model.Snapshot, error)
	DeleteOlderThan(ctx context.Context, before time.Time) error
}

// AlertStore persists threshold rules. MarkTriggered is the only state
// transition and is irreversible.
type AlertStore interface {
	CreateAlert(ctx context.Context, r *model.AlertRule) error
	ListAlerts(ctx context.Context, ownerID string) ([]*model.AlertRule, error)
	// ActiveAlertsFor returns only active rules touching the given coins.
	ActiveAlertsFor(ctx context.Context, coinIDs []string) ([]*model.AlertRule, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
	DeleteAlert(ctx context.Context, id string) error
}

// Store is the full durable surface backed by sqlite or postgres.
type Store interface {
	FeedStore
	PriceHistory
	AlertStore
	Close() error
}
