package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS feeds (
  coin_id TEXT NOT NULL,
  chain TEXT NOT NULL,
  address TEXT NOT NULL,
  discovery TEXT NOT NULL,
  last_verified_at INTEGER NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  UNIQUE(coin_id, chain)
);
CREATE INDEX IF NOT EXISTS idx_feeds_coin ON feeds(coin_id);

CREATE TABLE IF NOT EXISTS prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  coin_id TEXT NOT NULL,
  price REAL NOT NULL,
  source TEXT NOT NULL,
  stale INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prices_coin ON prices(coin_id, id);
CREATE INDEX IF NOT EXISTS idx_prices_created ON prices(created_at);

CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  coin_id TEXT NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_coin_ts ON snapshots(coin_id, ts_ms);

CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  coin_id TEXT NOT NULL,
  target_price REAL NOT NULL,
  condition TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  triggered_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_alerts_status_coin ON alerts(status, coin_id);
CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id);
`)
	return err
}

// --- feeds ---

func (r *Repo) GetFeed(ctx context.Context, coinID string) (*model.FeedMapping, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT coin_id, chain, address, discovery, last_verified_at
		FROM feeds WHERE coin_id=? AND active=1
		ORDER BY last_verified_at DESC LIMIT 1`, coinID)
	return scanFeed(row)
}

func scanFeed(row *sql.Row) (*model.FeedMapping, error) {
	var m model.FeedMapping
	var verified int64
	err := row.Scan(&m.CoinID, &m.Chain, &m.Address, &m.Discovery, &verified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.LastVerifiedAt = time.UnixMilli(verified)
	return &m, nil
}

func (r *Repo) SaveFeed(ctx context.Context, m *model.FeedMapping) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feeds(coin_id, chain, address, discovery, last_verified_at, active)
		VALUES(?, ?, ?, ?, ?, 1)
		ON CONFLICT(coin_id, chain) DO UPDATE SET
		address=excluded.address, discovery=excluded.discovery,
		last_verified_at=excluded.last_verified_at, active=1
	`, m.CoinID, m.Chain, m.Address, m.Discovery, m.LastVerifiedAt.UnixMilli())
	return err
}

func (r *Repo) ListFeeds(ctx context.Context) ([]*model.FeedMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT coin_id, chain, address, discovery, last_verified_at
		FROM feeds WHERE active=1 ORDER BY coin_id, chain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FeedMapping
	for rows.Next() {
		var m model.FeedMapping
		var verified int64
		if err := rows.Scan(&m.CoinID, &m.Chain, &m.Address, &m.Discovery, &verified); err != nil {
			return nil, err
		}
		m.LastVerifiedAt = time.UnixMilli(verified)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteFeed(ctx context.Context, coinID, chain string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE coin_id=? AND chain=?`, coinID, chain)
	return err
}

// --- price history (durable cache tier) ---

func (r *Repo) AppendPrice(ctx context.Context, p *model.PricePoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices(coin_id, price, source, stale, updated_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, p.CoinID, p.Price, string(p.Source), boolToInt(p.Stale), p.UpdatedAt.UnixMilli(), p.FetchedAt.UnixMilli())
	return err
}

func (r *Repo) LatestPrice(ctx context.Context, coinID string) (*model.PricePoint, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT coin_id, price, source, stale, updated_at, created_at
		FROM prices WHERE coin_id=? ORDER BY id DESC LIMIT 1`, coinID)

	var p model.PricePoint
	var src string
	var stale int
	var updated, created int64
	err := row.Scan(&p.CoinID, &p.Price, &src, &stale, &updated, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Source = model.Source(src)
	p.Stale = stale != 0
	p.UpdatedAt = time.UnixMilli(updated)
	p.FetchedAt = time.UnixMilli(created)
	return &p, nil
}

// --- snapshots ---

func (r *Repo) AppendSnapshots(ctx context.Context, snaps []*model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots(coin_id, price, ts_ms) VALUES(?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx, s.CoinID, s.Price, s.Ts.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) LatestSnapshot(ctx context.Context, coinID string) (*model.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT coin_id, price, ts_ms FROM snapshots
		WHERE coin_id=? ORDER BY ts_ms DESC LIMIT 1`, coinID)
	return scanSnapshot(row)
}

func (r *Repo) OldestSnapshotSince(ctx context.Context, coinID string, since time.Time) (*model.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT coin_id, price, ts_ms FROM snapshots
		WHERE coin_id=? AND ts_ms>=? ORDER BY ts_ms ASC LIMIT 1`, coinID, since.UnixMilli())
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*model.Snapshot, error) {
	var s model.Snapshot
	var ts int64
	err := row.Scan(&s.CoinID, &s.Price, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Ts = time.UnixMilli(ts)
	return &s, nil
}

func (r *Repo) SnapshotsSince(ctx context.Context, coinID string, since time.Time) ([]*model.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT coin_id, price, ts_ms FROM snapshots
		WHERE coin_id=? AND ts_ms>=? ORDER BY ts_ms ASC`, coinID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		var ts int64
		if err := rows.Scan(&s.CoinID, &s.Price, &ts); err != nil {
			return nil, err
		}
		s.Ts = time.UnixMilli(ts)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteOlderThan(ctx context.Context, before time.Time) error {
	ms := before.UnixMilli()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE ts_ms<?`, ms); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM prices WHERE created_at<?`, ms)
	return err
}

// --- alerts ---

func (r *Repo) CreateAlert(ctx context.Context, a *model.AlertRule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts(id, owner_id, coin_id, target_price, condition, status, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.OwnerID, a.CoinID, a.TargetPrice, a.Condition, a.Status, a.CreatedAt.UnixMilli())
	return err
}

func (r *Repo) ListAlerts(ctx context.Context, ownerID string) ([]*model.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, coin_id, target_price, condition, status, created_at, triggered_at
		FROM alerts WHERE owner_id=? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *Repo) ActiveAlertsFor(ctx context.Context, coinIDs []string) ([]*model.AlertRule, error) {
	if len(coinIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(coinIDs)), ",")
	args := make([]any, 0, len(coinIDs)+1)
	args = append(args, model.AlertActive)
	for _, id := range coinIDs {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, coin_id, target_price, condition, status, created_at, triggered_at
		FROM alerts WHERE status=? AND coin_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]*model.AlertRule, error) {
	var out []*model.AlertRule
	for rows.Next() {
		var a model.AlertRule
		var created int64
		var triggered sql.NullInt64
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.CoinID, &a.TargetPrice, &a.Condition, &a.Status, &created, &triggered); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(created)
		if triggered.Valid {
			t := time.UnixMilli(triggered.Int64)
			a.TriggeredAt = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET status=?, triggered_at=? WHERE id=? AND status=?
	`, model.AlertTriggered, at.UnixMilli(), id, model.AlertActive)
	return err
}

func (r *Repo) DeleteAlert(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ port.Store = (*Repo)(nil)
