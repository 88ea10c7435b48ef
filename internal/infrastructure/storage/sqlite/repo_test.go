package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricepulse/internal/domain/model"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repo failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFeedUpsert(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first := &model.FeedMapping{
		CoinID: "bitcoin", Chain: "ethereum", Address: "0xOLD",
		Discovery: model.DiscoveryRegistry, LastVerifiedAt: time.Now().Add(-time.Hour),
	}
	if err := r.SaveFeed(ctx, first); err != nil {
		t.Fatalf("SaveFeed failed: %v", err)
	}
	second := &model.FeedMapping{
		CoinID: "bitcoin", Chain: "ethereum", Address: "0xNEW",
		Discovery: model.DiscoveryManual, LastVerifiedAt: time.Now(),
	}
	if err := r.SaveFeed(ctx, second); err != nil {
		t.Fatalf("SaveFeed upsert failed: %v", err)
	}

	got, err := r.GetFeed(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if got == nil || got.Address != "0xNEW" || got.Discovery != model.DiscoveryManual {
		t.Errorf("feed = %+v, want upserted 0xNEW manual", got)
	}

	feeds, err := r.ListFeeds(ctx)
	if err != nil {
		t.Fatalf("ListFeeds failed: %v", err)
	}
	if len(feeds) != 1 {
		t.Errorf("feed rows = %d, want 1 after upsert", len(feeds))
	}
}

func TestFeedMissAndDelete(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	got, err := r.GetFeed(ctx, "nothing")
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing feed, got %+v", got)
	}

	m := &model.FeedMapping{
		CoinID: "bitcoin", Chain: "ethereum", Address: "0xA",
		Discovery: model.DiscoveryManual, LastVerifiedAt: time.Now(),
	}
	if err := r.SaveFeed(ctx, m); err != nil {
		t.Fatalf("SaveFeed failed: %v", err)
	}
	if err := r.DeleteFeed(ctx, "bitcoin", "ethereum"); err != nil {
		t.Fatalf("DeleteFeed failed: %v", err)
	}
	if got, _ := r.GetFeed(ctx, "bitcoin"); got != nil {
		t.Errorf("feed survived delete: %+v", got)
	}
}

func TestPriceHistoryLatest(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if got, err := r.LatestPrice(ctx, "bitcoin"); err != nil || got != nil {
		t.Fatalf("empty latest = %+v, %v; want nil, nil", got, err)
	}

	base := time.Now().Add(-time.Minute)
	for i, price := range []float64{49000, 50000, 51000} {
		p := &model.PricePoint{
			CoinID: "bitcoin", Price: price,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
			FetchedAt: base.Add(time.Duration(i) * time.Second),
			Source:    model.SourceOracle,
		}
		if err := r.AppendPrice(ctx, p); err != nil {
			t.Fatalf("AppendPrice failed: %v", err)
		}
	}

	got, err := r.LatestPrice(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("LatestPrice failed: %v", err)
	}
	if got.Price != 51000 || got.Source != model.SourceOracle || got.Stale {
		t.Errorf("latest = %+v, want newest fresh oracle point at 51000", got)
	}
}

func TestSnapshotQueries(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	snaps := []*model.Snapshot{
		{CoinID: "bitcoin", Price: 90, Ts: now.Add(-30 * time.Hour)},
		{CoinID: "bitcoin", Price: 100, Ts: now.Add(-20 * time.Hour)},
		{CoinID: "bitcoin", Price: 110, Ts: now.Add(-time.Hour)},
		{CoinID: "ethereum", Price: 3000, Ts: now.Add(-time.Hour)},
	}
	if err := r.AppendSnapshots(ctx, snaps); err != nil {
		t.Fatalf("AppendSnapshots failed: %v", err)
	}

	latest, err := r.LatestSnapshot(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if latest == nil || latest.Price != 110 {
		t.Errorf("latest snapshot = %+v, want 110", latest)
	}

	oldest, err := r.OldestSnapshotSince(ctx, "bitcoin", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("OldestSnapshotSince failed: %v", err)
	}
	if oldest == nil || oldest.Price != 100 {
		t.Errorf("oldest in window = %+v, want 100 (30h row excluded)", oldest)
	}

	series, err := r.SnapshotsSince(ctx, "bitcoin", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SnapshotsSince failed: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("series length = %d, want 2", len(series))
	}
	if series[0].Price != 100 || series[1].Price != 110 {
		t.Errorf("series not oldest-first: %v, %v", series[0].Price, series[1].Price)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := r.AppendSnapshots(ctx, []*model.Snapshot{
		{CoinID: "bitcoin", Price: 90, Ts: now.Add(-8 * 24 * time.Hour)},
		{CoinID: "bitcoin", Price: 110, Ts: now.Add(-time.Hour)},
	}); err != nil {
		t.Fatalf("AppendSnapshots failed: %v", err)
	}
	old := &model.PricePoint{
		CoinID: "bitcoin", Price: 90,
		UpdatedAt: now.Add(-8 * 24 * time.Hour), FetchedAt: now.Add(-8 * 24 * time.Hour),
		Source: model.SourceOracle,
	}
	if err := r.AppendPrice(ctx, old); err != nil {
		t.Fatalf("AppendPrice failed: %v", err)
	}

	if err := r.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour)); err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}

	series, err := r.SnapshotsSince(ctx, "bitcoin", now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("SnapshotsSince failed: %v", err)
	}
	if len(series) != 1 || series[0].Price != 110 {
		t.Errorf("post-sweep series = %+v, want only the fresh row", series)
	}
	if got, _ := r.LatestPrice(ctx, "bitcoin"); got != nil {
		t.Errorf("price row survived sweep: %+v", got)
	}
}

func TestAlertLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	rule := &model.AlertRule{
		ID: "a1", OwnerID: "user-1", CoinID: "bitcoin",
		TargetPrice: 100, Condition: model.ConditionAbove,
		Status: model.AlertActive, CreatedAt: time.Now(),
	}
	if err := r.CreateAlert(ctx, rule); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	active, err := r.ActiveAlertsFor(ctx, []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("ActiveAlertsFor failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a1" {
		t.Fatalf("active alerts = %+v, want [a1]", active)
	}
	if got, _ := r.ActiveAlertsFor(ctx, []string{"ethereum"}); len(got) != 0 {
		t.Errorf("alert matched wrong coin: %+v", got)
	}

	firstAt := time.Now()
	if err := r.MarkTriggered(ctx, "a1", firstAt); err != nil {
		t.Fatalf("MarkTriggered failed: %v", err)
	}
	if got, _ := r.ActiveAlertsFor(ctx, []string{"bitcoin"}); len(got) != 0 {
		t.Errorf("triggered alert still active: %+v", got)
	}

	// Re-triggering is a no-op: the transition is irreversible.
	if err := r.MarkTriggered(ctx, "a1", firstAt.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkTriggered failed: %v", err)
	}
	list, err := r.ListAlerts(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("alerts = %d, want 1", len(list))
	}
	a := list[0]
	if a.Status != model.AlertTriggered || a.TriggeredAt == nil {
		t.Fatalf("alert = %+v, want triggered with timestamp", a)
	}
	if a.TriggeredAt.UnixMilli() != firstAt.UnixMilli() {
		t.Errorf("triggered_at = %v, want first transition time %v", a.TriggeredAt, firstAt)
	}

	if err := r.DeleteAlert(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAlert failed: %v", err)
	}
	if got, _ := r.ListAlerts(ctx, "user-1"); len(got) != 0 {
		t.Errorf("alert survived delete: %+v", got)
	}
}
