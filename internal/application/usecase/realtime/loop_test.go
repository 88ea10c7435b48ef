package realtime

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/usecase/pricing"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/config"
)

type loopChain struct {
	mu    sync.Mutex
	price float64
	reads int
}

func (c *loopChain) Chains() []string { return []string{"ethereum"} }

func (c *loopChain) ReadAggregator(context.Context, string, string) (*port.RoundData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return &port.RoundData{
		Answer:    big.NewInt(int64(c.price * 1e8)),
		UpdatedAt: time.Now(),
		Decimals:  8,
	}, nil
}

func (c *loopChain) LookupFeed(context.Context, string, string) (string, error) { return "", nil }

func (c *loopChain) setPrice(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = p
}

func (c *loopChain) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type loopFeedStore struct{}

func (s *loopFeedStore) GetFeed(context.Context, string) (*model.FeedMapping, error) {
	return nil, nil
}
func (s *loopFeedStore) SaveFeed(context.Context, *model.FeedMapping) error      { return nil }
func (s *loopFeedStore) ListFeeds(context.Context) ([]*model.FeedMapping, error) { return nil, nil }
func (s *loopFeedStore) DeleteFeed(context.Context, string, string) error        { return nil }

type loopHistory struct{}

func (loopHistory) AppendPrice(context.Context, *model.PricePoint) error { return nil }
func (loopHistory) LatestPrice(context.Context, string) (*model.PricePoint, error) {
	return nil, nil
}
func (loopHistory) AppendSnapshots(context.Context, []*model.Snapshot) error { return nil }
func (loopHistory) LatestSnapshot(context.Context, string) (*model.Snapshot, error) {
	return nil, nil
}
func (loopHistory) OldestSnapshotSince(context.Context, string, time.Time) (*model.Snapshot, error) {
	return nil, nil
}
func (loopHistory) SnapshotsSince(context.Context, string, time.Time) ([]*model.Snapshot, error) {
	return nil, nil
}
func (loopHistory) DeleteOlderThan(context.Context, time.Time) error { return nil }

func newLoopService(chain *loopChain) *pricing.Service {
	coins := []config.Coin{{ID: "bitcoin", Symbol: "btc", Pair: "btc-usd", Feed: "0xBTC"}}
	chains := []config.Chain{{Name: "ethereum", RPCURL: "http://localhost:8545"}}
	norm := pricing.NewNormalizer(coins)
	resolver := pricing.NewResolver(coins, chains, &loopFeedStore{}, chain)
	reader := pricing.NewReader(chain, time.Hour, 0, time.Millisecond)
	ttl := pricing.NewTTLPolicy(nil, norm.Universe(), 50)
	cache := pricing.NewCacheManager(16, nil, loopHistory{}, ttl, time.Hour, time.Hour, time.Minute)
	return pricing.NewService(norm, resolver, reader, cache, time.Millisecond, 24*time.Hour)
}

func TestLoopIdleTickDoesNoWork(t *testing.T) {
	chain := &loopChain{price: 50000}
	svc := newLoopService(chain)
	hub := NewHub()
	l := NewLoop(svc, hub, nil, time.Second)

	l.tick(context.Background())
	if got := chain.readCount(); got != 0 {
		t.Errorf("idle tick read the chain %d times", got)
	}

	// A connection with no subscriptions is still idle.
	hub.Register(NewConn("c1"))
	l.tick(context.Background())
	if got := chain.readCount(); got != 0 {
		t.Errorf("tick with no subscriptions read the chain %d times", got)
	}
}

func TestLoopBroadcastsOnlyChanges(t *testing.T) {
	chain := &loopChain{price: 50000}
	svc := newLoopService(chain)
	hub := NewHub()
	conn := NewConn("c1")
	hub.Register(conn)
	hub.Subscribe("c1", []string{"bitcoin"})
	l := NewLoop(svc, hub, nil, time.Second)
	ctx := context.Background()

	l.tick(ctx)
	msg := recvPrices(t, conn)
	if p := msg.Prices["bitcoin"]; p == nil || p.Price != 50000 {
		t.Fatalf("first tick sent %+v, want 50000", msg.Prices)
	}

	// Unchanged price: no message.
	time.Sleep(2 * time.Millisecond)
	l.tick(ctx)
	select {
	case raw := <-conn.Send:
		t.Fatalf("unchanged price broadcast: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}

	chain.setPrice(51000)
	if _, err := svc.ClearCoin(ctx, "bitcoin"); err != nil {
		t.Fatalf("ClearCoin failed: %v", err)
	}
	l.tick(ctx)
	msg = recvPrices(t, conn)
	if p := msg.Prices["bitcoin"]; p == nil || p.Price != 51000 {
		t.Errorf("change tick sent %+v, want 51000", msg.Prices)
	}
}

func TestLoopTriggersAlerts(t *testing.T) {
	chain := &loopChain{price: 150}
	svc := newLoopService(chain)
	hub := NewHub()
	watcher := NewConn("c1")
	hub.Register(watcher)
	hub.Subscribe("c1", []string{"bitcoin"})
	owner := NewConn("c2")
	hub.Register(owner)
	hub.Join("c2", "user-1")

	store := newFakeAlertStore(aboveRule("a1", "bitcoin", 100))
	l := NewLoop(svc, hub, NewAlertEngine(store, hub), time.Second)

	l.tick(context.Background())

	if got := store.status("a1"); got != model.AlertTriggered {
		t.Fatalf("alert status = %q, want triggered", got)
	}
	select {
	case raw := <-owner.Send:
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil || env.Type != "alert_triggered" {
			t.Errorf("owner received %s, want alert_triggered envelope", raw)
		}
	case <-time.After(time.Second):
		t.Error("owner did not receive alert")
	}
}
