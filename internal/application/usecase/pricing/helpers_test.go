package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/config"
)

type fakeChain struct {
	mu      sync.Mutex
	chains  []string
	rounds  map[string]*port.RoundData // "chain|addr"
	readErr map[string]error
	feeds   map[string]string // "chain|token" -> aggregator
	lookErr map[string]error

	timeoutsBefore map[string]int
	delay          time.Duration

	reads   int
	lookups int
}

func newFakeChain(chains ...string) *fakeChain {
	if len(chains) == 0 {
		chains = []string{"ethereum"}
	}
	return &fakeChain{
		chains:         chains,
		rounds:         make(map[string]*port.RoundData),
		readErr:        make(map[string]error),
		feeds:          make(map[string]string),
		lookErr:        make(map[string]error),
		timeoutsBefore: make(map[string]int),
	}
}

func (f *fakeChain) Chains() []string { return f.chains }

func (f *fakeChain) ReadAggregator(ctx context.Context, chain, addr string) (*port.RoundData, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	key := chain + "|" + addr
	if n := f.timeoutsBefore[key]; n > 0 {
		f.timeoutsBefore[key] = n - 1
		return nil, model.ErrUpstreamTimeout
	}
	if err := f.readErr[key]; err != nil {
		return nil, err
	}
	rd, ok := f.rounds[key]
	if !ok {
		return nil, fmt.Errorf("no round for %s", key)
	}
	return rd, nil
}

func (f *fakeChain) LookupFeed(_ context.Context, chain, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	key := chain + "|" + token
	if err := f.lookErr[key]; err != nil {
		return "", err
	}
	return f.feeds[key], nil
}

func (f *fakeChain) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeChain) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeChain) setRound(chain, addr string, rd *port.RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds[chain+"|"+addr] = rd
}

func round8(price float64, updatedAt time.Time) *port.RoundData {
	scaled := new(big.Int).SetInt64(int64(price * 1e8))
	return &port.RoundData{Answer: scaled, UpdatedAt: updatedAt, Decimals: 8}
}

type fakeFeedStore struct {
	mu    sync.Mutex
	feeds map[string]*model.FeedMapping
	saves int
}

func newFakeFeedStore() *fakeFeedStore {
	return &fakeFeedStore{feeds: make(map[string]*model.FeedMapping)}
}

func (f *fakeFeedStore) GetFeed(_ context.Context, coinID string) (*model.FeedMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeds[coinID], nil
}

func (f *fakeFeedStore) SaveFeed(_ context.Context, m *model.FeedMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[m.CoinID] = m
	f.saves++
	return nil
}

func (f *fakeFeedStore) ListFeeds(context.Context) ([]*model.FeedMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.FeedMapping, 0, len(f.feeds))
	for _, m := range f.feeds {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeFeedStore) DeleteFeed(_ context.Context, coinID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.feeds, coinID)
	return nil
}

type fakeHistory struct {
	mu          sync.Mutex
	latest      map[string]*model.PricePoint
	appended    []*model.PricePoint
	latestCalls int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{latest: make(map[string]*model.PricePoint)}
}

func (f *fakeHistory) AppendPrice(_ context.Context, p *model.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, p)
	f.latest[p.CoinID] = p
	return nil
}

func (f *fakeHistory) LatestPrice(_ context.Context, coinID string) (*model.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	return f.latest[coinID], nil
}

func (f *fakeHistory) AppendSnapshots(context.Context, []*model.Snapshot) error { return nil }

func (f *fakeHistory) LatestSnapshot(context.Context, string) (*model.Snapshot, error) {
	return nil, nil
}

func (f *fakeHistory) OldestSnapshotSince(context.Context, string, time.Time) (*model.Snapshot, error) {
	return nil, nil
}

func (f *fakeHistory) SnapshotsSince(context.Context, string, time.Time) ([]*model.Snapshot, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteOlderThan(context.Context, time.Time) error { return nil }

func (f *fakeHistory) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type fakeShared struct {
	mu      sync.Mutex
	items   map[string]*model.PricePoint
	deletes []string
}

func newFakeShared() *fakeShared {
	return &fakeShared{items: make(map[string]*model.PricePoint)}
}

func (f *fakeShared) Get(_ context.Context, coinID string) (*model.PricePoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[coinID]
	return p, ok, nil
}

func (f *fakeShared) Set(_ context.Context, coinID string, p *model.PricePoint, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[coinID] = p
	return nil
}

func (f *fakeShared) Delete(_ context.Context, coinID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, coinID)
	f.deletes = append(f.deletes, coinID)
	return nil
}

var (
	_ port.ChainReader  = (*fakeChain)(nil)
	_ port.FeedStore    = (*fakeFeedStore)(nil)
	_ port.PriceHistory = (*fakeHistory)(nil)
	_ port.SharedCache  = (*fakeShared)(nil)
)

func testCoins() []config.Coin {
	return []config.Coin{
		{ID: "bitcoin", Symbol: "btc", Pair: "btc-usd", Aliases: []string{"xbt"}, Feed: "0xBTC"},
		{ID: "ethereum", Symbol: "eth", Pair: "eth-usd", Feed: "0xETH"},
	}
}

func testChainsCfg() []config.Chain {
	return []config.Chain{{Name: "ethereum", RPCURL: "http://localhost:8545"}}
}

func newTestService(chain *fakeChain, microAge time.Duration) (*Service, *fakeHistory) {
	coins := testCoins()
	norm := NewNormalizer(coins)
	hist := newFakeHistory()
	resolver := NewResolver(coins, testChainsCfg(), newFakeFeedStore(), chain)
	reader := NewReader(chain, time.Hour, 1, time.Millisecond)
	ttl := NewTTLPolicy(nil, norm.Universe(), 50)
	cache := NewCacheManager(16, nil, hist, ttl, time.Hour, time.Hour, time.Minute)
	return NewService(norm, resolver, reader, cache, microAge, 24*time.Hour), hist
}
