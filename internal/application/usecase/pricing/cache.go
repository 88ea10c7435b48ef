package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/metrics"
)

// TierStats is a cumulative hit/miss pair for one tier.
type TierStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// CacheStats is the diagnostic surface exposed on the admin API.
type CacheStats struct {
	Memory        TierStats `json:"memory"`
	Shared        TierStats `json:"shared"`
	Durable       TierStats `json:"durable"`
	Sets          uint64    `json:"sets"`
	MemoryEntries int       `json:"memory_entries"`
	MemoryKeys    []string  `json:"memory_keys"`
}

// CacheManager is a single logical key-value store over three tiers:
// bounded in-process LRU, optional shared redis, and the durable price
// history. Hits below memory are written back into the faster tiers so
// repeated access converges to memory; a hit that is stale triggers a
// background refresh instead of propagating staleness silently.
type CacheManager struct {
	mu  sync.Mutex
	lru *lruCache

	shared  port.SharedCache // nil when no redis configured
	history port.PriceHistory

	ttl           *TTLPolicy
	maxAge        time.Duration
	durableCutoff time.Duration
	sharedTTL     time.Duration

	memHits, memMisses       atomic.Uint64
	sharedHits, sharedMisses atomic.Uint64
	durHits, durMisses       atomic.Uint64
	sets                     atomic.Uint64

	refresh    func(coinID string)
	refreshing sync.Map // coinID -> struct{}
}

func NewCacheManager(maxEntries int, shared port.SharedCache, history port.PriceHistory, ttl *TTLPolicy, maxAge, durableCutoff, sharedTTL time.Duration) *CacheManager {
	return &CacheManager{
		lru:           newLRU(maxEntries),
		shared:        shared,
		history:       history,
		ttl:           ttl,
		maxAge:        maxAge,
		durableCutoff: durableCutoff,
		sharedTTL:     sharedTTL,
	}
}

// SetRefreshFunc installs the background refresh used on stale hits.
func (m *CacheManager) SetRefreshFunc(fn func(coinID string)) { m.refresh = fn }

// Get walks the tiers in order and returns nil on a full miss, signalling
// the caller to fetch from source.
func (m *CacheManager) Get(ctx context.Context, coinID string) *model.PricePoint {
	if p := m.getMemory(coinID, 0, true); p != nil {
		m.maybeRefresh(p)
		return p
	}

	if m.shared != nil {
		p, ok, err := m.shared.Get(ctx, coinID)
		if err != nil {
			log.Debug().Err(err).Str("coin", coinID).Msg("shared tier get failed")
		}
		if ok && p != nil {
			m.sharedHits.Add(1)
			metrics.CacheHit("shared")
			p = m.withFreshness(p)
			m.setMemory(coinID, p)
			m.maybeRefresh(p)
			return p
		}
		m.sharedMisses.Add(1)
		metrics.CacheMiss("shared")
	}

	p, err := m.history.LatestPrice(ctx, coinID)
	if err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("durable tier get failed")
	}
	// The durable tier is never trusted past the freshness cutoff,
	// whatever its own retention says.
	if p != nil && p.Source == model.SourceOracle && time.Since(p.FetchedAt) <= m.durableCutoff {
		m.durHits.Add(1)
		metrics.CacheHit("durable")
		p = m.withFreshness(p)
		m.setMemory(coinID, p)
		m.setShared(coinID, p)
		m.maybeRefresh(p)
		return p
	}
	m.durMisses.Add(1)
	metrics.CacheMiss("durable")
	return nil
}

// withFreshness re-judges the stale flag at serve time: a point cached
// while fresh can cross the age limit sitting in a tier, and the flag must
// reflect the round's age now, not at fetch time.
func (m *CacheManager) withFreshness(p *model.PricePoint) *model.PricePoint {
	if p == nil || p.Stale || m.maxAge <= 0 {
		return p
	}
	if time.Since(p.UpdatedAt) <= m.maxAge {
		return p
	}
	aged := *p
	aged.Stale = true
	return &aged
}

// GetMemory checks only the memory tier, accepting entries fetched within
// maxAge. The realtime loop uses this as its micro-cache: it already polls
// faster than the oracle updates, so walking deeper tiers would only add
// latency. These lookups stay out of the hit/miss counters; at a 1s tick
// they would drown the real tier-walk numbers.
func (m *CacheManager) GetMemory(coinID string, maxAge time.Duration) *model.PricePoint {
	return m.getMemory(coinID, maxAge, false)
}

func (m *CacheManager) getMemory(coinID string, maxAge time.Duration, record bool) *model.PricePoint {
	m.mu.Lock()
	ent, ok := m.lru.get(coinID)
	if ok && time.Now().After(ent.expiresAt) {
		m.lru.delete(coinID)
		ok = false
	}
	if ok && maxAge > 0 && time.Since(ent.point.FetchedAt) > maxAge {
		ok = false
	}
	var p *model.PricePoint
	if ok {
		p = ent.point
	}
	m.mu.Unlock()

	if p == nil {
		if record {
			m.memMisses.Add(1)
			metrics.CacheMiss("memory")
		}
		return nil
	}
	if record {
		m.memHits.Add(1)
		metrics.CacheHit("memory")
	}
	return m.withFreshness(p)
}

// Set writes through all tiers: synchronously to memory, fire-and-forget
// to shared, appended to the durable time series. Unusable points are
// never cached.
func (m *CacheManager) Set(ctx context.Context, p *model.PricePoint) {
	if p == nil || p.Source != model.SourceOracle || p.Price <= 0 {
		return
	}
	m.setMemory(p.CoinID, p)
	m.setShared(p.CoinID, p)
	if err := m.history.AppendPrice(ctx, p); err != nil {
		log.Warn().Err(err).Str("coin", p.CoinID).Msg("durable tier append failed")
	}
	m.sets.Add(1)
}

func (m *CacheManager) setMemory(coinID string, p *model.PricePoint) {
	ttl := m.ttl.TTL(coinID)
	m.mu.Lock()
	m.lru.set(coinID, p, time.Now().Add(ttl))
	m.mu.Unlock()
}

func (m *CacheManager) setShared(coinID string, p *model.PricePoint) {
	if m.shared == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.shared.Set(ctx, coinID, p, m.sharedTTL); err != nil {
			log.Debug().Err(err).Str("coin", coinID).Msg("shared tier set failed")
		}
	}()
}

// Clear drops a coin from the memory and shared tiers. The durable tier is
// a time series and keeps its rows.
func (m *CacheManager) Clear(ctx context.Context, coinID string) {
	m.mu.Lock()
	m.lru.delete(coinID)
	m.mu.Unlock()
	if m.shared != nil {
		if err := m.shared.Delete(ctx, coinID); err != nil {
			log.Debug().Err(err).Str("coin", coinID).Msg("shared tier delete failed")
		}
	}
}

func (m *CacheManager) maybeRefresh(p *model.PricePoint) {
	if !p.Stale || m.refresh == nil {
		return
	}
	if _, inFlight := m.refreshing.LoadOrStore(p.CoinID, struct{}{}); inFlight {
		return
	}
	go func(coinID string) {
		defer m.refreshing.Delete(coinID)
		m.refresh(coinID)
	}(p.CoinID)
}

func (m *CacheManager) Stats() CacheStats {
	m.mu.Lock()
	entries := m.lru.len()
	keys := m.lru.keys()
	m.mu.Unlock()
	return CacheStats{
		Memory:        TierStats{Hits: m.memHits.Load(), Misses: m.memMisses.Load()},
		Shared:        TierStats{Hits: m.sharedHits.Load(), Misses: m.sharedMisses.Load()},
		Durable:       TierStats{Hits: m.durHits.Load(), Misses: m.durMisses.Load()},
		Sets:          m.sets.Load(),
		MemoryEntries: entries,
		MemoryKeys:    keys,
	}
}
