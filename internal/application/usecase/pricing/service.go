package pricing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"pricepulse/internal/domain/model"
)

// Service answers price queries for batches of coin identifiers. Identical
// concurrent batches are coalesced into one upstream pass; every requested
// identifier gets an entry in the result, falling back to an unavailable
// point rather than failing the batch.
type Service struct {
	norm     *Normalizer
	resolver *Resolver
	reader   *Reader
	cache    *CacheManager

	group singleflight.Group

	microAge       time.Duration
	snapshotMaxAge time.Duration
}

func NewService(norm *Normalizer, resolver *Resolver, reader *Reader, cache *CacheManager, microAge, snapshotMaxAge time.Duration) *Service {
	s := &Service{
		norm:           norm,
		resolver:       resolver,
		reader:         reader,
		cache:          cache,
		microAge:       microAge,
		snapshotMaxAge: snapshotMaxAge,
	}
	cache.SetRefreshFunc(s.refreshCoin)
	return s
}

// Normalize resolves a raw identifier to its canonical coin id.
func (s *Service) Normalize(raw string) (string, error) { return s.norm.Normalize(raw) }

// Universe lists every supported coin id in configured order.
func (s *Service) Universe() []string { return s.norm.Universe() }

// GetPrices returns one point per requested identifier, keyed by canonical
// id. Unknown identifiers map to an unavailable point under their lowercased
// raw form so the caller can still line up the response with the request.
func (s *Service) GetPrices(ctx context.Context, rawIDs []string) map[string]*model.PricePoint {
	results := make(map[string]*model.PricePoint, len(rawIDs))
	seen := make(map[string]struct{}, len(rawIDs))
	canonical := make([]string, 0, len(rawIDs))

	for _, raw := range rawIDs {
		id, err := s.norm.Normalize(raw)
		if err != nil {
			key := strings.ToLower(strings.TrimSpace(raw))
			if key == "" {
				continue
			}
			results[key] = model.Unavailable(key)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		canonical = append(canonical, id)
	}

	if len(canonical) == 0 {
		return results
	}
	for id, p := range s.coalesced(ctx, canonical, 0) {
		results[id] = p
	}
	return results
}

// GetPricesRealtime serves the distribution loop. Identifiers must already
// be canonical. Points fetched within the micro window are reused straight
// from memory; the loop ticks faster than feeds update, so anything newer
// would be wasted upstream calls.
func (s *Service) GetPricesRealtime(ctx context.Context, coinIDs []string) map[string]*model.PricePoint {
	results := make(map[string]*model.PricePoint, len(coinIDs))
	var missing []string
	for _, id := range coinIDs {
		if p := s.cache.GetMemory(id, s.microAge); p != nil {
			results[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		for id, p := range s.coalesced(ctx, missing, 0) {
			results[id] = p
		}
	}
	return results
}

// GetPricesForSnapshot fetches with the relaxed snapshot freshness window:
// a round that is hours old is still a fine sample for the daily series.
func (s *Service) GetPricesForSnapshot(ctx context.Context, coinIDs []string) map[string]*model.PricePoint {
	return s.coalesced(ctx, coinIDs, s.snapshotMaxAge)
}

// TestFeed reads an aggregator once without touching resolution or caches.
// Operators use it to verify an address before pinning it.
func (s *Service) TestFeed(ctx context.Context, chain, address string) (*model.PricePoint, error) {
	m := &model.FeedMapping{CoinID: "feed-test", Chain: chain, Address: address}
	return s.reader.Read(ctx, "feed-test", m)
}

// ClearCoin evicts a coin from the volatile cache tiers.
func (s *Service) ClearCoin(ctx context.Context, rawID string) (string, error) {
	id, err := s.norm.Normalize(rawID)
	if err != nil {
		return "", err
	}
	s.cache.Clear(ctx, id)
	return id, nil
}

// CacheStats reports cumulative tier counters.
func (s *Service) CacheStats() CacheStats { return s.cache.Stats() }

// Warm pre-populates the cache for the first n coins of the universe.
func (s *Service) Warm(ctx context.Context, n int) {
	universe := s.norm.Universe()
	if n <= 0 || len(universe) == 0 {
		return
	}
	if n > len(universe) {
		n = len(universe)
	}
	batch := universe[:n]
	s.coalesced(ctx, batch, 0)
	log.Info().Int("coins", len(batch)).Msg("cache warmed")
}

// flightTimeout bounds a coalesced fetch once it is detached from the
// first caller's context.
const flightTimeout = 30 * time.Second

// coalesced folds identical concurrent batches into a single fetch. The key
// is order-insensitive; the freshness window is part of it so interactive
// and snapshot reads never share a flight.
func (s *Service) coalesced(ctx context.Context, coinIDs []string, maxAge time.Duration) map[string]*model.PricePoint {
	sorted := append([]string(nil), coinIDs...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",") + "|" + maxAge.String()

	v, _, _ := s.group.Do(key, func() (any, error) {
		// The flight serves every coalesced caller, so it must not die
		// with whichever caller happened to start it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return s.fetchBatch(fctx, sorted, maxAge), nil
	})
	return v.(map[string]*model.PricePoint)
}

func (s *Service) fetchBatch(ctx context.Context, coinIDs []string, maxAge time.Duration) map[string]*model.PricePoint {
	out := make(map[string]*model.PricePoint, len(coinIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range coinIDs {
		wg.Add(1)
		go func(coinID string) {
			defer wg.Done()
			p := s.fetchOne(ctx, coinID, maxAge)
			mu.Lock()
			out[coinID] = p
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// fetchOne never returns nil: a coin that cannot be priced right now yields
// an unavailable point so one bad feed cannot sink a batch.
func (s *Service) fetchOne(ctx context.Context, coinID string, maxAge time.Duration) *model.PricePoint {
	if p := s.cache.Get(ctx, coinID); p != nil {
		return p
	}
	p, err := s.fetchFromChain(ctx, coinID, maxAge)
	if err != nil {
		if errors.Is(err, model.ErrNoFeedFound) {
			log.Debug().Str("coin", coinID).Msg("no feed for coin")
		} else {
			log.Warn().Err(err).Str("coin", coinID).Msg("price fetch failed")
		}
		return model.Unavailable(coinID)
	}
	return p
}

func (s *Service) fetchFromChain(ctx context.Context, coinID string, maxAge time.Duration) (*model.PricePoint, error) {
	mapping, err := s.resolver.Resolve(ctx, coinID)
	if err != nil {
		return nil, err
	}
	var p *model.PricePoint
	if maxAge > 0 {
		p, err = s.reader.ReadWithMaxAge(ctx, coinID, mapping, maxAge)
	} else {
		p, err = s.reader.Read(ctx, coinID, mapping)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, p)
	return p, nil
}

// ReverifyFeeds re-runs registry discovery for the first n coins of the
// universe, bypassing stored mappings so a feed the registry has since
// replaced gets picked up. Manual pins stay authoritative.
func (s *Service) ReverifyFeeds(ctx context.Context, n int) {
	universe := s.norm.Universe()
	if n <= 0 || len(universe) == 0 {
		return
	}
	if n > len(universe) {
		n = len(universe)
	}
	updated := 0
	for _, id := range universe[:n] {
		if ctx.Err() != nil {
			return
		}
		m, err := s.resolver.Rediscover(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("coin", id).Msg("feed re-verification found nothing")
			continue
		}
		if m != nil {
			updated++
		}
	}
	log.Info().Int("checked", n).Int("verified", updated).Msg("feed mappings re-verified")
}

// refreshCoin re-reads one coin in the background after a stale cache hit.
func (s *Service) refreshCoin(coinID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.fetchFromChain(ctx, coinID, 0); err != nil {
		log.Debug().Err(err).Str("coin", coinID).Msg("background refresh failed")
	}
}
