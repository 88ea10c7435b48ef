package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/config"
)

// Resolver finds the aggregator contract for a coin. Resolution order:
// operator-pinned manual mapping, then previously discovered mappings from
// the feed store, then a live registry lookup across chains in priority
// order. Registry failures are treated as "no answer from this chain" and
// never abort resolution.
type Resolver struct {
	manual      map[string]string            // coinID -> pinned aggregator
	manualChain string                       // chain manual pins live on
	tokens      map[string]map[string]string // coinID -> chain -> token address
	feeds       port.FeedStore
	chain       port.ChainReader
}

func NewResolver(coins []config.Coin, chains []config.Chain, feeds port.FeedStore, reader port.ChainReader) *Resolver {
	r := &Resolver{
		manual:      make(map[string]string),
		manualChain: "ethereum",
		tokens:      make(map[string]map[string]string),
		feeds:       feeds,
		chain:       reader,
	}
	if len(chains) > 0 {
		r.manualChain = chains[0].Name
	}
	for _, c := range coins {
		if addr := strings.TrimSpace(c.Feed); addr != "" {
			r.manual[c.ID] = addr
		}
		if len(c.Tokens) > 0 {
			m := make(map[string]string, len(c.Tokens))
			for chain, addr := range c.Tokens {
				m[strings.ToLower(chain)] = addr
			}
			r.tokens[c.ID] = m
		}
	}
	return r
}

// Resolve returns the active feed mapping for a canonical coin id, or
// ErrNoFeedFound when every strategy is exhausted. Callers treat that as
// "currently unpriceable", not fatal.
func (r *Resolver) Resolve(ctx context.Context, coinID string) (*model.FeedMapping, error) {
	if addr, ok := r.manual[coinID]; ok {
		m := &model.FeedMapping{
			CoinID:         coinID,
			Chain:          r.manualChain,
			Address:        addr,
			Discovery:      model.DiscoveryManual,
			LastVerifiedAt: time.Now(),
		}
		r.persist(ctx, m)
		return m, nil
	}

	if cached, err := r.feeds.GetFeed(ctx, coinID); err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("feed store lookup failed")
	} else if cached != nil {
		return cached, nil
	}

	if m := r.discover(ctx, coinID); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrNoFeedFound, coinID)
}

// Rediscover re-runs resolution for a coin, skipping the stored mapping so
// the registry answer wins over whatever was persisted earlier. Manual pins
// still short-circuit. Returns (nil, nil) for a coin that has neither a pin
// nor tokens to look up.
func (r *Resolver) Rediscover(ctx context.Context, coinID string) (*model.FeedMapping, error) {
	if addr, ok := r.manual[coinID]; ok {
		m := &model.FeedMapping{
			CoinID:         coinID,
			Chain:          r.manualChain,
			Address:        addr,
			Discovery:      model.DiscoveryManual,
			LastVerifiedAt: time.Now(),
		}
		r.persist(ctx, m)
		return m, nil
	}
	if _, ok := r.tokens[coinID]; !ok {
		return nil, nil
	}
	if m := r.discover(ctx, coinID); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrNoFeedFound, coinID)
}

// discover walks the chains in priority order asking each registry for the
// coin's aggregator, persisting the first hit.
func (r *Resolver) discover(ctx context.Context, coinID string) *model.FeedMapping {
	for _, chain := range r.chain.Chains() {
		base, ok := r.tokens[coinID][chain]
		if !ok {
			continue
		}
		addr, err := r.chain.LookupFeed(ctx, chain, base)
		if err != nil {
			// No answer from this chain; try the next one.
			log.Debug().Err(err).Str("coin", coinID).Str("chain", chain).Msg("registry lookup failed")
			continue
		}
		if addr == "" {
			continue
		}
		m := &model.FeedMapping{
			CoinID:         coinID,
			Chain:          chain,
			Address:        addr,
			Discovery:      model.DiscoveryRegistry,
			LastVerifiedAt: time.Now(),
		}
		r.persist(ctx, m)
		log.Info().Str("coin", coinID).Str("chain", chain).Str("address", addr).Msg("feed discovered via registry")
		return m
	}
	return nil
}

func (r *Resolver) persist(ctx context.Context, m *model.FeedMapping) {
	if err := r.feeds.SaveFeed(ctx, m); err != nil {
		log.Warn().Err(err).Str("coin", m.CoinID).Str("chain", m.Chain).Msg("persist feed mapping failed")
	}
}
