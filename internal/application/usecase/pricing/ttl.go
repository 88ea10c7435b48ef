package pricing

import "time"

// Memory-tier TTLs by volatility bucket. Scarce upstream calls are spent on
// rapidly-changing long-tail assets; stable assets can ride a longer TTL.
const (
	stableTTL   = 5 * time.Minute
	majorTTL    = 2 * time.Minute
	longTailTTL = time.Minute
)

// TTLPolicy assigns each coin a volatility bucket.
type TTLPolicy struct {
	stable map[string]struct{}
	major  map[string]struct{}
}

// NewTTLPolicy buckets the configured stable coins and the first majorCount
// coins of the universe (assumed ordered by market cap, as configured).
func NewTTLPolicy(stableCoins, universe []string, majorCount int) *TTLPolicy {
	p := &TTLPolicy{
		stable: make(map[string]struct{}, len(stableCoins)),
		major:  make(map[string]struct{}),
	}
	for _, id := range stableCoins {
		p.stable[id] = struct{}{}
	}
	for i, id := range universe {
		if i >= majorCount {
			break
		}
		p.major[id] = struct{}{}
	}
	return p
}

func (p *TTLPolicy) TTL(coinID string) time.Duration {
	if _, ok := p.stable[coinID]; ok {
		return stableTTL
	}
	if _, ok := p.major[coinID]; ok {
		return majorTTL
	}
	return longTailTTL
}
