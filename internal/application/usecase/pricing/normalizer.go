package pricing

import (
	"fmt"
	"strings"

	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/config"
)

// Normalizer maps every accepted spelling of a coin (canonical id, symbol,
// pair id, aliases) to the canonical id used for cache keys and feed
// lookups. Lookups only ever hit the configured tables: a slug that matches
// nothing is rejected, never passed through as a plausible-looking key.
type Normalizer struct {
	canonical map[string]string // accepted form -> canonical id
	pairs     map[string]string // canonical id -> oracle pair id
	symbols   map[string]string // canonical id -> symbol
	order     []string          // canonical ids in config order
}

func NewNormalizer(coins []config.Coin) *Normalizer {
	n := &Normalizer{
		canonical: make(map[string]string),
		pairs:     make(map[string]string),
		symbols:   make(map[string]string),
	}
	for _, c := range coins {
		n.order = append(n.order, c.ID)
		n.pairs[c.ID] = c.Pair
		n.symbols[c.ID] = c.Symbol
		n.register(c.ID, c.ID)
		n.register(c.Symbol, c.ID)
		n.register(c.Pair, c.ID)
		n.register(strings.TrimSuffix(c.Pair, "-usd"), c.ID)
		for _, a := range c.Aliases {
			n.register(a, c.ID)
		}
	}
	return n
}

func (n *Normalizer) register(form, canonicalID string) {
	form = strings.ToLower(strings.TrimSpace(form))
	if form == "" {
		return
	}
	// First registration wins so a coin's own id can't be shadowed by
	// another coin's alias.
	if _, ok := n.canonical[form]; !ok {
		n.canonical[form] = canonicalID
	}
}

// Normalize resolves raw to a canonical id or fails with
// ErrUnknownIdentifier. Idempotent: normalizing a canonical id returns it.
func (n *Normalizer) Normalize(raw string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return "", fmt.Errorf("%w: empty identifier", model.ErrUnknownIdentifier)
	}
	for _, cand := range n.candidates(lower) {
		if id, ok := n.canonical[cand]; ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", model.ErrUnknownIdentifier, raw)
}

func (n *Normalizer) candidates(lower string) []string {
	slug := slugify(lower)
	out := []string{lower}
	if slug != lower {
		out = append(out, slug)
	}
	if base := strings.TrimSuffix(slug, "-usd"); base != slug {
		out = append(out, base)
	}
	return out
}

// IsSupported reports whether id resolves to a configured coin.
func (n *Normalizer) IsSupported(id string) bool {
	_, err := n.Normalize(id)
	return err == nil
}

// Pair returns the oracle pair id for a canonical coin id.
func (n *Normalizer) Pair(canonicalID string) string { return n.pairs[canonicalID] }

// Symbol returns the ticker symbol for a canonical coin id.
func (n *Normalizer) Symbol(canonicalID string) string { return n.symbols[canonicalID] }

// Universe lists all canonical ids in configuration order.
func (n *Normalizer) Universe() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

func slugify(s string) string {
	var b strings.Builder
	prevDash := true // trim leading dashes
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
