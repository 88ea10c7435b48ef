package port

import (
	"context"
	"math/big"
	"time"
)

// RoundData is the raw result of an aggregator read before validation.
type RoundData struct {
	Answer    *big.Int
	UpdatedAt time.Time
	Decimals  uint8
}

// ChainReader performs the two on-chain operations the pricing core needs:
// reading an aggregator and asking a feed registry for one. Implementations
// own per-call timeouts against their RPC endpoints.
type ChainReader interface {
	// ReadAggregator fetches latestRoundData and decimals from the
	// aggregator at addr on the named chain.
	ReadAggregator(ctx context.Context, chain, addr string) (*RoundData, error)

	// LookupFeed asks the chain's feed registry for the USD aggregator of
	// the given base token. Returns "" when the registry has no answer or
	// the chain has no registry configured.
	LookupFeed(ctx context.Context, chain, baseToken string) (string, error)

	// Chains lists configured chain names in resolution priority order.
	Chains() []string
}
