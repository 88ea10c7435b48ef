package model

import "time"

// Source identifies where a price point came from.
type Source string

const (
	SourceOracle      Source = "oracle"
	SourceUnavailable Source = "unavailable"
)

// PricePoint is a single oracle reading for a coin. Immutable once produced;
// a new read always yields a new PricePoint.
type PricePoint struct {
	CoinID    string    `json:"coin_id"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"` // source-reported update time
	FetchedAt time.Time `json:"fetched_at"` // when we produced this point
	Source    Source    `json:"source"`
	Stale     bool      `json:"stale"`
}

// Unavailable builds the marker point returned when no usable price exists
// for a coin. Batch responses carry one entry per requested id, so a failed
// id still gets a row.
func Unavailable(coinID string) *PricePoint {
	return &PricePoint{
		CoinID:    coinID,
		Source:    SourceUnavailable,
		FetchedAt: time.Now(),
		Stale:     true,
	}
}

// FeedMapping binds a coin to the aggregator contract that prices it on one
// chain. Keyed by (coin_id, chain); the first successful lookup in resolution
// order is the active one.
type FeedMapping struct {
	CoinID         string    `json:"coin_id"`
	Chain          string    `json:"chain"`
	Address        string    `json:"address"`
	Discovery      string    `json:"discovery"` // manual | registry | cached
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

const (
	DiscoveryManual   = "manual"
	DiscoveryRegistry = "registry"
	DiscoveryCached   = "cached"
)

// Snapshot is an append-only point-in-time price used for rolling-window
// queries. Old rows are swept past the retention horizon.
type Snapshot struct {
	CoinID string    `json:"coin_id"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// WindowChange is the answer to "how did this coin move over a window".
type WindowChange struct {
	CoinID       string    `json:"coin_id"`
	CurrentPrice float64   `json:"current_price"`
	OldPrice     float64   `json:"old_price"`
	PctChange    float64   `json:"pct_change"`
	UpdatedAt    time.Time `json:"updated_at"`
	OldAt        time.Time `json:"old_at"`
}
