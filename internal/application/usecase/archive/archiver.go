package archive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/usecase/pricing"
	"pricepulse/internal/domain/model"
)

// Archiver samples the whole coin universe on a fixed cadence into the
// snapshot series, computes change-over-window from it, and sweeps rows past
// retention. Snapshots are intentionally decoupled from the request-driven
// price history: the series has a uniform cadence even when nobody queries.
type Archiver struct {
	svc     *pricing.Service
	history port.PriceHistory

	snapshotEvery time.Duration
	sweepEvery    time.Duration
	retention     time.Duration
	reverifyEvery time.Duration
	reverifyTop   int
}

func New(svc *pricing.Service, history port.PriceHistory, snapshotEvery, sweepEvery, retention, reverifyEvery time.Duration, reverifyTop int) *Archiver {
	return &Archiver{
		svc:           svc,
		history:       history,
		snapshotEvery: snapshotEvery,
		sweepEvery:    sweepEvery,
		retention:     retention,
		reverifyEvery: reverifyEvery,
		reverifyTop:   reverifyTop,
	}
}

// Run blocks until ctx is done, taking one snapshot pass immediately so a
// fresh deploy has series data before the first tick.
func (a *Archiver) Run(ctx context.Context) {
	a.takeSnapshots(ctx)

	snap := time.NewTicker(a.snapshotEvery)
	defer snap.Stop()
	sweep := time.NewTicker(a.sweepEvery)
	defer sweep.Stop()
	reverify := time.NewTicker(a.reverifyEvery)
	defer reverify.Stop()
	log.Info().
		Dur("snapshot_every", a.snapshotEvery).
		Dur("retention", a.retention).
		Dur("reverify_every", a.reverifyEvery).
		Msg("archiver started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("archiver stopped")
			return
		case <-snap.C:
			a.takeSnapshots(ctx)
		case <-sweep.C:
			a.sweepOld(ctx)
		case <-reverify.C:
			// Stored mappings can point at a feed the registry has since
			// replaced; re-discover the most queried coins periodically.
			a.svc.ReverifyFeeds(ctx, a.reverifyTop)
		}
	}
}

func (a *Archiver) takeSnapshots(ctx context.Context) {
	universe := a.svc.Universe()
	if len(universe) == 0 {
		return
	}
	prices := a.svc.GetPricesForSnapshot(ctx, universe)

	now := time.Now()
	snaps := make([]*model.Snapshot, 0, len(prices))
	for coinID, p := range prices {
		if p == nil || p.Source != model.SourceOracle || p.Price <= 0 {
			continue
		}
		snaps = append(snaps, &model.Snapshot{CoinID: coinID, Price: p.Price, Ts: now})
	}
	if len(snaps) == 0 {
		log.Warn().Int("universe", len(universe)).Msg("snapshot pass produced no usable prices")
		return
	}
	if err := a.history.AppendSnapshots(ctx, snaps); err != nil {
		log.Error().Err(err).Msg("snapshot append failed")
		return
	}
	log.Debug().Int("coins", len(snaps)).Msg("snapshot pass complete")
}

func (a *Archiver) sweepOld(ctx context.Context) {
	cutoff := time.Now().Add(-a.retention)
	if err := a.history.DeleteOlderThan(ctx, cutoff); err != nil {
		log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	log.Debug().Time("cutoff", cutoff).Msg("retention sweep complete")
}

// ChangeOverWindow compares the newest snapshot against the oldest one
// inside the window. With only one snapshot on record the change is zero by
// definition, not an error.
func (a *Archiver) ChangeOverWindow(ctx context.Context, coinID string, window time.Duration) (*model.WindowChange, error) {
	latest, err := a.history.LatestSnapshot(ctx, coinID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no snapshots for %s", model.ErrUnknownIdentifier, coinID)
	}

	oldest, err := a.history.OldestSnapshotSince(ctx, coinID, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	if oldest == nil {
		oldest = latest
	}

	var pct float64
	if oldest.Price > 0 && oldest.Ts != latest.Ts {
		pct = (latest.Price - oldest.Price) / oldest.Price * 100
		pct = math.Round(pct*10000) / 10000
	}
	return &model.WindowChange{
		CoinID:       coinID,
		CurrentPrice: latest.Price,
		OldPrice:     oldest.Price,
		PctChange:    pct,
		UpdatedAt:    latest.Ts,
		OldAt:        oldest.Ts,
	}, nil
}

// Series returns the snapshot time series from `since` onward, oldest first.
func (a *Archiver) Series(ctx context.Context, coinID string, since time.Time) ([]*model.Snapshot, error) {
	return a.history.SnapshotsSince(ctx, coinID, since)
}
