package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/usecase/pricing"
	"pricepulse/internal/domain/model"
)

type lastState struct {
	price float64
	stale bool
}

// Loop drives realtime distribution: every tick it prices the union of all
// subscribed coins and pushes only what changed since the previous tick.
// With no connections or no subscriptions a tick is a no-op, so an idle
// server does no upstream work.
type Loop struct {
	svc      *pricing.Service
	hub      *Hub
	alerts   *AlertEngine
	interval time.Duration

	last map[string]lastState
}

func NewLoop(svc *pricing.Service, hub *Hub, alerts *AlertEngine, interval time.Duration) *Loop {
	return &Loop{
		svc:      svc,
		hub:      hub,
		alerts:   alerts,
		interval: interval,
		last:     make(map[string]lastState),
	}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", l.interval).Msg("distribution loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("distribution loop stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.hub.ConnCount() == 0 {
		return
	}
	coins := l.hub.ActiveCoins()
	if len(coins) == 0 {
		return
	}

	prices := l.svc.GetPricesRealtime(ctx, coins)

	changed := make(map[string]*model.PricePoint)
	for coinID, p := range prices {
		if p == nil {
			continue
		}
		prev, seen := l.last[coinID]
		if seen && prev.price == p.Price && prev.stale == p.Stale {
			continue
		}
		l.last[coinID] = lastState{price: p.Price, stale: p.Stale}
		changed[coinID] = p
	}

	// Drop state for coins nobody watches anymore, so a resubscribe later
	// is treated as fresh.
	if len(l.last) > len(coins) {
		watched := make(map[string]struct{}, len(coins))
		for _, id := range coins {
			watched[id] = struct{}{}
		}
		for id := range l.last {
			if _, ok := watched[id]; !ok {
				delete(l.last, id)
			}
		}
	}

	if len(changed) > 0 {
		l.hub.BroadcastPrices(changed)
	}
	if l.alerts != nil {
		l.alerts.Evaluate(ctx, prices)
	}
}
