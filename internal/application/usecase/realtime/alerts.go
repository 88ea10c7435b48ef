package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
)

type alertNotice struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	CoinID      string    `json:"coin_id"`
	Condition   string    `json:"condition"`
	TargetPrice float64   `json:"target_price"`
	Price       float64   `json:"price"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlertEngine checks active alert rules against each distribution batch.
// A rule fires at most once: the store transition from active to triggered
// is the single gate, and delivery is best-effort after that.
type AlertEngine struct {
	alerts port.AlertStore
	hub    *Hub
}

func NewAlertEngine(alerts port.AlertStore, hub *Hub) *AlertEngine {
	return &AlertEngine{alerts: alerts, hub: hub}
}

// Evaluate matches the batch's usable prices against active rules. Stale or
// unavailable points never trigger alerts.
func (e *AlertEngine) Evaluate(ctx context.Context, prices map[string]*model.PricePoint) {
	coinIDs := make([]string, 0, len(prices))
	usable := make(map[string]float64, len(prices))
	for coinID, p := range prices {
		if p == nil || p.Source != model.SourceOracle || p.Stale || p.Price <= 0 {
			continue
		}
		coinIDs = append(coinIDs, coinID)
		usable[coinID] = p.Price
	}
	if len(coinIDs) == 0 {
		return
	}

	rules, err := e.alerts.ActiveAlertsFor(ctx, coinIDs)
	if err != nil {
		log.Warn().Err(err).Msg("active alert lookup failed")
		return
	}

	for _, rule := range rules {
		price, ok := usable[rule.CoinID]
		if !ok || !rule.Crossed(price) {
			continue
		}
		now := time.Now()
		if err := e.alerts.MarkTriggered(ctx, rule.ID, now); err != nil {
			log.Warn().Err(err).Str("alert", rule.ID).Msg("alert transition failed")
			continue
		}
		log.Info().
			Str("alert", rule.ID).
			Str("coin", rule.CoinID).
			Str("condition", rule.Condition).
			Float64("target", rule.TargetPrice).
			Float64("price", price).
			Msg("alert triggered")
		e.hub.SendToUser(rule.OwnerID, alertNotice{
			Type:        "alert_triggered",
			ID:          rule.ID,
			CoinID:      rule.CoinID,
			Condition:   rule.Condition,
			TargetPrice: rule.TargetPrice,
			Price:       price,
			TriggeredAt: now,
		})
	}
}
