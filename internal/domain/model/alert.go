package model

import "time"

// Alert conditions and statuses.
const (
	ConditionAbove = "above"
	ConditionBelow = "below"

	AlertActive    = "active"
	AlertTriggered = "triggered"
)

// AlertRule fires at most once: the transition active -> triggered is
// irreversible and a triggered rule is never re-evaluated.
type AlertRule struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	CoinID      string     `json:"coin_id"`
	TargetPrice float64    `json:"target_price"`
	Condition   string     `json:"condition"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

// Crossed reports whether the rule fires at the given price.
func (r *AlertRule) Crossed(price float64) bool {
	switch r.Condition {
	case ConditionAbove:
		return price >= r.TargetPrice
	case ConditionBelow:
		return price <= r.TargetPrice
	}
	return false
}
