package port

import (
	"context"
	"time"

	"pricepulse/internal/domain/model"
)

// SharedCache is the network cache tier shared across instances. It is
// optional infrastructure: a nil implementation just lowers the hit rate,
// and a failing one degrades to the next tier.
type SharedCache interface {
	// Get returns (point, true, nil) on a hit and (nil, false, nil) on a
	// clean miss.
	Get(ctx context.Context, coinID string) (*model.PricePoint, bool, error)
	Set(ctx context.Context, coinID string, p *model.PricePoint, ttl time.Duration) error
	Delete(ctx context.Context, coinID string) error
}
