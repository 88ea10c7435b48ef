package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/metrics"
)

// Reader turns raw aggregator round data into validated PricePoints.
// Timeouts are retried a bounded number of times with exponential backoff;
// validation failures are not.
type Reader struct {
	chain   port.ChainReader
	maxAge  time.Duration
	retries int
	backoff time.Duration
}

func NewReader(chain port.ChainReader, maxAge time.Duration, retries int, backoff time.Duration) *Reader {
	return &Reader{chain: chain, maxAge: maxAge, retries: retries, backoff: backoff}
}

// Read fetches and validates the feed with the default freshness window.
func (r *Reader) Read(ctx context.Context, coinID string, m *model.FeedMapping) (*model.PricePoint, error) {
	return r.ReadWithMaxAge(ctx, coinID, m, r.maxAge)
}

// ReadWithMaxAge is Read with a caller-chosen freshness window; batch
// snapshotting tolerates older rounds than interactive reads.
func (r *Reader) ReadWithMaxAge(ctx context.Context, coinID string, m *model.FeedMapping, maxAge time.Duration) (*model.PricePoint, error) {
	rd, err := r.readRound(ctx, m)
	if err != nil {
		metrics.OracleRead("error")
		return nil, err
	}

	price := decimalPrice(rd.Answer, rd.Decimals)
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		metrics.OracleRead("invalid")
		return nil, fmt.Errorf("%w: %s answer=%s decimals=%d", model.ErrInvalidValue, coinID, rd.Answer, rd.Decimals)
	}

	now := time.Now()
	age := now.Sub(rd.UpdatedAt)
	if age < 0 {
		// Future timestamp means clock skew or a broken feed, not
		// staleness.
		metrics.OracleRead("invalid")
		return nil, fmt.Errorf("%w: %s updated_at in the future", model.ErrInvalidValue, coinID)
	}

	metrics.OracleRead("ok")
	return &model.PricePoint{
		CoinID:    coinID,
		Price:     price,
		UpdatedAt: rd.UpdatedAt,
		FetchedAt: now,
		Source:    model.SourceOracle,
		Stale:     age > maxAge,
	}, nil
}

func (r *Reader) readRound(ctx context.Context, m *model.FeedMapping) (*port.RoundData, error) {
	delay := r.backoff
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		rd, err := r.chain.ReadAggregator(ctx, m.Chain, m.Address)
		if err == nil {
			return rd, nil
		}
		lastErr = err
		if !errors.Is(err, model.ErrUpstreamTimeout) {
			break
		}
	}
	return nil, lastErr
}

func decimalPrice(answer *big.Int, decimals uint8) float64 {
	if answer == nil {
		return 0
	}
	f := new(big.Float).SetInt(answer)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
