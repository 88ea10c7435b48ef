package pricing

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
)

func btcMapping() *model.FeedMapping {
	return &model.FeedMapping{CoinID: "bitcoin", Chain: "ethereum", Address: "0xBTC"}
}

func TestReaderScalesDecimals(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", &port.RoundData{
		Answer:    big.NewInt(5_000_000_000_000),
		UpdatedAt: time.Now(),
		Decimals:  8,
	})
	r := NewReader(chain, time.Hour, 0, time.Millisecond)

	p, err := r.Read(context.Background(), "bitcoin", btcMapping())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if math.Abs(p.Price-50000) > 1e-9 {
		t.Errorf("price = %v, want 50000", p.Price)
	}
	if p.Stale {
		t.Error("fresh round marked stale")
	}
	if p.Source != model.SourceOracle {
		t.Errorf("source = %q, want oracle", p.Source)
	}
}

func TestReaderMarksOldRoundStale(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", round8(50000, time.Now().Add(-2*time.Hour)))
	r := NewReader(chain, time.Hour, 0, time.Millisecond)

	p, err := r.Read(context.Background(), "bitcoin", btcMapping())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !p.Stale {
		t.Error("two hour old round not marked stale with one hour window")
	}
}

func TestReaderWiderWindowAcceptsOldRound(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", round8(50000, time.Now().Add(-2*time.Hour)))
	r := NewReader(chain, time.Hour, 0, time.Millisecond)

	p, err := r.ReadWithMaxAge(context.Background(), "bitcoin", btcMapping(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ReadWithMaxAge failed: %v", err)
	}
	if p.Stale {
		t.Error("round within the widened window marked stale")
	}
}

func TestReaderRejectsNonPositiveAnswer(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", &port.RoundData{
		Answer:    big.NewInt(0),
		UpdatedAt: time.Now(),
		Decimals:  8,
	})
	r := NewReader(chain, time.Hour, 0, time.Millisecond)

	if _, err := r.Read(context.Background(), "bitcoin", btcMapping()); !errors.Is(err, model.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for zero answer, got %v", err)
	}
}

func TestReaderRejectsFutureTimestamp(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", round8(50000, time.Now().Add(time.Minute)))
	r := NewReader(chain, time.Hour, 0, time.Millisecond)

	if _, err := r.Read(context.Background(), "bitcoin", btcMapping()); !errors.Is(err, model.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for future timestamp, got %v", err)
	}
}

func TestReaderRetriesTimeouts(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", round8(50000, time.Now()))
	chain.timeoutsBefore["ethereum|0xBTC"] = 2
	r := NewReader(chain, time.Hour, 2, time.Millisecond)

	p, err := r.Read(context.Background(), "bitcoin", btcMapping())
	if err != nil {
		t.Fatalf("Read failed after retries: %v", err)
	}
	if p.Price != 50000 {
		t.Errorf("price = %v, want 50000", p.Price)
	}
	if got := chain.readCount(); got != 3 {
		t.Errorf("read count = %d, want 3", got)
	}
}

func TestReaderGivesUpAfterRetryBudget(t *testing.T) {
	chain := newFakeChain()
	chain.setRound("ethereum", "0xBTC", round8(50000, time.Now()))
	chain.timeoutsBefore["ethereum|0xBTC"] = 5
	r := NewReader(chain, time.Hour, 1, time.Millisecond)

	if _, err := r.Read(context.Background(), "bitcoin", btcMapping()); !errors.Is(err, model.ErrUpstreamTimeout) {
		t.Errorf("expected ErrUpstreamTimeout, got %v", err)
	}
	if got := chain.readCount(); got != 2 {
		t.Errorf("read count = %d, want 2", got)
	}
}

func TestReaderDoesNotRetryOtherErrors(t *testing.T) {
	chain := newFakeChain()
	chain.readErr["ethereum|0xBTC"] = errors.New("execution reverted")
	r := NewReader(chain, time.Hour, 3, time.Millisecond)

	if _, err := r.Read(context.Background(), "bitcoin", btcMapping()); err == nil {
		t.Fatal("expected error")
	}
	if got := chain.readCount(); got != 1 {
		t.Errorf("read count = %d, want 1 (no retry on non-timeout)", got)
	}
}
