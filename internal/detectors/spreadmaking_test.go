package detectors

import (
	"testing"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// TestSpreadMakingScenarioS4Unchanged: inventory +35 on a 1000-normalizer
// (order_size 100 × 10) gives imbalance 0.035, within max_imbalance, so sizes
// stay unchanged.
func TestSpreadMakingScenarioS4Unchanged(t *testing.T) {
	q := SpreadMakingQuote{TokenID: "Y", MarketID: "M1", Bid: dec("0.50"), Ask: dec("0.55"), SpreadPct: dec("0.10")}
	cfg := SpreadMakingConfig{
		MinSpread:    dec("0.02"),
		OrderSize:    dec("100"),
		MaxImbalance: dec("0.3"),
		PositionSize: func(string) decimal.Decimal { return dec("35") },
	}

	got := SpreadMaking([]SpreadMakingQuote{q}, cfg)
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	maker, ok := got[0].Payload.(types.MakerPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want MakerPayload", got[0].Payload)
	}
	if !maker.OurBid.Equal(dec("0.501")) || !maker.OurAsk.Equal(dec("0.549")) {
		t.Errorf("quotes = %s/%s, want 0.501/0.549", maker.OurBid, maker.OurAsk)
	}
	if !maker.BidSize.Equal(dec("100")) || !maker.AskSize.Equal(dec("100")) {
		t.Errorf("sizes = %s/%s, want unchanged 100/100", maker.BidSize, maker.AskSize)
	}
}

// TestSpreadMakingScenarioS4Skewed: inventory +400 on a 1000-normalizer
// (order_size 100 × 10) -> imbalance 0.4 > 0.3 -> sizes (60, 140).
func TestSpreadMakingScenarioS4Skewed(t *testing.T) {
	q := SpreadMakingQuote{TokenID: "Y", MarketID: "M1", Bid: dec("0.50"), Ask: dec("0.55"), SpreadPct: dec("0.10")}
	cfg := SpreadMakingConfig{
		MinSpread:    dec("0.02"),
		OrderSize:    dec("100"),
		MaxImbalance: dec("0.3"),
		PositionSize: func(string) decimal.Decimal { return dec("400") },
	}

	got := SpreadMaking([]SpreadMakingQuote{q}, cfg)
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	maker := got[0].Payload.(types.MakerPayload)
	if !maker.BidSize.Equal(dec("60")) || !maker.AskSize.Equal(dec("140")) {
		t.Errorf("sizes = %s/%s, want 60/140", maker.BidSize, maker.AskSize)
	}
}

func TestSpreadMakingSkipsBelowMinSpread(t *testing.T) {
	q := SpreadMakingQuote{TokenID: "Y", MarketID: "M1", Bid: dec("0.50"), Ask: dec("0.505"), SpreadPct: dec("0.01")}
	cfg := SpreadMakingConfig{MinSpread: dec("0.02"), OrderSize: dec("100"), MaxImbalance: dec("0.3")}
	got := SpreadMaking([]SpreadMakingQuote{q}, cfg)
	if len(got) != 0 {
		t.Errorf("got %d signals below min spread, want 0", len(got))
	}
}
