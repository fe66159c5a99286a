package detectors

import (
	"testing"

	"arbbot/pkg/types"
)

// TestRangeCoverageScenarioS3 matches spec scenario S3 exactly, including the
// documented off-by-one: the 0.05 leg is rejected because 0.40+0.30+0.15+0.10+0.05=1.00 > 0.98.
func TestRangeCoverageScenarioS3(t *testing.T) {
	m := types.Market{
		ID: "M1",
		Outcomes: []types.MarketOutcome{
			{TokenID: "A", Price: dec("0.40")},
			{TokenID: "B", Price: dec("0.30")},
			{TokenID: "C", Price: dec("0.15")},
			{TokenID: "D", Price: dec("0.10")},
			{TokenID: "E", Price: dec("0.05")},
		},
	}

	got := RangeCoverage([]types.Market{m}, RangeCoverageConfig{
		MaxTotalCost:       dec("0.98"),
		MinOutcomesCovered: 3,
		TargetProfitPct:    dec("0.03"),
		MaxPositionSize:    dec("1000"),
	})

	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	payload, ok := got[0].Payload.(types.CoverPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want CoverPayload", got[0].Payload)
	}
	if len(payload.Legs) != 4 {
		t.Fatalf("got %d legs, want 4 (0.05 leg must be rejected)", len(payload.Legs))
	}

	wantProfit := dec("0.05").Div(dec("0.95")) // (1-0.95)/0.95
	if diff := got[0].ExpectedProfitPct.Sub(wantProfit).Abs(); diff.GreaterThan(dec("0.0001")) {
		t.Errorf("ExpectedProfitPct = %s, want ~%s", got[0].ExpectedProfitPct, wantProfit)
	}
}

func TestRangeCoverageAcceptsExactlyMinOutcomes(t *testing.T) {
	m := types.Market{
		ID: "M1",
		Outcomes: []types.MarketOutcome{
			{TokenID: "A", Price: dec("0.90")},
			{TokenID: "B", Price: dec("0.05")},
			{TokenID: "C", Price: dec("0.02")},
		},
	}
	got := RangeCoverage([]types.Market{m}, RangeCoverageConfig{
		MaxTotalCost: dec("0.98"), MinOutcomesCovered: 3, TargetProfitPct: dec("0.03"), MaxPositionSize: dec("1000"),
	})
	// total = 0.90+0.05+0.02 = 0.97, 3 legs all included, profit = 0.03/0.97 ~ 0.0309 >= 0.03
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
}

func TestRangeCoverageSkipsBinaryMarkets(t *testing.T) {
	m := binaryMarket("M1", "Y", "N")
	got := RangeCoverage([]types.Market{m}, RangeCoverageConfig{MaxTotalCost: dec("0.98"), MinOutcomesCovered: 3, TargetProfitPct: dec("0.03"), MaxPositionSize: dec("1000")})
	if len(got) != 0 {
		t.Errorf("got %d signals for binary market, want 0", len(got))
	}
}

func TestRangeCoverageRejectsBelowProfitTarget(t *testing.T) {
	m := types.Market{
		ID: "M1",
		Outcomes: []types.MarketOutcome{
			{TokenID: "A", Price: dec("0.50")},
			{TokenID: "B", Price: dec("0.30")},
			{TokenID: "C", Price: dec("0.19")},
		},
	}
	// total = 0.99, profit = 0.01/0.99 ~ 1.01% < 25% target
	got := RangeCoverage([]types.Market{m}, RangeCoverageConfig{
		MaxTotalCost: dec("0.995"), MinOutcomesCovered: 3, TargetProfitPct: dec("0.25"), MaxPositionSize: dec("1000"),
	})
	if len(got) != 0 {
		t.Errorf("got %d signals, want 0 (profit below target)", len(got))
	}
}
