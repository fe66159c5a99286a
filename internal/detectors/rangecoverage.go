package detectors

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// RangeCoverageConfig tunes the RangeCoverage detector. Defaults per spec:
// MaxTotalCost 0.98, MinOutcomesCovered 3, TargetProfitPct 0.25.
type RangeCoverageConfig struct {
	MaxTotalCost       decimal.Decimal
	MinOutcomesCovered int
	TargetProfitPct    decimal.Decimal
	MaxPositionSize    decimal.Decimal
}

// RangeCoverage scans every multi-outcome (>=3) market, greedily walking
// outcomes in descending probability and accumulating legs until the next
// addition would exceed max_total_cost. A cover set is only emitted when it
// reaches the minimum outcome count and clears the target profit floor.
func RangeCoverage(markets []types.Market, cfg RangeCoverageConfig) []types.TradeSignal {
	var signals []types.TradeSignal

	for _, m := range markets {
		if m.IsTerminal() || len(m.Outcomes) < 3 {
			continue
		}

		outcomes := append([]types.MarketOutcome(nil), m.Outcomes...)
		sort.Slice(outcomes, func(i, j int) bool {
			return outcomes[i].Price.GreaterThan(outcomes[j].Price)
		})

		var legs []types.CoverLeg
		total := decimal.Zero
		for _, o := range outcomes {
			if o.Price.IsZero() {
				continue
			}
			candidate := total.Add(o.Price)
			if candidate.GreaterThan(cfg.MaxTotalCost) {
				break
			}
			total = candidate
			legs = append(legs, types.CoverLeg{TokenID: o.TokenID, Price: o.Price})
		}

		if len(legs) < cfg.MinOutcomesCovered || total.IsZero() {
			continue
		}

		profitPct := decimal.NewFromInt(1).Sub(total).Div(total)
		if profitPct.LessThan(cfg.TargetProfitPct) {
			continue
		}

		weighted := make([]types.CoverLeg, len(legs))
		for i, l := range legs {
			weighted[i] = types.CoverLeg{
				TokenID: l.TokenID,
				Price:   l.Price,
				Weight:  l.Price.Div(total),
			}
		}

		confidence := decimal.NewFromFloat(0.95)
		if cfg.TargetProfitPct.IsPositive() {
			ratio := profitPct.Div(cfg.TargetProfitPct)
			if ratio.LessThan(confidence) {
				confidence = ratio
			}
		}

		signals = append(signals, types.TradeSignal{
			Strategy:          "range_coverage",
			Type:              types.SignalCoverSet,
			MarketID:          m.ID,
			TargetSize:        cfg.MaxPositionSize,
			Confidence:        confidence,
			ExpectedProfitPct: profitPct,
			Reason:            "greedy outcome cover clears target profit under max total cost",
			Payload:           types.CoverPayload{Legs: weighted},
			GeneratedAt:       time.Now(),
		})
	}

	return signals
}
