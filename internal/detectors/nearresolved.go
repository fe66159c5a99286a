package detectors

import (
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// NearResolvedConfig tunes the NearResolved detector. Defaults per spec:
// MinProbability 0.95, MaxProbability 0.99, MaxTimeToResolution 24h.
type NearResolvedConfig struct {
	MinProbability      decimal.Decimal
	MaxProbability      decimal.Decimal
	MaxTimeToResolution time.Duration
	Capital             decimal.Decimal
}

var (
	nearResolvedFloor   = decimal.NewFromFloat(0.90)
	nearResolvedRange   = decimal.NewFromFloat(0.10)
	nearResolvedFraction = decimal.NewFromFloat(0.20)
)

// NearResolved scans every non-terminal market for an outcome whose mid
// price sits near certainty and whose market is about to close, sizing the
// buy in proportion to how far above the floor the probability already sits.
func NearResolved(markets []types.Market, now time.Time, cfg NearResolvedConfig) []types.TradeSignal {
	var signals []types.TradeSignal

	for _, m := range markets {
		if m.IsTerminal() {
			continue
		}
		if m.EndTime.IsZero() || m.EndTime.Before(now) {
			continue
		}
		if m.EndTime.Sub(now) > cfg.MaxTimeToResolution {
			continue
		}

		for _, o := range m.Outcomes {
			if o.Price.LessThan(cfg.MinProbability) || o.Price.GreaterThan(cfg.MaxProbability) {
				continue
			}

			scaled := types.ClampDecimal(
				o.Price.Sub(nearResolvedFloor).Div(nearResolvedRange),
				decimal.Zero, decimal.NewFromInt(1),
			)
			dollars := cfg.Capital.Mul(scaled).Mul(nearResolvedFraction)
			if o.Price.IsZero() {
				continue
			}
			size := dollars.Div(o.Price)
			if !size.IsPositive() {
				continue
			}

			signals = append(signals, types.TradeSignal{
				Strategy:          "near_resolved",
				Type:              types.SignalBuy,
				MarketID:          m.ID,
				PrimaryTokenID:    o.TokenID,
				Side:              types.BUY,
				TargetPrice:       o.Price,
				TargetSize:        size,
				Confidence:        o.Price,
				ExpectedProfitPct: decimal.NewFromInt(1).Sub(o.Price),
				Reason:            "outcome probability near resolution with short time-to-end",
				Payload:           types.DirectionalPayload{TokenID: o.TokenID},
				GeneratedAt:       now,
			})
		}
	}

	return signals
}
