package detectors

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

var btcTargetPattern = regexp.MustCompile(`(?i)BTC.*?\b(above|over|reach|below|under)\b.*?\$\s?([\d,]+(?:\.\d+)?)`)

var (
	probFloor = decimal.NewFromFloat(0.05)
	probCeil  = decimal.NewFromFloat(0.95)
)

// LatencyLagConfig tunes the LatencyLag detector. Defaults per spec:
// ExecutionWindow 15min, Threshold 0.02.
type LatencyLagConfig struct {
	ExecutionWindow time.Duration
	Threshold       decimal.Decimal
	MaxPositionSize decimal.Decimal
}

// Impulse is the subset of a PriceImpulse LatencyLag needs.
type Impulse struct {
	Direction  types.ImpulseDirection
	Confidence decimal.Decimal
	ObservedAt time.Time
}

// LatencyLag fires when a recent BTC spot-price impulse hasn't yet been
// reflected in a BTC-threshold binary market's Yes price. It parses the
// market question for a "BTC {above|over|reach|below|under} $X" pattern to
// derive an implied probability from the current spot price, then compares
// that to the market's quoted Yes price.
func LatencyLag(markets []types.Market, yesPrice func(tokenID string) (decimal.Decimal, bool), btcSpot decimal.Decimal, impulse Impulse, now time.Time, cfg LatencyLagConfig) []types.TradeSignal {
	if impulse.ObservedAt.IsZero() || now.Sub(impulse.ObservedAt) > cfg.ExecutionWindow {
		return nil // no recent impulse to act on
	}

	var signals []types.TradeSignal

	for _, m := range markets {
		if m.IsTerminal() || !m.IsBinary() || !m.IsBitcoinRelated() {
			continue
		}

		match := btcTargetPattern.FindStringSubmatch(m.Question)
		if match == nil {
			continue
		}
		direction := strings.ToLower(match[1])
		target, err := strconv.ParseFloat(strings.ReplaceAll(match[2], ",", ""), 64)
		if err != nil || target <= 0 {
			continue
		}
		targetDec := decimal.NewFromFloat(target)

		var impliedProb decimal.Decimal
		var expectIncrease bool
		switch direction {
		case "above", "over", "reach":
			impliedProb = types.ClampDecimal(btcSpot.Div(targetDec), probFloor, probCeil)
			expectIncrease = impulse.Direction == types.ImpulseUp
		case "below", "under":
			impliedProb = types.ClampDecimal(decimal.NewFromInt(1).Sub(btcSpot.Div(targetDec)), probFloor, probCeil)
			expectIncrease = impulse.Direction == types.ImpulseDown
		default:
			continue
		}

		if !expectIncrease {
			continue
		}

		yesToken := m.Outcomes[0].TokenID
		currentYes, ok := yesPrice(yesToken)
		if !ok {
			continue
		}

		lag := impliedProb.Sub(currentYes)
		if lag.LessThanOrEqual(cfg.Threshold) {
			continue
		}

		confidence := decimal.NewFromFloat(0.95)
		if cfg.Threshold.IsPositive() {
			ratio := impulse.Confidence.Mul(lag).Div(cfg.Threshold)
			if ratio.LessThan(confidence) {
				confidence = ratio
			}
		}

		signals = append(signals, types.TradeSignal{
			Strategy:          "latency_lag",
			Type:              types.SignalBuy,
			MarketID:          m.ID,
			PrimaryTokenID:    yesToken,
			Side:              types.BUY,
			TargetPrice:       currentYes,
			TargetSize:        cfg.MaxPositionSize.Mul(confidence),
			Confidence:        confidence,
			ExpectedProfitPct: lag,
			Reason:            "BTC spot impulse not yet reflected in market Yes price",
			Payload:           types.DirectionalPayload{TokenID: yesToken},
			GeneratedAt:       now,
		})
	}

	return signals
}
