package detectors

import (
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

var oneTick = decimal.NewFromFloat(0.001)

// SpreadMakingConfig tunes the SpreadMaking detector. Defaults per spec:
// MinSpread 0.02, MaxImbalance 0.3.
type SpreadMakingConfig struct {
	MinSpread     decimal.Decimal
	OrderSize     decimal.Decimal
	MaxImbalance  decimal.Decimal
	PositionSize  func(tokenID string) decimal.Decimal // current signed inventory, 0 if flat
}

// SpreadMakingQuote is the book state a token needs to be evaluated for
// spread-making: current touch prices and spread_pct.
type SpreadMakingQuote struct {
	TokenID   string
	MarketID  string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	SpreadPct decimal.Decimal
}

// SpreadMaking quotes both sides one tick inside the touch for every token
// whose spread clears the minimum, shading size by inventory skew so a
// lopsided position gets quoted back toward flat.
func SpreadMaking(quotes []SpreadMakingQuote, cfg SpreadMakingConfig) []types.TradeSignal {
	var signals []types.TradeSignal

	for _, q := range quotes {
		if q.SpreadPct.LessThan(cfg.MinSpread) {
			continue
		}

		ourBid := q.Bid.Add(oneTick)
		ourAsk := q.Ask.Sub(oneTick)
		if !ourBid.LessThan(ourAsk) {
			continue // tick-adjusted quotes would cross; skip this token this round
		}

		position := decimal.Zero
		if cfg.PositionSize != nil {
			position = cfg.PositionSize(q.TokenID)
		}
		normalizer := cfg.OrderSize.Mul(decimal.NewFromInt(10))
		imbalance := decimal.Zero
		if normalizer.IsPositive() {
			imbalance = types.ClampDecimal(position.Div(normalizer), decimal.NewFromInt(-1), decimal.NewFromInt(1))
		}

		bidSize, askSize := cfg.OrderSize, cfg.OrderSize
		if imbalance.Abs().GreaterThan(cfg.MaxImbalance) {
			bidFactor := decimal.NewFromInt(1).Sub(imbalance)
			askFactor := decimal.NewFromInt(1).Add(imbalance)
			bidSize = cfg.OrderSize.Mul(bidFactor)
			askSize = cfg.OrderSize.Mul(askFactor)
		}

		signals = append(signals, types.TradeSignal{
			Strategy:          "spread_making",
			Type:              types.SignalBuy,
			MarketID:          q.MarketID,
			PrimaryTokenID:    q.TokenID,
			TargetPrice:       ourBid,
			TargetSize:        bidSize,
			Confidence:        decimal.NewFromFloat(0.9),
			ExpectedProfitPct: q.SpreadPct.Div(decimal.NewFromInt(2)),
			Reason:            "spread clears minimum, quoting one tick inside touch",
			Payload: types.MakerPayload{
				TokenID: q.TokenID,
				OurBid:  ourBid,
				OurAsk:  ourAsk,
				BidSize: bidSize,
				AskSize: askSize,
			},
			GeneratedAt: time.Now(),
		})
	}

	return signals
}
