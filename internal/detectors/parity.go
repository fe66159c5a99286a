package detectors

import (
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// Parity thresholds: the sum of yes.ask+no.ask must drop below buyParityMax
// to buy the pair, or the sum of yes.bid+no.bid must rise above sellParityMin
// to sell it. Chosen to leave headroom against fees/slippage around the 1.0
// no-arbitrage line, per the repository's fixed parity thresholds.
var (
	buyParityMax  = decimal.NewFromFloat(0.995)
	sellParityMin = decimal.NewFromFloat(1.005)
)

// ParityConfig tunes the Parity detector.
type ParityConfig struct {
	MaxPositionSize decimal.Decimal
	TargetProfitPct decimal.Decimal
	HasPairInventory func(marketID string) bool
}

// BookQuote is the narrow book view a detector needs: best bid/ask for one
// token. Detectors depend on this instead of *book.Book directly so they stay
// pure functions over data, testable without standing up a real book.
type BookQuote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Parity scans every binary market for a Yes/No arbitrage: buy both legs
// when their combined ask is cheap enough to guarantee a payout of 1.0, or
// (if already holding pair inventory) sell both when their combined bid
// exceeds 1.0 by enough margin.
func Parity(markets []types.Market, quotes func(tokenID string) (BookQuote, bool), cfg ParityConfig) []types.TradeSignal {
	var signals []types.TradeSignal

	for _, m := range markets {
		if !m.IsBinary() || m.IsTerminal() {
			continue
		}
		yesToken := m.Outcomes[0].TokenID
		noToken := m.Outcomes[1].TokenID

		yesQuote, ok := quotes(yesToken)
		if !ok {
			continue
		}
		noQuote, ok := quotes(noToken)
		if !ok {
			continue
		}

		askTotal := yesQuote.Ask.Add(noQuote.Ask)
		bidTotal := yesQuote.Bid.Add(noQuote.Bid)

		switch {
		case askTotal.LessThan(buyParityMax):
			profitPct := decimal.NewFromInt(1).Sub(askTotal).Div(askTotal)
			signals = append(signals, buildParitySignal(m, yesToken, noToken, yesQuote.Ask, noQuote.Ask, types.SignalBuyPair, profitPct, cfg))

		case bidTotal.GreaterThan(sellParityMin):
			if cfg.HasPairInventory == nil || !cfg.HasPairInventory(m.ID) {
				continue // SellPair requires existing pair inventory, else skip
			}
			profitPct := bidTotal.Sub(decimal.NewFromInt(1)).Div(bidTotal)
			signals = append(signals, buildParitySignal(m, yesToken, noToken, yesQuote.Bid, noQuote.Bid, types.SignalSellPair, profitPct, cfg))
		}
	}

	return signals
}

func buildParitySignal(m types.Market, yesToken, noToken string, yesPrice, noPrice decimal.Decimal, sigType types.SignalType, profitPct decimal.Decimal, cfg ParityConfig) types.TradeSignal {
	total := yesPrice.Add(noPrice)
	size := decimal.Zero
	if total.IsPositive() {
		size = cfg.MaxPositionSize.Div(total)
	}

	confidence := decimal.NewFromFloat(0.95)
	if cfg.TargetProfitPct.IsPositive() {
		ratio := profitPct.Div(cfg.TargetProfitPct)
		if ratio.LessThan(confidence) {
			confidence = ratio
		}
	}
	if confidence.IsNegative() {
		confidence = decimal.Zero
	}

	return types.TradeSignal{
		Strategy:          "parity",
		Type:              sigType,
		MarketID:          m.ID,
		PrimaryTokenID:    yesToken,
		TargetSize:        size,
		Confidence:        confidence,
		ExpectedProfitPct: profitPct,
		Reason:            "yes/no combined price diverges from parity",
		Payload: types.PairPayload{
			YesTokenID: yesToken,
			NoTokenID:  noToken,
			YesPrice:   yesPrice,
			NoPrice:    noPrice,
		},
		GeneratedAt: time.Now(),
	}
}
