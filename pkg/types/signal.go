package types

import "github.com/shopspring/decimal"

// SignalPayload carries leg-specific data for a TradeSignal. The source
// system used an untyped attribute bag for this; here it is a closed set of
// concrete types so the Executor can type-switch to plan legs instead of
// doing runtime attribute lookups.
type SignalPayload interface {
	isSignalPayload()
}

// DirectionalPayload is carried by single-leg Buy/Sell signals (NearResolved
// and LatencyLag).
type DirectionalPayload struct {
	TokenID string
}

func (DirectionalPayload) isSignalPayload() {}

// PairPayload is carried by BuyPair/SellPair signals (Parity).
type PairPayload struct {
	YesTokenID string
	NoTokenID  string
	YesPrice   decimal.Decimal
	NoPrice    decimal.Decimal
}

func (PairPayload) isSignalPayload() {}

// CoverPayload is carried by CoverSet signals (RangeCoverage).
type CoverPayload struct {
	Legs []CoverLeg
}

func (CoverPayload) isSignalPayload() {}

// CoverLeg is one outcome's planned buy within a CoverPayload.
type CoverLeg struct {
	TokenID string
	Price   decimal.Decimal
	Weight  decimal.Decimal // proportional to this leg's price
}

// MakerPayload is carried by the two-sided Buy+Sell quote pair emitted by
// SpreadMaking.
type MakerPayload struct {
	TokenID  string
	OurBid   decimal.Decimal
	OurAsk   decimal.Decimal
	BidSize  decimal.Decimal
	AskSize  decimal.Decimal
}

func (MakerPayload) isSignalPayload() {}
