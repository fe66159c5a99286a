// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — price facts, order
// book ladders, market metadata, trade signals, and ledger state. It has no
// dependencies on internal packages, so it can be imported by any layer.
//
// All money, price, and probability fields use decimal.Decimal rather than
// float64: comparisons near parity (0.995/1.005) must not be subject to
// binary floating-point rounding.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: patient fills acceptable
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: used for arbitrage legs needing atomicity
	OrderTypeIOC OrderType = "IOC" // Immediate-Or-Cancel: reserved, not used by any detector yet
)

// MarketStatus is the lifecycle state of a CLOB market.
type MarketStatus string

const (
	StatusActive   MarketStatus = "active"
	StatusClosed   MarketStatus = "closed"
	StatusResolved MarketStatus = "resolved"
	StatusDisputed MarketStatus = "disputed"
)

// Resolution is the outcome a resolved market settled to.
type Resolution string

const (
	ResolutionYes     Resolution = "Yes"
	ResolutionNo      Resolution = "No"
	ResolutionUnknown Resolution = "Unknown"
	ResolutionInvalid Resolution = "Invalid"
)

// SignalType enumerates the action a TradeSignal asks the Executor to take.
type SignalType string

const (
	SignalBuy      SignalType = "Buy"
	SignalSell     SignalType = "Sell"
	SignalBuyPair  SignalType = "BuyPair"
	SignalSellPair SignalType = "SellPair"
	SignalCoverSet SignalType = "CoverSet"
)

// PositionSide is the side a Position is held on.
type PositionSide string

const (
	PosYes   PositionSide = "Yes"
	PosNo    PositionSide = "No"
	PosLong  PositionSide = "Long"
	PosShort PositionSide = "Short"
)

// ————————————————————————————————————————————————————————————————————————
// Price facts (component A/B)
// ————————————————————————————————————————————————————————————————————————

// PriceUpdate is an immutable price fact produced by a PriceFeed. Invariant:
// BestBid <= BestAsk whenever both are non-zero.
type PriceUpdate struct {
	Exchange  string
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time // monotonic arrival time, not exchange time
	Raw       []byte    // opaque raw payload, kept for debugging/replay
}

// Mid returns (bid+ask)/2.
func (p PriceUpdate) Mid() decimal.Decimal {
	return p.BestBid.Add(p.BestAsk).Div(decimal.NewFromInt(2))
}

// ExchangePrice tags a price with the venue that quoted it — used wherever
// AggregatedPrice needs to remember which exchange owns the best quote.
type ExchangePrice struct {
	Exchange string
	Price    decimal.Decimal
}

// AggregatedPrice is the per-symbol cross-venue view owned by the
// PriceAggregator. Updated atomically on each inbound PriceUpdate.
type AggregatedPrice struct {
	Symbol    string
	ByExchange map[string]PriceUpdate
	BestBid   ExchangePrice
	BestAsk   ExchangePrice
	SpreadPct decimal.Decimal // (max(price)-min(price))/avg(price) across venues
	UpdatedAt time.Time
}

// ImpulseDirection is the sign of a detected price move.
type ImpulseDirection string

const (
	ImpulseUp   ImpulseDirection = "up"
	ImpulseDown ImpulseDirection = "down"
)

// PriceImpulse is a momentum event: a price change of magnitude >= threshold
// within a rolling window.
type PriceImpulse struct {
	Symbol     string
	Exchange   string
	Direction  ImpulseDirection
	ChangePct  decimal.Decimal
	FromPrice  decimal.Decimal
	ToPrice    decimal.Decimal
	WindowMs   int64
	Timestamp  time.Time
	Confidence decimal.Decimal // fraction of tracked exchanges whose momentum agrees
}

// CrossExchangeOpportunity is the advisory signal emitted when best bid on one
// venue exceeds best ask on another by more than the configured threshold.
// It is informational only — never routed to the CLOB executor.
type CrossExchangeOpportunity struct {
	Symbol      string
	BidExchange string
	AskExchange string
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	SpreadPct   decimal.Decimal
	Timestamp   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order book (component C)
// ————————————————————————————————————————————————————————————————————————

// OrderLevel is a single price/size rung on a ladder.
type OrderLevel struct {
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderCount int
}

// OrderBookSnapshot is a point-in-time full ladder for one CLOB token.
// Bids are sorted descending by price, asks ascending. Invariant: within a
// snapshot, BestBid < BestAsk except during transient crossed states, which
// must be tolerated rather than treated as fatal.
type OrderBookSnapshot struct {
	TokenID   string
	Timestamp time.Time
	Bids      []OrderLevel
	Asks      []OrderLevel
}

// BestBid returns the top bid level, or a zero level if the book is empty.
func (s OrderBookSnapshot) BestBid() OrderLevel {
	if len(s.Bids) == 0 {
		return OrderLevel{}
	}
	return s.Bids[0]
}

// BestAsk returns the top ask level, or a zero level if the book is empty.
func (s OrderBookSnapshot) BestAsk() OrderLevel {
	if len(s.Asks) == 0 {
		return OrderLevel{}
	}
	return s.Asks[0]
}

// Mid returns (bestBid+bestAsk)/2, or zero if either side is empty.
func (s OrderBookSnapshot) Mid() decimal.Decimal {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return decimal.Zero
	}
	return s.BestBid().Price.Add(s.BestAsk().Price).Div(decimal.NewFromInt(2))
}

// Spread returns bestAsk - bestBid.
func (s OrderBookSnapshot) Spread() decimal.Decimal {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return decimal.Zero
	}
	return s.BestAsk().Price.Sub(s.BestBid().Price)
}

// BidDepth returns the sum of all bid sizes.
func (s OrderBookSnapshot) BidDepth() decimal.Decimal {
	return sumSizes(s.Bids)
}

// AskDepth returns the sum of all ask sizes.
func (s OrderBookSnapshot) AskDepth() decimal.Decimal {
	return sumSizes(s.Asks)
}

// Imbalance returns (bidDepth-askDepth)/total, or zero when the book is empty.
func (s OrderBookSnapshot) Imbalance() decimal.Decimal {
	bid := s.BidDepth()
	ask := s.AskDepth()
	total := bid.Add(ask)
	if total.IsZero() {
		return decimal.Zero
	}
	return bid.Sub(ask).Div(total)
}

func sumSizes(levels []OrderLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Markets (component D)
// ————————————————————————————————————————————————————————————————————————

// MarketOutcome is one leg of a Market's outcome set.
type MarketOutcome struct {
	Name      string
	TokenID   string
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	Liquidity decimal.Decimal
}

// Market is the CLOB's catalog entry for one prediction market.
type Market struct {
	ID          string
	Question    string
	Description string
	Tags        []string
	Status      MarketStatus
	Resolution  Resolution // empty/ResolutionUnknown until resolved
	Outcomes    []MarketOutcome
	EndTime     time.Time
	CreatedTime time.Time
}

// IsBinary reports whether the market has exactly two outcomes.
func (m Market) IsBinary() bool {
	return len(m.Outcomes) == 2
}

// TotalPrice sums every outcome's price.
func (m Market) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, o := range m.Outcomes {
		total = total.Add(o.Price)
	}
	return total
}

// PriceDeviation returns |1 - TotalPrice()|.
func (m Market) PriceDeviation() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.TotalPrice()).Abs()
}

var bitcoinKeywords = []string{"bitcoin", "btc", "crypto", "cryptocurrency", "satoshi"}

// IsBitcoinRelated reports whether the question, description, or tags mention
// any bitcoin-related keyword (case-insensitive).
func (m Market) IsBitcoinRelated() bool {
	haystacks := append([]string{m.Question, m.Description}, m.Tags...)
	return containsAnyKeyword(haystacks, bitcoinKeywords)
}

// IsNearResolved reports whether outcome k's price lies within [minProb, maxProb].
func (m Market) IsNearResolved(outcomeIdx int, minProb, maxProb decimal.Decimal) bool {
	if outcomeIdx < 0 || outcomeIdx >= len(m.Outcomes) {
		return false
	}
	p := m.Outcomes[outcomeIdx].Price
	return p.GreaterThanOrEqual(minProb) && p.LessThanOrEqual(maxProb)
}

// IsTerminal reports whether the market is in a resolved or disputed state.
func (m Market) IsTerminal() bool {
	return m.Status == StatusResolved || m.Status == StatusDisputed
}

// ————————————————————————————————————————————————————————————————————————
// Trade signals (component E)
// ————————————————————————————————————————————————————————————————————————

// TradeSignal is the output of a Detector scan.
type TradeSignal struct {
	Strategy          string
	Type              SignalType
	MarketID          string
	PrimaryTokenID    string
	Side              Side
	TargetPrice       decimal.Decimal
	TargetSize        decimal.Decimal // shares
	Confidence        decimal.Decimal // [0,1]
	ExpectedProfitPct decimal.Decimal
	Reason            string
	Payload           SignalPayload // leg-specific data, see signal.go
	GeneratedAt       time.Time
}

// IsActionable reports whether the signal clears the strategy's own
// confidence, size, and profit floors.
func (s TradeSignal) IsActionable(minConfidence, minProfitPct decimal.Decimal) bool {
	return s.Confidence.GreaterThanOrEqual(minConfidence) &&
		s.TargetSize.IsPositive() &&
		s.ExpectedProfitPct.GreaterThanOrEqual(minProfitPct)
}

// ————————————————————————————————————————————————————————————————————————
// Positions and coverage (owned exclusively by the Ledger)
// ————————————————————————————————————————————————————————————————————————

// Position tracks one open holding. Created by the Ledger on the first fill
// for a (market, token, strategy) triple; mutated by subsequent fills using a
// size-weighted average price; destroyed on full close or resolution payout.
type Position struct {
	MarketID      string
	TokenID       string
	Strategy      string
	Side          PositionSide
	Size          decimal.Decimal // signed for spread-making; non-negative elsewhere
	AvgEntryPrice decimal.Decimal
	TotalCost     decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
}

// Coverage is a RangeCoverage holding: a set of per-outcome fills whose total
// cost is less than 1.0, guaranteeing a payout of at least MinShares on
// resolution. Invariant: TotalCost < 1.0 per one-unit payout.
type Coverage struct {
	MarketID  string
	Legs      []CoverageLeg
	TotalCost decimal.Decimal
	MinShares decimal.Decimal // min(per-outcome fill sizes)
	OpenedAt  time.Time
}

// CoverageLeg is one outcome's fill within a Coverage set.
type CoverageLeg struct {
	TokenID string
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// ExpectedProfit returns MinShares - TotalCost.
func (c Coverage) ExpectedProfit() decimal.Decimal {
	return c.MinShares.Sub(c.TotalCost)
}

// CapitalAccount is the Ledger's singleton capital-tracking state.
// Invariants: AvailableCapital >= 0; PeakCapital >= CurrentEquity(); WinCount <= TradeCount.
type CapitalAccount struct {
	InitialCapital    decimal.Decimal
	AvailableCapital  decimal.Decimal
	PeakCapital       decimal.Decimal
	CumulativeRealized decimal.Decimal
	TradeCount        int
	WinCount          int
}

// CurrentEquity returns AvailableCapital + sum(position.cost) + sum(coverage.total_cost).
func (a CapitalAccount) CurrentEquity(positions []Position, coverages []Coverage) decimal.Decimal {
	equity := a.AvailableCapital
	for _, p := range positions {
		equity = equity.Add(p.TotalCost)
	}
	for _, c := range coverages {
		equity = equity.Add(c.TotalCost)
	}
	return equity
}

// MaxDrawdown returns (PeakCapital-currentEquity)/PeakCapital, or zero if
// PeakCapital is zero.
func (a CapitalAccount) MaxDrawdown(currentEquity decimal.Decimal) decimal.Decimal {
	if a.PeakCapital.IsZero() {
		return decimal.Zero
	}
	return a.PeakCapital.Sub(currentEquity).Div(a.PeakCapital)
}

// LedgerSnapshot is the cheap, read-only copy handed to the Scheduler's risk
// checks, the Notifier, and every detector's size computation.
type LedgerSnapshot struct {
	Account     CapitalAccount
	Positions   []Position
	Coverages   []Coverage
	CurrentEquity decimal.Decimal
	TakenAt     time.Time
}

func containsAnyKeyword(haystacks []string, keywords []string) bool {
	for _, h := range haystacks {
		lower := strings.ToLower(h)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	return false
}
