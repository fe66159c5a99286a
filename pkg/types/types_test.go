package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOrderBookSnapshotDerived(t *testing.T) {
	book := OrderBookSnapshot{
		TokenID: "tok1",
		Bids: []OrderLevel{
			{Price: dec("0.50"), Size: dec("100")},
			{Price: dec("0.49"), Size: dec("200")},
		},
		Asks: []OrderLevel{
			{Price: dec("0.55"), Size: dec("150")},
			{Price: dec("0.56"), Size: dec("100")},
		},
	}

	if !book.Mid().Equal(dec("0.525")) {
		t.Errorf("Mid() = %s, want 0.525", book.Mid())
	}
	if !book.Spread().Equal(dec("0.05")) {
		t.Errorf("Spread() = %s, want 0.05", book.Spread())
	}
	if !book.BidDepth().Equal(dec("300")) {
		t.Errorf("BidDepth() = %s, want 300", book.BidDepth())
	}
	if !book.AskDepth().Equal(dec("250")) {
		t.Errorf("AskDepth() = %s, want 250", book.AskDepth())
	}
	wantImb := dec("300").Sub(dec("250")).Div(dec("550"))
	if !book.Imbalance().Equal(wantImb) {
		t.Errorf("Imbalance() = %s, want %s", book.Imbalance(), wantImb)
	}
}

func TestOrderBookSnapshotEmpty(t *testing.T) {
	var book OrderBookSnapshot
	if !book.Mid().IsZero() {
		t.Errorf("Mid() on empty book = %s, want 0", book.Mid())
	}
	if !book.Imbalance().IsZero() {
		t.Errorf("Imbalance() on empty book = %s, want 0", book.Imbalance())
	}
}

func TestMarketBinaryAndDeviation(t *testing.T) {
	m := Market{
		Outcomes: []MarketOutcome{
			{Name: "Yes", Price: dec("0.48")},
			{Name: "No", Price: dec("0.49")},
		},
	}
	if !m.IsBinary() {
		t.Error("IsBinary() = false, want true")
	}
	if !m.TotalPrice().Equal(dec("0.97")) {
		t.Errorf("TotalPrice() = %s, want 0.97", m.TotalPrice())
	}
	if !m.PriceDeviation().Equal(dec("0.03")) {
		t.Errorf("PriceDeviation() = %s, want 0.03", m.PriceDeviation())
	}
}

func TestMarketIsBitcoinRelated(t *testing.T) {
	cases := []struct {
		question string
		tags     []string
		want     bool
	}{
		{"Will ETH hit $5000?", nil, false},
		{"Will Bitcoin hit $100k by 2026?", nil, true},
		{"Will the price reach ATH?", []string{"BTC", "macro"}, true},
		{"Will SATOSHI's wallet move?", nil, true},
	}
	for _, c := range cases {
		m := Market{Question: c.question, Tags: c.tags}
		if got := m.IsBitcoinRelated(); got != c.want {
			t.Errorf("IsBitcoinRelated(%q, %v) = %v, want %v", c.question, c.tags, got, c.want)
		}
	}
}

func TestMarketIsNearResolved(t *testing.T) {
	m := Market{Outcomes: []MarketOutcome{{Price: dec("0.97")}}}
	if !m.IsNearResolved(0, dec("0.95"), dec("0.99")) {
		t.Error("expected near-resolved in [0.95,0.99]")
	}
	if m.IsNearResolved(0, dec("0.99"), dec("0.999")) {
		t.Error("did not expect near-resolved outside band")
	}
}

func TestCapitalAccountInvariantHelpers(t *testing.T) {
	acct := CapitalAccount{
		InitialCapital:   dec("10000"),
		AvailableCapital: dec("9000"),
		PeakCapital:      dec("10500"),
	}
	positions := []Position{{TotalCost: dec("500")}}
	coverages := []Coverage{{TotalCost: dec("300")}}

	equity := acct.CurrentEquity(positions, coverages)
	if !equity.Equal(dec("9800")) {
		t.Errorf("CurrentEquity() = %s, want 9800", equity)
	}

	dd := acct.MaxDrawdown(equity)
	want := dec("10500").Sub(equity).Div(dec("10500"))
	if !dd.Equal(want) {
		t.Errorf("MaxDrawdown() = %s, want %s", dd, want)
	}
}

func TestCoverageExpectedProfit(t *testing.T) {
	c := Coverage{TotalCost: dec("0.95"), MinShares: dec("1")}
	if !c.ExpectedProfit().Equal(dec("0.05")) {
		t.Errorf("ExpectedProfit() = %s, want 0.05", c.ExpectedProfit())
	}
}

func TestTradeSignalIsActionable(t *testing.T) {
	s := TradeSignal{
		Confidence:        dec("0.8"),
		TargetSize:        dec("10"),
		ExpectedProfitPct: dec("0.05"),
	}
	if !s.IsActionable(dec("0.7"), dec("0.03")) {
		t.Error("expected actionable signal")
	}
	if s.IsActionable(dec("0.9"), dec("0.03")) {
		t.Error("expected not actionable below confidence floor")
	}
	zero := TradeSignal{Confidence: dec("0.8"), TargetSize: decimal.Zero, ExpectedProfitPct: dec("0.05")}
	if zero.IsActionable(dec("0.5"), dec("0.0")) {
		t.Error("zero size must never be actionable")
	}
}
