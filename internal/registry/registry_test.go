package registry

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

func newTestRegistry() *Registry {
	return New("https://unused.example", time.Minute, slog.Default())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedMarket(r *Registry, m types.Market) {
	r.mu.Lock()
	r.byID[m.ID] = m
	r.mu.Unlock()
}

func TestByIDAndAll(t *testing.T) {
	r := newTestRegistry()
	seedMarket(r, types.Market{ID: "m1", Question: "Will it rain?"})

	got, ok := r.ByID("m1")
	if !ok || got.Question != "Will it rain?" {
		t.Fatalf("ByID() = %+v, %v", got, ok)
	}
	if _, ok := r.ByID("unknown"); ok {
		t.Error("ByID(unknown) ok = true, want false")
	}
	if len(r.All()) != 1 {
		t.Errorf("All() len = %d, want 1", len(r.All()))
	}
}

func TestBitcoinMarketsFilter(t *testing.T) {
	r := newTestRegistry()
	seedMarket(r, types.Market{ID: "btc", Question: "Will BTC hit 100k?"})
	seedMarket(r, types.Market{ID: "other", Question: "Will it rain tomorrow?"})

	got := r.BitcoinMarkets()
	if len(got) != 1 || got[0].ID != "btc" {
		t.Errorf("BitcoinMarkets() = %+v, want only btc", got)
	}
}

func TestNearResolvedFiltersBinaryOnly(t *testing.T) {
	r := newTestRegistry()
	seedMarket(r, types.Market{
		ID: "near",
		Outcomes: []types.MarketOutcome{
			{Name: "Yes", Price: dec("0.97")},
			{Name: "No", Price: dec("0.03")},
		},
	})
	seedMarket(r, types.Market{
		ID: "notnear",
		Outcomes: []types.MarketOutcome{
			{Name: "Yes", Price: dec("0.50")},
			{Name: "No", Price: dec("0.50")},
		},
	})
	seedMarket(r, types.Market{
		ID: "triple",
		Outcomes: []types.MarketOutcome{
			{Name: "A", Price: dec("0.98")},
			{Name: "B", Price: dec("0.01")},
			{Name: "C", Price: dec("0.01")},
		},
	})

	got := r.NearResolved(dec("0.95"), dec("0.99"))
	if len(got) != 1 || got[0].ID != "near" {
		t.Errorf("NearResolved() = %+v, want only 'near'", got)
	}
}

func TestPairTokensBinaryOnly(t *testing.T) {
	r := newTestRegistry()
	seedMarket(r, types.Market{
		ID: "m1",
		Outcomes: []types.MarketOutcome{
			{Name: "Yes", TokenID: "yes-tok", Price: dec("0.6")},
			{Name: "No", TokenID: "no-tok", Price: dec("0.4")},
		},
	})
	seedMarket(r, types.Market{
		ID: "m2",
		Outcomes: []types.MarketOutcome{
			{Name: "A", TokenID: "a"}, {Name: "B", TokenID: "b"}, {Name: "C", TokenID: "c"},
		},
	})

	yes, no, ok := r.PairTokens("m1")
	if !ok || yes != "yes-tok" || no != "no-tok" {
		t.Errorf("PairTokens(m1) = %q, %q, %v", yes, no, ok)
	}
	if _, _, ok := r.PairTokens("m2"); ok {
		t.Error("PairTokens(m2) ok = true for non-binary market, want false")
	}
	if _, _, ok := r.PairTokens("unknown"); ok {
		t.Error("PairTokens(unknown) ok = true, want false")
	}
}

func TestLeadingOutcome(t *testing.T) {
	m := types.Market{Outcomes: []types.MarketOutcome{
		{Name: "Yes", Price: dec("0.3")},
		{Name: "No", Price: dec("0.7")},
	}}
	if got := LeadingOutcome(m); got != "No" {
		t.Errorf("LeadingOutcome() = %q, want No", got)
	}
	if got := LeadingOutcome(types.Market{}); got != "" {
		t.Errorf("LeadingOutcome(empty) = %q, want empty", got)
	}
}

func TestConvertMarketParsesJSONFields(t *testing.T) {
	gm := gammaMarket{
		ID:            "m1",
		Question:      "Will it rain?",
		Outcomes:      `["Yes","No"]`,
		OutcomePrices: `["0.6","0.4"]`,
		ClobTokenIds:  `["tok-yes","tok-no"]`,
		EndDate:       "2026-12-31T00:00:00Z",
	}

	m, err := convertMarket(gm)
	if err != nil {
		t.Fatalf("convertMarket() error = %v", err)
	}
	if !m.IsBinary() {
		t.Fatal("expected binary market")
	}
	if m.Outcomes[0].TokenID != "tok-yes" || m.Outcomes[1].TokenID != "tok-no" {
		t.Errorf("token IDs = %+v", m.Outcomes)
	}
	if !m.Outcomes[0].Price.Equal(dec("0.6")) {
		t.Errorf("Outcomes[0].Price = %s, want 0.6", m.Outcomes[0].Price)
	}
}

func TestConvertMarketMalformedJSON(t *testing.T) {
	gm := gammaMarket{ID: "bad", Outcomes: `not-json`}
	if _, err := convertMarket(gm); err == nil {
		t.Error("convertMarket() error = nil for malformed outcomes JSON, want error")
	}
}
