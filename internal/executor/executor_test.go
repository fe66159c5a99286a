package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/internal/config"
	"arbbot/internal/errs"
	"arbbot/internal/exchange"
	"arbbot/internal/ledger"
	"arbbot/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []any
}

func (j *recordingJournal) Write(entry any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *recordingJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startLedger(t *testing.T, capital decimal.Decimal) *ledger.Ledger {
	t.Helper()
	l := ledger.New(capital, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return l
}

func dryRunClient(t *testing.T) *exchange.Client {
	t.Helper()
	cfg := config.Config{
		Bot: config.BotConfig{DryRun: true},
		API: config.APIConfig{CLOBBaseURL: "http://localhost"},
	}
	auth := exchange.NewAuth("", "", "")
	return exchange.NewClient(cfg, auth, testLogger())
}

func TestExecuteDirectionalBuyCommitsFill(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	j := &recordingJournal{}
	ex := New(c, l, j, true, testLogger())

	signal := types.TradeSignal{
		Strategy:       "near_resolved",
		Type:           types.SignalBuy,
		MarketID:       "M1",
		PrimaryTokenID: "Y",
		Side:           types.BUY,
		TargetPrice:    dec("0.97"),
		TargetSize:     dec("144.33"),
		Payload:        types.DirectionalPayload{TokenID: "Y"},
	}

	if err := ex.Execute(context.Background(), signal); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := l.Snapshot(context.Background())
	if len(snap.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(snap.Positions))
	}
	if j.count() != 1 {
		t.Errorf("journal entries = %d, want 1", j.count())
	}
}

func TestExecutePairPayloadCommitsBothLegs(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy:   "parity",
		Type:       types.SignalBuyPair,
		MarketID:   "M1",
		Side:       types.BUY,
		TargetSize: dec("10000").Div(dec("0.97")),
		Payload: types.PairPayload{
			YesTokenID: "Y", NoTokenID: "N",
			YesPrice: dec("0.48"), NoPrice: dec("0.49"),
		},
	}

	if err := ex.Execute(context.Background(), signal); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := l.Snapshot(context.Background())
	if len(snap.Positions) != 2 {
		t.Fatalf("got %d positions, want 2 (Yes and No legs)", len(snap.Positions))
	}
}

func TestExecuteCoverPayloadWeightsLegSizes(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy:   "range_coverage",
		Type:       types.SignalCoverSet,
		MarketID:   "M1",
		TargetSize: dec("1000"),
		Payload: types.CoverPayload{Legs: []types.CoverLeg{
			{TokenID: "A", Price: dec("0.40"), Weight: dec("0.4211")},
			{TokenID: "B", Price: dec("0.30"), Weight: dec("0.3158")},
		}},
	}

	if err := ex.Execute(context.Background(), signal); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := l.Snapshot(context.Background())
	if len(snap.Positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(snap.Positions))
	}
}

func TestExecuteInsufficientCapitalPropagatesError(t *testing.T) {
	l := startLedger(t, dec("10"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy:    "near_resolved",
		Type:        types.SignalBuy,
		MarketID:    "M1",
		Side:        types.BUY,
		TargetPrice: dec("0.97"),
		TargetSize:  dec("1000"),
		Payload:     types.DirectionalPayload{TokenID: "Y"},
	}

	err := ex.Execute(context.Background(), signal)
	if !errors.Is(err, errs.ErrInsufficientCapital) {
		t.Fatalf("err = %v, want ErrInsufficientCapital", err)
	}
}

func TestExecuteMakerPayloadIsNoOp(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy: "spread_making",
		Type:     types.SignalBuy,
		MarketID: "M1",
		Payload:  types.MakerPayload{TokenID: "Y", OurBid: dec("0.50"), OurAsk: dec("0.55"), BidSize: dec("100"), AskSize: dec("100")},
	}

	if err := ex.Execute(context.Background(), signal); err != nil {
		t.Fatalf("Execute should no-op for maker payloads, got: %v", err)
	}
	snap := l.Snapshot(context.Background())
	if len(snap.Positions) != 0 {
		t.Errorf("got %d positions from Execute on a maker payload, want 0", len(snap.Positions))
	}
}

func TestQuotePlacesBidAndAsk(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy: "spread_making",
		MarketID: "M1",
		Payload:  types.MakerPayload{TokenID: "Y", OurBid: dec("0.501"), OurAsk: dec("0.549"), BidSize: dec("100"), AskSize: dec("100")},
	}

	ids, err := ex.Quote(context.Background(), signal)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d order IDs, want 2", len(ids))
	}
}

func TestIdempotencyKeyStableAcrossRetries(t *testing.T) {
	ex := &Executor{}
	signal := types.TradeSignal{Strategy: "parity", MarketID: "M1", GeneratedAt: time.Unix(1700000000, 0)}
	leg := Leg{TokenID: "Y", Price: dec("0.50"), Size: dec("100")}

	k1 := ex.idempotencyKey(signal, leg, 0)
	k2 := ex.idempotencyKey(signal, leg, 0)
	if k1 != k2 {
		t.Errorf("idempotency key changed across retries of the same signal/leg: %s != %s", k1, k2)
	}
}

func TestIdempotencyKeyDiffersByLegIndexAndSignal(t *testing.T) {
	ex := &Executor{}
	signal := types.TradeSignal{Strategy: "parity", MarketID: "M1", GeneratedAt: time.Unix(1700000000, 0)}
	leg := Leg{TokenID: "Y", Price: dec("0.50"), Size: dec("100")}

	k0 := ex.idempotencyKey(signal, leg, 0)
	k1 := ex.idempotencyKey(signal, leg, 1)
	if k0 == k1 {
		t.Errorf("idempotency keys for different leg indexes must differ")
	}

	otherSignal := signal
	otherSignal.GeneratedAt = time.Unix(1700000001, 0)
	k2 := ex.idempotencyKey(otherSignal, leg, 0)
	if k0 == k2 {
		t.Errorf("idempotency keys for distinct signals must differ")
	}
}

func TestCloseCancelsAndRealizesPnL(t *testing.T) {
	l := startLedger(t, dec("10000"))
	c := dryRunClient(t)
	ex := New(c, l, &recordingJournal{}, true, testLogger())

	signal := types.TradeSignal{
		Strategy:       "near_resolved",
		Type:           types.SignalBuy,
		MarketID:       "M1",
		PrimaryTokenID: "Y",
		Side:           types.BUY,
		TargetPrice:    dec("0.50"),
		TargetSize:     dec("100"),
		Payload:        types.DirectionalPayload{TokenID: "Y"},
	}
	if err := ex.Execute(context.Background(), signal); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	closed, err := ex.Close(context.Background(), "M1", "near_resolved")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.MarketID != "M1" {
		t.Errorf("MarketID = %s, want M1", closed.MarketID)
	}
}
