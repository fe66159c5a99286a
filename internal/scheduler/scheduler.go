// Package scheduler orchestrates detector scans at per-strategy cadences,
// enforces the session's global risk limit, dispatches ranked signals to the
// Executor, and runs an independent resolution sweep that drives the Ledger
// to realize payouts on markets it holds positions in.
//
// Each strategy runs its own ticker-driven goroutine, mirroring the
// orchestration style of a per-component goroutine set joined by a
// sync.WaitGroup with a single cancellable context governing all of them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/internal/aggregator"
	"arbbot/internal/config"
	"arbbot/internal/detectors"
	"arbbot/internal/errs"
	"arbbot/internal/executor"
	"arbbot/internal/ledger"
	"arbbot/internal/registry"
	"arbbot/pkg/types"
)

// Cadences not exposed as config knobs, per the fixed per-strategy schedule.
const (
	latencyLagInterval     = 1 * time.Second
	parityFallbackInterval = 30 * time.Second
	nearResolvedInterval   = 5 * time.Minute
	rangeCoverageInterval  = 5 * time.Minute
	defaultOrderRefresh    = 30 * time.Second
	defaultResolutionSweep = 60 * time.Second
)

// Journal is the narrow interface Scheduler writes session-level entries to.
type Journal interface {
	Write(entry any) error
}

// HaltEntry is journaled once, the moment the session-wide risk limit trips.
type HaltEntry struct {
	Timestamp     time.Time
	CurrentEquity decimal.Decimal
	InitialCapital decimal.Decimal
	MaxDailyLoss  decimal.Decimal
}

// ResolutionEntry is journaled every time the sweep realizes a resolution.
type ResolutionEntry struct {
	Timestamp    time.Time
	MarketID     string
	WinningToken string
	RealizedPnL  decimal.Decimal
}

// Scheduler ties detectors, market state, and the Executor together into a
// running session.
type Scheduler struct {
	cfg            config.Config
	initialCapital decimal.Decimal

	registry   *registry.Registry
	aggregator *aggregator.Aggregator
	books      *BookStore
	ledger     *ledger.Ledger
	executor   *executor.Executor
	journal    Journal
	logger     *slog.Logger

	halted   atomic.Bool
	haltedCh chan struct{}
	haltOnce sync.Once

	impulseMu  sync.RWMutex
	btcImpulse detectors.Impulse

	wg sync.WaitGroup
}

// New wires a Scheduler. journal may be nil (entries dropped).
func New(
	cfg config.Config,
	initialCapital decimal.Decimal,
	reg *registry.Registry,
	agg *aggregator.Aggregator,
	books *BookStore,
	lg *ledger.Ledger,
	ex *executor.Executor,
	journal Journal,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:            cfg,
		initialCapital: initialCapital,
		registry:       reg,
		aggregator:     agg,
		books:          books,
		ledger:         lg,
		executor:       ex,
		journal:        journal,
		logger:         logger.With("component", "scheduler"),
		haltedCh:       make(chan struct{}),
	}
}

// Halted returns a channel closed the instant the session-wide risk limit
// trips. Callers (main) select on it to shut down with exit code 2.
func (s *Scheduler) Halted() <-chan struct{} {
	return s.haltedCh
}

// IsHalted reports whether the session has already tripped its risk limit.
func (s *Scheduler) IsHalted() bool {
	return s.halted.Load()
}

// Run starts every strategy loop, the resolution sweep, and the impulse
// tracker, and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.Strategies.LatencyArbitrage.Enabled {
		s.spawn(func() { s.runLatencyLag(ctx) })
	}
	if s.cfg.Strategies.YesNoArbitrage.Enabled {
		s.spawn(func() { s.runParity(ctx) })
	}
	if s.cfg.Strategies.NearResolvedSniping.Enabled {
		s.spawn(func() { s.runNearResolved(ctx) })
	}
	if s.cfg.Strategies.SpreadTrading.Enabled {
		s.spawn(func() { s.runSpreadMaking(ctx) })
	}
	if s.cfg.Strategies.RangeCoverage.Enabled {
		s.spawn(func() { s.runRangeCoverage(ctx) })
	}
	s.spawn(func() { s.runResolutionSweep(ctx) })
	s.spawn(func() { s.trackImpulses(ctx) })

	s.wg.Wait()
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) trackImpulses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case imp, ok := <-s.aggregator.Impulses():
			if !ok {
				return
			}
			s.impulseMu.Lock()
			s.btcImpulse = detectors.Impulse{
				Direction:  imp.Direction,
				Confidence: imp.Confidence,
				ObservedAt: imp.Timestamp,
			}
			s.impulseMu.Unlock()
		}
	}
}

func (s *Scheduler) latestImpulse() detectors.Impulse {
	s.impulseMu.RLock()
	defer s.impulseMu.RUnlock()
	return s.btcImpulse
}

func (s *Scheduler) btcSpotMid() decimal.Decimal {
	ask, _, ok1 := s.aggregator.Best("BTCUSDT", types.BUY)
	bid, _, ok2 := s.aggregator.Best("BTCUSDT", types.SELL)
	if !ok1 || !ok2 {
		return decimal.Zero
	}
	return ask.Add(bid).Div(decimal.NewFromInt(2))
}

// runLatencyLag scans every second for a BTC spot impulse not yet reflected
// in a BTC-threshold market's Yes price.
func (s *Scheduler) runLatencyLag(ctx context.Context) {
	cfg := s.cfg.Strategies.LatencyArbitrage
	dcfg := detectors.LatencyLagConfig{
		ExecutionWindow: cfg.ExecutionWindowSeconds,
		Threshold:       decimal.NewFromFloat(cfg.MinPriceDeviation),
		MaxPositionSize: decimal.NewFromFloat(cfg.MaxPositionSize),
	}

	ticker := time.NewTicker(latencyLagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsHalted() {
				continue
			}
			markets := s.registry.BitcoinMarkets()
			signals := detectors.LatencyLag(markets, s.bookMidQuote, s.btcSpotMid(), s.latestImpulse(), time.Now(), dcfg)
			s.dispatch(ctx, signals, decimal.Zero, decimal.NewFromFloat(cfg.MinPriceDeviation))
		}
	}
}

func (s *Scheduler) bookMidQuote(tokenID string) (decimal.Decimal, bool) {
	return s.books.Mid(tokenID)
}

// runParity reacts to book movement near-instantly, with a slow fallback
// ticker as a backstop when the book has gone quiet.
func (s *Scheduler) runParity(ctx context.Context) {
	cfg := s.cfg.Strategies.YesNoArbitrage
	dcfg := detectors.ParityConfig{
		MaxPositionSize:  decimal.NewFromFloat(cfg.MaxPositionSize),
		TargetProfitPct:  decimal.NewFromFloat(cfg.TargetProfitPct),
		HasPairInventory: s.hasPairInventory,
	}

	ticker := time.NewTicker(parityFallbackInterval)
	defer ticker.Stop()

	scan := func() {
		if s.IsHalted() {
			return
		}
		markets := s.registry.All()
		signals := detectors.Parity(markets, s.books.Quote, dcfg)
		s.dispatch(ctx, signals, decimal.Zero, decimal.NewFromFloat(cfg.TargetProfitPct))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		case <-s.books.Updated():
			scan()
		}
	}
}

func (s *Scheduler) hasPairInventory(marketID string) bool {
	snap := s.ledger.Snapshot(context.Background())
	for _, p := range snap.Positions {
		if p.MarketID == marketID && p.Strategy == "parity" {
			return true
		}
	}
	return false
}

// runNearResolved scans every 5 minutes for near-certain outcomes on
// short-fuse markets.
func (s *Scheduler) runNearResolved(ctx context.Context) {
	cfg := s.cfg.Strategies.NearResolvedSniping
	dcfg := detectors.NearResolvedConfig{
		MinProbability:      decimal.NewFromFloat(cfg.MinProbability),
		MaxProbability:      decimal.NewFromFloat(cfg.MaxProbability),
		MaxTimeToResolution: time.Duration(cfg.MaxTimeToResolutionHours * float64(time.Hour)),
		Capital:             decimal.NewFromFloat(s.cfg.Bot.Capital),
	}

	ticker := time.NewTicker(nearResolvedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsHalted() {
				continue
			}
			signals := detectors.NearResolved(s.registry.All(), time.Now(), dcfg)
			s.dispatch(ctx, signals, decimal.NewFromFloat(cfg.MinProbability), decimal.NewFromFloat(cfg.MinYield))
		}
	}
}

// runSpreadMaking requotes every order_refresh_seconds (default 30s).
func (s *Scheduler) runSpreadMaking(ctx context.Context) {
	cfg := s.cfg.Strategies.SpreadTrading
	interval := cfg.OrderRefreshSeconds
	if interval <= 0 {
		interval = defaultOrderRefresh
	}
	dcfg := detectors.SpreadMakingConfig{
		MinSpread:    decimal.NewFromFloat(cfg.MinSpread),
		OrderSize:    decimal.NewFromFloat(cfg.OrderSize),
		MaxImbalance: decimal.NewFromFloat(cfg.MaxInventoryImbalance),
		PositionSize: s.spreadPosition,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsHalted() {
				continue
			}
			quotes := s.collectSpreadQuotes(dcfg.MinSpread)
			signals := detectors.SpreadMaking(quotes, dcfg)
			s.dispatchQuotes(ctx, signals)
		}
	}
}

func (s *Scheduler) collectSpreadQuotes(minSpread decimal.Decimal) []detectors.SpreadMakingQuote {
	var quotes []detectors.SpreadMakingQuote
	for _, m := range s.registry.All() {
		if m.IsTerminal() {
			continue
		}
		for _, o := range m.Outcomes {
			if o.TokenID == "" {
				continue
			}
			q, ok := s.books.SpreadQuote(o.TokenID, m.ID)
			if !ok || q.SpreadPct.LessThan(minSpread) {
				continue
			}
			quotes = append(quotes, q)
		}
	}
	return quotes
}

func (s *Scheduler) spreadPosition(tokenID string) decimal.Decimal {
	snap := s.ledger.Snapshot(context.Background())
	for _, p := range snap.Positions {
		if p.TokenID == tokenID && p.Strategy == "spread_making" {
			return p.Size
		}
	}
	return decimal.Zero
}

// runRangeCoverage scans every 5 minutes for multi-outcome cover sets.
func (s *Scheduler) runRangeCoverage(ctx context.Context) {
	cfg := s.cfg.Strategies.RangeCoverage
	dcfg := detectors.RangeCoverageConfig{
		MaxTotalCost:       decimal.NewFromFloat(cfg.MaxTotalCost),
		MinOutcomesCovered: cfg.MinOutcomesCovered,
		TargetProfitPct:    decimal.NewFromFloat(cfg.TargetProfitPct),
		MaxPositionSize:    decimal.NewFromFloat(cfg.MaxPositionSize),
	}

	ticker := time.NewTicker(rangeCoverageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsHalted() {
				continue
			}
			signals := detectors.RangeCoverage(s.registry.All(), dcfg)
			s.dispatch(ctx, signals, decimal.Zero, decimal.NewFromFloat(cfg.TargetProfitPct))
		}
	}
}

// runResolutionSweep asks the registry, every 60s, whether any market the
// Ledger holds a position or coverage in has settled, and if so realizes it.
func (s *Scheduler) runResolutionSweep(ctx context.Context) {
	ticker := time.NewTicker(defaultResolutionSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepResolutions(ctx)
		}
	}
}

func (s *Scheduler) sweepResolutions(ctx context.Context) {
	snap := s.ledger.Snapshot(ctx)

	seen := make(map[string]bool)
	var marketIDs []string
	for _, p := range snap.Positions {
		if !seen[p.MarketID] {
			seen[p.MarketID] = true
			marketIDs = append(marketIDs, p.MarketID)
		}
	}
	for _, c := range snap.Coverages {
		if !seen[c.MarketID] {
			seen[c.MarketID] = true
			marketIDs = append(marketIDs, c.MarketID)
		}
	}

	for _, marketID := range marketIDs {
		winningToken, ok := s.registry.WinningToken(marketID)
		if !ok {
			continue
		}
		delta := s.ledger.ApplyResolution(ctx, marketID, winningToken)
		s.logger.Info("resolution realized", "market", marketID, "winning_token", winningToken, "realized_pnl", delta.RealizedPnL)
		if s.journal != nil {
			s.journal.Write(ResolutionEntry{
				Timestamp:    time.Now(),
				MarketID:     marketID,
				WinningToken: winningToken,
				RealizedPnL:  delta.RealizedPnL,
			})
		}
	}
}

// dispatch ranks signals by confidence*expected_profit_pct descending and
// executes each in order, dropping anything below the calling strategy's own
// min_confidence/min_profit floor, and checking the global risk limit before
// every one that clears it.
func (s *Scheduler) dispatch(ctx context.Context, signals []types.TradeSignal, minConfidence, minProfit decimal.Decimal) {
	rank(signals)
	for _, sig := range signals {
		if !sig.IsActionable(minConfidence, minProfit) {
			continue
		}
		if s.tripRiskLimit(ctx) {
			return
		}
		if err := s.executor.Execute(ctx, sig); err != nil && !errors.Is(err, errs.ErrInsufficientCapital) {
			s.logger.Warn("execute failed", "strategy", sig.Strategy, "market", sig.MarketID, "error", err)
		}
	}
}

// dispatchQuotes is dispatch's counterpart for MakerPayload signals, which go
// through Executor.Quote instead of Execute.
func (s *Scheduler) dispatchQuotes(ctx context.Context, signals []types.TradeSignal) {
	rank(signals)
	for _, sig := range signals {
		if s.tripRiskLimit(ctx) {
			return
		}
		if _, err := s.executor.Quote(ctx, sig); err != nil {
			s.logger.Warn("quote failed", "strategy", sig.Strategy, "market", sig.MarketID, "error", err)
		}
	}
}

func rank(signals []types.TradeSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		scoreI := signals[i].Confidence.Mul(signals[i].ExpectedProfitPct)
		scoreJ := signals[j].Confidence.Mul(signals[j].ExpectedProfitPct)
		return scoreI.GreaterThan(scoreJ)
	})
}

// tripRiskLimit checks current_equity - initial_capital against
// -max_daily_loss, halting the session the first time it breaches. Returns
// true if the session is halted (whether tripped just now or already).
func (s *Scheduler) tripRiskLimit(ctx context.Context) bool {
	if s.IsHalted() {
		return true
	}
	snap := s.ledger.Snapshot(ctx)
	maxDailyLoss := decimal.NewFromFloat(s.cfg.Risk.MaxDailyLoss)
	loss := s.initialCapital.Sub(snap.CurrentEquity)
	if loss.LessThanOrEqual(maxDailyLoss) {
		return false
	}

	s.halted.Store(true)
	s.haltOnce.Do(func() { close(s.haltedCh) })
	s.logger.Error("risk limit breached, halting session",
		"current_equity", snap.CurrentEquity,
		"initial_capital", s.initialCapital,
		"max_daily_loss", maxDailyLoss,
	)
	if s.journal != nil {
		s.journal.Write(HaltEntry{
			Timestamp:      time.Now(),
			CurrentEquity:  snap.CurrentEquity,
			InitialCapital: s.initialCapital,
			MaxDailyLoss:   maxDailyLoss,
		})
	}
	return true
}
