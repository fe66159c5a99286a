// Package aggregator implements PriceAggregator: it fans a set of exchange
// PriceFeeds together into one per-symbol cross-venue view and runs impulse
// detection on every inbound update.
//
// The source wires feeds to the aggregator (and the aggregator to detectors)
// through registered callback lists; here every feed's updates are merged
// onto one internal channel and processed by a single goroutine, so within a
// symbol every downstream consumer observes updates in arrival order without
// any shared-state callback list to guard.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/internal/feed"
	"arbbot/pkg/types"
)

// Config tunes impulse and cross-exchange detection. These are configuration
// values, not constants — spec defaults are threshold 2%, window 60s.
type Config struct {
	ImpulseThresholdPct   decimal.Decimal
	ImpulseWindow         time.Duration
	CrossExchangeMinDelta decimal.Decimal // default 0.001 (0.1%)
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ImpulseThresholdPct:   decimal.NewFromFloat(0.02),
		ImpulseWindow:         60 * time.Second,
		CrossExchangeMinDelta: decimal.NewFromFloat(0.001),
	}
}

type mergedUpdate struct {
	exchange string
	update   types.PriceUpdate
}

// Aggregator merges PriceFeeds per symbol.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger

	feedsMu sync.RWMutex
	feeds   map[string]*feed.Feed

	aggMu sync.RWMutex
	agg   map[string]*types.AggregatedPrice

	merged   chan mergedUpdate
	impulses chan types.PriceImpulse
	cross    chan types.CrossExchangeOpportunity
}

// New creates an Aggregator with the given configuration.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		logger:   logger.With("component", "aggregator"),
		feeds:    make(map[string]*feed.Feed),
		agg:      make(map[string]*types.AggregatedPrice),
		merged:   make(chan mergedUpdate, 1024),
		impulses: make(chan types.PriceImpulse, 256),
		cross:    make(chan types.CrossExchangeOpportunity, 256),
	}
}

// Impulses returns the channel PriceImpulses are published on.
func (a *Aggregator) Impulses() <-chan types.PriceImpulse { return a.impulses }

// CrossOpportunities returns the channel advisory cross-exchange signals are
// published on. This is informational only — never routed to the CLOB executor.
func (a *Aggregator) CrossOpportunities() <-chan types.CrossExchangeOpportunity { return a.cross }

// AddExchange registers a feed under name. Run must be (re)started to pick up
// feeds added after it begins; call AddExchange before Run for the common case.
func (a *Aggregator) AddExchange(name string, f *feed.Feed) {
	a.feedsMu.Lock()
	a.feeds[name] = f
	a.feedsMu.Unlock()
}

// RemoveExchange unregisters a feed. In-flight updates already merged are
// still processed.
func (a *Aggregator) RemoveExchange(name string) {
	a.feedsMu.Lock()
	delete(a.feeds, name)
	a.feedsMu.Unlock()
}

// Subscribe broadcasts a symbol subscription to every registered feed.
func (a *Aggregator) Subscribe(symbol string) {
	a.feedsMu.RLock()
	defer a.feedsMu.RUnlock()
	for _, f := range a.feeds {
		f.Subscribe(symbol)
	}
}

// Best returns the best price and owning exchange for a symbol/side.
// side=BUY returns the lowest ask (what you'd pay); side=SELL returns the
// highest bid (what you'd receive).
func (a *Aggregator) Best(symbol string, side types.Side) (decimal.Decimal, string, bool) {
	a.aggMu.RLock()
	defer a.aggMu.RUnlock()

	ap, ok := a.agg[symbol]
	if !ok {
		return decimal.Zero, "", false
	}
	if side == types.BUY {
		return ap.BestAsk.Price, ap.BestAsk.Exchange, true
	}
	return ap.BestBid.Price, ap.BestBid.Exchange, true
}

// Deviation reports the cross-venue spread for a symbol.
type Deviation struct {
	Min         decimal.Decimal
	Max         decimal.Decimal
	Avg         decimal.Decimal
	Spread      decimal.Decimal
	SpreadPct   decimal.Decimal
	PerExchange map[string]decimal.Decimal // mid price per exchange
}

// Deviation computes min/max/avg/spread across every exchange's mid price for
// a symbol.
func (a *Aggregator) Deviation(symbol string) (Deviation, bool) {
	a.aggMu.RLock()
	ap, ok := a.agg[symbol]
	if !ok {
		a.aggMu.RUnlock()
		return Deviation{}, false
	}
	byExchange := make(map[string]types.PriceUpdate, len(ap.ByExchange))
	for k, v := range ap.ByExchange {
		byExchange[k] = v
	}
	a.aggMu.RUnlock()

	if len(byExchange) == 0 {
		return Deviation{}, false
	}

	var min, max, sum decimal.Decimal
	per := make(map[string]decimal.Decimal, len(byExchange))
	first := true
	for ex, u := range byExchange {
		mid := u.Mid()
		per[ex] = mid
		sum = sum.Add(mid)
		if first {
			min, max = mid, mid
			first = false
			continue
		}
		if mid.LessThan(min) {
			min = mid
		}
		if mid.GreaterThan(max) {
			max = mid
		}
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(byExchange))))
	spread := max.Sub(min)
	spreadPct := decimal.Zero
	if !avg.IsZero() {
		spreadPct = spread.Div(avg)
	}

	return Deviation{Min: min, Max: max, Avg: avg, Spread: spread, SpreadPct: spreadPct, PerExchange: per}, true
}

// Run fans in every registered feed's update channel and processes them
// sequentially on a single goroutine. Blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.feedsMu.RLock()
	feeds := make(map[string]*feed.Feed, len(a.feeds))
	for k, v := range a.feeds {
		feeds[k] = v
	}
	a.feedsMu.RUnlock()

	var wg sync.WaitGroup
	for name, f := range feeds {
		wg.Add(1)
		go func(name string, f *feed.Feed) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-f.Updates():
					if !ok {
						return
					}
					select {
					case a.merged <- mergedUpdate{exchange: name, update: u}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(name, f)
	}

	go func() {
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case mu := <-a.merged:
			a.process(feeds, mu)
		}
	}
}

func (a *Aggregator) process(feeds map[string]*feed.Feed, mu mergedUpdate) {
	a.applyUpdate(mu)
	a.detectImpulse(feeds, mu)
	a.detectCrossExchange(mu.update.Symbol)
}

func (a *Aggregator) applyUpdate(mu mergedUpdate) {
	a.aggMu.Lock()
	defer a.aggMu.Unlock()

	ap, ok := a.agg[mu.update.Symbol]
	if !ok {
		ap = &types.AggregatedPrice{Symbol: mu.update.Symbol, ByExchange: make(map[string]types.PriceUpdate)}
		a.agg[mu.update.Symbol] = ap
	}
	ap.ByExchange[mu.exchange] = mu.update

	var bestBid, bestAsk types.ExchangePrice
	first := true
	for ex, u := range ap.ByExchange {
		if first {
			bestBid = types.ExchangePrice{Exchange: ex, Price: u.BestBid}
			bestAsk = types.ExchangePrice{Exchange: ex, Price: u.BestAsk}
			first = false
			continue
		}
		if u.BestBid.GreaterThan(bestBid.Price) {
			bestBid = types.ExchangePrice{Exchange: ex, Price: u.BestBid}
		}
		if u.BestAsk.LessThan(bestAsk.Price) {
			bestAsk = types.ExchangePrice{Exchange: ex, Price: u.BestAsk}
		}
	}
	ap.BestBid = bestBid
	ap.BestAsk = bestAsk
	ap.UpdatedAt = mu.update.Timestamp
}

// detectImpulse walks the originating feed's history backwards for the first
// entry at or before window_ms ago, per spec 4.B step 1-3.
func (a *Aggregator) detectImpulse(feeds map[string]*feed.Feed, mu mergedUpdate) {
	f, ok := feeds[mu.exchange]
	if !ok {
		return
	}

	hist := f.History(mu.update.Symbol, 0)
	if len(hist) == 0 {
		hist = []types.PriceUpdate{mu.update}
	}

	cutoff := mu.update.Timestamp.Add(-a.cfg.ImpulseWindow)
	pThen := hist[0]
	for i := len(hist) - 1; i >= 0; i-- {
		if !hist[i].Timestamp.After(cutoff) {
			pThen = hist[i]
			break
		}
		pThen = hist[i]
	}

	pNow := mu.update.Mid()
	from := pThen.Mid()
	if from.IsZero() {
		return
	}
	changePct := types.PercentChange(from, pNow)

	if changePct.Abs().LessThan(a.cfg.ImpulseThresholdPct) {
		return
	}

	direction := types.ImpulseUp
	if changePct.IsNegative() {
		direction = types.ImpulseDown
	}

	confidence := a.momentumAgreement(feeds, mu.update.Symbol, direction)

	impulse := types.PriceImpulse{
		Symbol:     mu.update.Symbol,
		Exchange:   mu.exchange,
		Direction:  direction,
		ChangePct:  changePct,
		FromPrice:  from,
		ToPrice:    pNow,
		WindowMs:   a.cfg.ImpulseWindow.Milliseconds(),
		Timestamp:  mu.update.Timestamp,
		Confidence: confidence,
	}

	select {
	case a.impulses <- impulse:
	default:
		a.logger.Warn("impulse channel full, dropping impulse", "symbol", impulse.Symbol)
	}
}

func (a *Aggregator) momentumAgreement(feeds map[string]*feed.Feed, symbol string, direction types.ImpulseDirection) decimal.Decimal {
	if len(feeds) == 0 {
		return decimal.Zero
	}
	agree := 0
	for _, f := range feeds {
		m := f.Momentum(symbol, a.cfg.ImpulseWindow)
		if m.Direction == direction {
			agree++
		}
	}
	return decimal.NewFromInt(int64(agree)).Div(decimal.NewFromInt(int64(len(feeds))))
}

// detectCrossExchange emits an advisory CrossExchangeOpportunity when the
// best bid (one venue) exceeds the best ask (a different venue) by more than
// the configured minimum delta.
func (a *Aggregator) detectCrossExchange(symbol string) {
	a.aggMu.RLock()
	ap, ok := a.agg[symbol]
	var bestBid, bestAsk types.ExchangePrice
	if ok {
		bestBid, bestAsk = ap.BestBid, ap.BestAsk
	}
	a.aggMu.RUnlock()
	if !ok {
		return
	}

	if bestBid.Exchange == "" || bestAsk.Exchange == "" || bestBid.Exchange == bestAsk.Exchange {
		return
	}
	if !bestBid.Price.GreaterThan(bestAsk.Price) {
		return
	}
	if bestAsk.Price.IsZero() {
		return
	}
	spreadPct := bestBid.Price.Sub(bestAsk.Price).Div(bestAsk.Price)
	if spreadPct.LessThanOrEqual(a.cfg.CrossExchangeMinDelta) {
		return
	}

	opp := types.CrossExchangeOpportunity{
		Symbol:      symbol,
		BidExchange: bestBid.Exchange,
		AskExchange: bestAsk.Exchange,
		Bid:         bestBid.Price,
		Ask:         bestAsk.Price,
		SpreadPct:   spreadPct,
		Timestamp:   time.Now(),
	}

	select {
	case a.cross <- opp:
	default:
		a.logger.Warn("cross-exchange channel full, dropping opportunity", "symbol", symbol)
	}
}
