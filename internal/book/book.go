// Package book maintains a local mirror of one CLOB token's order book,
// initialized from a snapshot and kept current by incremental deltas, with
// VWAP, price-impact, depth, and spread-opportunity queries on top.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// Delta is one incremental book update. Size == 0 deletes the level.
type Delta struct {
	Price     decimal.Decimal
	Size      decimal.Decimal
	Sequence  int64
	Timestamp time.Time
}

// SpreadOpportunity is returned by DetectSpreadOpportunity when the current
// spread clears the caller's minimum.
type SpreadOpportunity struct {
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	Spread          decimal.Decimal
	Mid             decimal.Decimal
	PotentialProfit decimal.Decimal // spread/2
}

// Book is a concurrency-safe local mirror of one CLOB token's full bid/ask
// ladder. Levels are held in maps keyed by price; Snapshot returns bids
// sorted descending by price and asks ascending.
type Book struct {
	mu sync.RWMutex

	tokenID   string
	bids      map[string]types.OrderLevel // keyed by price.String()
	asks      map[string]types.OrderLevel
	lastSeq   int64
	updated   time.Time

	onSnapshot func(types.OrderBookSnapshot)
}

// New creates an empty Book for tokenID. onSnapshot, if non-nil, is invoked
// synchronously after every applied snapshot or delta — callers that need
// async fan-out should make it non-blocking themselves.
func New(tokenID string, onSnapshot func(types.OrderBookSnapshot)) *Book {
	return &Book{
		tokenID:    tokenID,
		bids:       make(map[string]types.OrderLevel),
		asks:       make(map[string]types.OrderLevel),
		onSnapshot: onSnapshot,
	}
}

// ApplySnapshot replaces the entire ladder. Used on initial load and whenever
// a sequence gap forces a resync.
func (b *Book) ApplySnapshot(bids, asks []types.OrderLevel, sequence int64) {
	b.mu.Lock()
	b.bids = make(map[string]types.OrderLevel, len(bids))
	b.asks = make(map[string]types.OrderLevel, len(asks))
	for _, l := range bids {
		if l.Size.IsPositive() {
			b.bids[l.Price.String()] = l
		}
	}
	for _, l := range asks {
		if l.Size.IsPositive() {
			b.asks[l.Price.String()] = l
		}
	}
	b.lastSeq = sequence
	b.updated = time.Now()
	b.mu.Unlock()

	b.emit()
}

// ApplyDelta applies one side's incremental change. A zero size deletes the
// level. A delta referencing a price level this Book doesn't have — with a
// nonzero size — is treated as a level insert: the exchange is authoritative
// on level existence, not our local cache. A detected sequence gap (sequence
// not exactly lastSeq+1) returns false so the caller can request a fresh
// snapshot instead of trusting stale local state.
func (b *Book) ApplyDelta(side types.Side, d Delta) bool {
	b.mu.Lock()
	if b.lastSeq != 0 && d.Sequence != b.lastSeq+1 {
		b.mu.Unlock()
		return false
	}
	b.lastSeq = d.Sequence
	b.updated = time.Now()

	target := b.bids
	if side == types.SELL {
		target = b.asks
	}

	key := d.Price.String()
	if d.Size.IsZero() {
		delete(target, key)
	} else {
		target[key] = types.OrderLevel{Price: d.Price, Size: d.Size}
	}
	b.mu.Unlock()

	b.emit()
	return true
}

func (b *Book) emit() {
	if b.onSnapshot == nil {
		return
	}
	b.onSnapshot(b.Snapshot())
}

// Snapshot returns the current ladder sorted bids-desc / asks-asc.
func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids := make([]types.OrderLevel, 0, len(b.bids))
	for _, l := range b.bids {
		bids = append(bids, l)
	}
	asks := make([]types.OrderLevel, 0, len(b.asks))
	for _, l := range b.asks {
		asks = append(asks, l)
	}
	sortDescending(bids)
	sortAscending(asks)

	return types.OrderBookSnapshot{
		TokenID:   b.tokenID,
		Timestamp: b.updated,
		Bids:      bids,
		Asks:      asks,
	}
}

func sortDescending(levels []types.OrderLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price.GreaterThan(levels[j-1].Price); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

func sortAscending(levels []types.OrderLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price.LessThan(levels[j-1].Price); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// PriceImpact walks the opposite side's ladder in price order, filling until
// qty shares are consumed or the book is exhausted. impact_pct is computed
// against the touch price (the best level on that side before any fill).
func (b *Book) PriceImpact(side types.Side, qty decimal.Decimal) (avgFillPrice, impactPct decimal.Decimal, filled decimal.Decimal) {
	snap := b.Snapshot()
	levels := snap.Asks
	if side == types.SELL {
		levels = snap.Bids
	}
	if len(levels) == 0 || !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	touch := levels[0].Price
	remaining := qty
	cost := decimal.Zero
	filled = decimal.Zero

	for _, l := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := l.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost = cost.Add(take.Mul(l.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	avgFillPrice = cost.Div(filled)
	if touch.IsZero() {
		return avgFillPrice, decimal.Zero, filled
	}
	impactPct = avgFillPrice.Sub(touch).Abs().Div(touch)
	return avgFillPrice, impactPct, filled
}

// VWAP returns the dollar-weighted average price over the given side, using
// at most depthInDollars of notional.
func (b *Book) VWAP(side types.Side, depthInDollars decimal.Decimal) (decimal.Decimal, bool) {
	snap := b.Snapshot()
	levels := snap.Asks
	if side == types.SELL {
		levels = snap.Bids
	}
	if len(levels) == 0 || !depthInDollars.IsPositive() {
		return decimal.Zero, false
	}

	remaining := depthInDollars
	notional := decimal.Zero
	shares := decimal.Zero

	for _, l := range levels {
		if !remaining.IsPositive() {
			break
		}
		levelNotional := l.Size.Mul(l.Price)
		if levelNotional.GreaterThan(remaining) {
			levelShares := remaining.Div(l.Price)
			notional = notional.Add(remaining)
			shares = shares.Add(levelShares)
			remaining = decimal.Zero
			break
		}
		notional = notional.Add(levelNotional)
		shares = shares.Add(l.Size)
		remaining = remaining.Sub(levelNotional)
	}

	if shares.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(shares), true
}

// DetectSpreadOpportunity returns a non-nil SpreadOpportunity when the
// current spread, expressed as a fraction of mid, is at least minSpreadPct.
func (b *Book) DetectSpreadOpportunity(minSpreadPct decimal.Decimal) *SpreadOpportunity {
	snap := b.Snapshot()
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return nil
	}

	bid := snap.BestBid().Price
	ask := snap.BestAsk().Price
	mid := snap.Mid()
	if mid.IsZero() {
		return nil
	}
	spread := ask.Sub(bid)
	spreadPct := spread.Div(mid)
	if spreadPct.LessThan(minSpreadPct) {
		return nil
	}

	return &SpreadOpportunity{
		Bid:             bid,
		Ask:             ask,
		Spread:          spread,
		Mid:             mid,
		PotentialProfit: spread.Div(decimal.NewFromInt(2)),
	}
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last applied snapshot or delta.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
