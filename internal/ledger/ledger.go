// Package ledger implements the Ledger: the single component that mutates
// capital or positions. Every mutation runs on one owning goroutine so that
// reservation -> fill -> journal is observed as an atomic sequence by any
// concurrent reader, per the "Ledger must not suspend" rule.
//
// Callers never touch capital or position state directly — they send an
// intent (reserve, commit a fill, apply a resolution, close a position) over
// a command channel and block on a per-call reply channel. The actor loop
// processes one intent at a time to completion before reading the next.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/internal/errs"
	"arbbot/pkg/types"
)

// Reservation is the handle returned by Reserve, consumed by ApplyFill.
type Reservation struct {
	ID     string
	Amount decimal.Decimal
}

// LegFill is one leg's execution result fed into ApplyFill.
type LegFill struct {
	MarketID string
	TokenID  string
	Strategy string
	Side     types.Side
	Price    decimal.Decimal
	Size     decimal.Decimal // shares actually filled; 0 for an unfilled leg

	// IsCoverLeg marks a fill as one outcome of a CoverSet group: it accrues
	// into a Coverage rather than an ordinary per-token Position.
	IsCoverLeg bool
}

// Delta summarizes the net effect of one ApplyFill or ApplyResolution call.
type Delta struct {
	RealizedPnL decimal.Decimal
	Refunded    decimal.Decimal
	ClosedMarketID string
}

type commandKind int

const (
	cmdReserve commandKind = iota
	cmdApplyFill
	cmdApplyResolution
	cmdClose
	cmdSnapshot
)

type command struct {
	kind commandKind

	// cmdReserve
	reserveAmount decimal.Decimal

	// cmdApplyFill
	reservation Reservation
	legFills    []LegFill

	// cmdApplyResolution
	marketID     string
	winningToken string

	// cmdClose
	closeMarketID string
	closeStrategy string

	reply chan result
}

type result struct {
	reservation Reservation
	delta       Delta
	snapshot    types.LedgerSnapshot
	err         error
}

// Ledger is the sole owner of capital and position state. Construct with New
// and call Run on its own goroutine before issuing any operation.
type Ledger struct {
	cmdCh  chan command
	nextID int

	account    types.CapitalAccount
	positions  map[string]*types.Position // keyed by marketID|tokenID|strategy
	coverages  map[string]*types.Coverage // keyed by marketID
	journal    Journal
}

// Journal is the narrow interface Ledger writes entries to. Matches
// internal/journal.Journal; declared here to avoid an import cycle.
type Journal interface {
	Write(entry any) error
}

// PositionEntry is journaled every time a fill, resolution, or close
// mutates a position, keyed by (market, token, strategy) so the journal can
// upsert its positions table instead of appending forever. Side "closed"
// with a zero Size marks the position's removal.
type PositionEntry struct {
	MarketID      string
	TokenID       string
	Strategy      string
	Side          string
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	TotalCost     decimal.Decimal
	UpdatedAt     time.Time
}

// New creates a Ledger with the given initial capital. journal may be nil,
// in which case entries are silently dropped (used in tests).
func New(initialCapital decimal.Decimal, journal Journal) *Ledger {
	return &Ledger{
		cmdCh: make(chan command),
		account: types.CapitalAccount{
			InitialCapital:   initialCapital,
			AvailableCapital: initialCapital,
			PeakCapital:      initialCapital,
		},
		positions: make(map[string]*types.Position),
		coverages: make(map[string]*types.Coverage),
		journal:   journal,
	}
}

// Run is the actor loop. It owns every mutation and must run on exactly one
// goroutine. Blocks until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-l.cmdCh:
			l.handle(cmd)
		}
	}
}

func (l *Ledger) handle(cmd command) {
	switch cmd.kind {
	case cmdReserve:
		res, err := l.doReserve(cmd.reserveAmount)
		cmd.reply <- result{reservation: res, err: err}
	case cmdApplyFill:
		delta, err := l.doApplyFill(cmd.reservation, cmd.legFills)
		cmd.reply <- result{delta: delta, err: err}
	case cmdApplyResolution:
		delta := l.doApplyResolution(cmd.marketID, cmd.winningToken)
		cmd.reply <- result{delta: delta}
	case cmdClose:
		delta, err := l.doClose(cmd.closeMarketID, cmd.closeStrategy)
		cmd.reply <- result{delta: delta, err: err}
	case cmdSnapshot:
		cmd.reply <- result{snapshot: l.doSnapshot()}
	}
}

func (l *Ledger) send(cmd command) result {
	cmd.reply = make(chan result, 1)
	l.cmdCh <- cmd
	return <-cmd.reply
}

// Reserve synchronously decrements available_capital and returns a handle
// that must later be consumed by ApplyFill (on success or failure).
func (l *Ledger) Reserve(ctx context.Context, amount decimal.Decimal) (Reservation, error) {
	res := l.send(command{kind: cmdReserve, reserveAmount: amount})
	return res.reservation, res.err
}

func (l *Ledger) doReserve(amount decimal.Decimal) (Reservation, error) {
	if amount.GreaterThan(l.account.AvailableCapital) {
		return Reservation{}, fmt.Errorf("%w: requested %s, available %s", errs.ErrInsufficientCapital, amount, l.account.AvailableCapital)
	}
	l.account.AvailableCapital = l.account.AvailableCapital.Sub(amount)
	l.nextID++
	return Reservation{ID: fmt.Sprintf("res-%d", l.nextID), Amount: amount}, nil
}

// ApplyFill consumes a reservation, applying each leg's fill using the
// size-weighted average price rule, and refunds any unreserved remainder
// when a leg under-fills relative to its reserved notional.
func (l *Ledger) ApplyFill(ctx context.Context, res Reservation, fills []LegFill) (Delta, error) {
	out := l.send(command{kind: cmdApplyFill, reservation: res, legFills: fills})
	return out.delta, out.err
}

func (l *Ledger) doApplyFill(res Reservation, fills []LegFill) (Delta, error) {
	spent := decimal.Zero
	realized := decimal.Zero
	saleProceeds := decimal.Zero

	var coverLegs []types.CoverageLeg
	var coverMarketID string

	for _, f := range fills {
		if !f.Size.IsPositive() {
			continue
		}
		cost := f.Price.Mul(f.Size)

		if f.IsCoverLeg {
			spent = spent.Add(cost)
			coverMarketID = f.MarketID
			coverLegs = append(coverLegs, types.CoverageLeg{TokenID: f.TokenID, Price: f.Price, Size: f.Size})
			continue
		}

		key := positionKey(f.MarketID, f.TokenID, f.Strategy)
		pos, exists := l.positions[key]

		if f.Side == types.BUY {
			spent = spent.Add(cost)
			if !exists {
				l.positions[key] = &types.Position{
					MarketID: f.MarketID, TokenID: f.TokenID, Strategy: f.Strategy,
					Side: types.PosLong, Size: f.Size, AvgEntryPrice: f.Price, TotalCost: cost,
					OpenedAt: time.Now(),
				}
				l.journalPosition(l.positions[key])
				continue
			}
			newSize := pos.Size.Add(f.Size)
			pos.AvgEntryPrice = pos.Size.Mul(pos.AvgEntryPrice).Add(cost).Div(newSize)
			pos.Size = newSize
			pos.TotalCost = pos.TotalCost.Add(cost)
			l.journalPosition(pos)
			continue
		}

		// SELL: close size-first against an existing long, realize PnL on the
		// closed portion. Only SpreadMaking may flip the sign; every other
		// strategy must never go net short.
		if !exists || !pos.Size.IsPositive() {
			if f.Strategy != "spread_making" {
				continue // no long to sell against; nothing to realize
			}
			l.positions[key] = &types.Position{
				MarketID: f.MarketID, TokenID: f.TokenID, Strategy: f.Strategy,
				Side: types.PosShort, Size: f.Size.Neg(), AvgEntryPrice: f.Price, TotalCost: cost.Neg(),
				OpenedAt: time.Now(),
			}
			l.journalPosition(l.positions[key])
			continue
		}

		closedSize := f.Size
		if closedSize.GreaterThan(pos.Size) {
			closedSize = pos.Size
		}
		realized = realized.Add(f.Price.Sub(pos.AvgEntryPrice).Mul(closedSize))
		saleProceeds = saleProceeds.Add(f.Price.Mul(closedSize))
		pos.Size = pos.Size.Sub(closedSize)
		pos.TotalCost = pos.TotalCost.Sub(closedSize.Mul(pos.AvgEntryPrice))

		excess := f.Size.Sub(closedSize)
		if excess.IsPositive() && f.Strategy == "spread_making" {
			pos.Side = types.PosShort
			pos.Size = excess.Neg()
			pos.AvgEntryPrice = f.Price
			pos.TotalCost = excess.Mul(f.Price).Neg()
			l.journalPosition(pos)
		} else if pos.Size.IsZero() {
			delete(l.positions, key)
			l.journalPositionClosed(f.MarketID, f.TokenID, f.Strategy)
		} else {
			l.journalPosition(pos)
		}
	}

	if len(coverLegs) > 0 {
		l.applyCoverageFill(coverMarketID, coverLegs)
	}

	refund := res.Amount.Sub(spent)
	if refund.IsNegative() {
		refund = decimal.Zero
	}
	l.account.AvailableCapital = l.account.AvailableCapital.Add(refund).Add(saleProceeds)
	if len(fills) > 0 {
		l.creditRealized(realized)
	}

	return Delta{RealizedPnL: realized, Refunded: refund}, nil
}

// applyCoverageFill merges legs (one fill per covered outcome) into
// marketID's Coverage, upserting by TokenID with a size-weighted average
// price when a leg repeats an outcome already held.
func (l *Ledger) applyCoverageFill(marketID string, legs []types.CoverageLeg) {
	merged := make(map[string]types.CoverageLeg)
	openedAt := time.Now()
	if existing, ok := l.coverages[marketID]; ok {
		openedAt = existing.OpenedAt
		for _, leg := range existing.Legs {
			merged[leg.TokenID] = leg
		}
	}
	for _, leg := range legs {
		if cur, dup := merged[leg.TokenID]; dup {
			newSize := cur.Size.Add(leg.Size)
			cur.Price = cur.Price.Mul(cur.Size).Add(leg.Price.Mul(leg.Size)).Div(newSize)
			cur.Size = newSize
			merged[leg.TokenID] = cur
		} else {
			merged[leg.TokenID] = leg
		}
	}

	cov := &types.Coverage{MarketID: marketID, OpenedAt: openedAt}
	first := true
	for _, leg := range merged {
		cov.Legs = append(cov.Legs, leg)
		cov.TotalCost = cov.TotalCost.Add(leg.Price.Mul(leg.Size))
		if first || leg.Size.LessThan(cov.MinShares) {
			cov.MinShares = leg.Size
			first = false
		}
	}
	l.coverages[marketID] = cov
}

func (l *Ledger) creditRealized(realized decimal.Decimal) {
	l.account.CumulativeRealized = l.account.CumulativeRealized.Add(realized)
	l.account.TradeCount++
	if realized.IsPositive() {
		l.account.WinCount++
	}
	equity := l.currentEquity()
	if equity.GreaterThan(l.account.PeakCapital) {
		l.account.PeakCapital = equity
	}
}

// ApplyResolution pays out every open position on marketID: size*1 for the
// winning token, zero for the rest, then destroys the positions.
func (l *Ledger) ApplyResolution(ctx context.Context, marketID, winningToken string) Delta {
	out := l.send(command{kind: cmdApplyResolution, marketID: marketID, winningToken: winningToken})
	return out.delta
}

func (l *Ledger) doApplyResolution(marketID, winningToken string) Delta {
	realized := decimal.Zero
	payoutTotal := decimal.Zero

	for key, pos := range l.positions {
		if pos.MarketID != marketID {
			continue
		}
		payout := decimal.Zero
		if pos.TokenID == winningToken {
			payout = pos.Size
		}
		realized = realized.Add(payout.Sub(pos.TotalCost))
		payoutTotal = payoutTotal.Add(payout)
		delete(l.positions, key)
		l.journalPositionClosed(pos.MarketID, pos.TokenID, pos.Strategy)
	}

	if cov, ok := l.coverages[marketID]; ok {
		for _, leg := range cov.Legs {
			if leg.TokenID == winningToken {
				realized = realized.Add(leg.Size.Sub(cov.TotalCost))
				payoutTotal = payoutTotal.Add(leg.Size)
				break
			}
		}
		delete(l.coverages, marketID)
	}

	// The position/coverage's cost basis already left available_capital at
	// fill time and now leaves equity via the delete above, so the winning
	// side's gross payout — not the net realized P&L — is what comes back
	// as cash; the losing side's cost basis simply vanishes from equity.
	l.account.AvailableCapital = l.account.AvailableCapital.Add(payoutTotal)
	l.creditRealized(realized)

	return Delta{RealizedPnL: realized, ClosedMarketID: marketID}
}

// Close issues market sells (represented here as immediate fills at mark
// price, since venue interaction is the Executor's concern) for every open
// position tagged with strategy on marketID, and aggregates the realized PnL.
func (l *Ledger) Close(ctx context.Context, marketID, strategy string, markPrices map[string]decimal.Decimal) (Delta, error) {
	out := l.send(command{kind: cmdClose, closeMarketID: marketID, closeStrategy: strategy})
	_ = markPrices // mark prices are supplied by the caller via ApplyFill in practice; kept for signature parity
	return out.delta, out.err
}

func (l *Ledger) doClose(marketID, strategy string) (Delta, error) {
	realized := decimal.Zero
	saleProceeds := decimal.Zero
	for key, pos := range l.positions {
		if pos.MarketID != marketID || pos.Strategy != strategy {
			continue
		}
		realized = realized.Add(pos.MarkPrice.Sub(pos.AvgEntryPrice).Mul(pos.Size))
		saleProceeds = saleProceeds.Add(pos.MarkPrice.Mul(pos.Size))
		delete(l.positions, key)
		l.journalPositionClosed(pos.MarketID, pos.TokenID, pos.Strategy)
	}
	l.account.AvailableCapital = l.account.AvailableCapital.Add(saleProceeds)
	l.creditRealized(realized)
	return Delta{RealizedPnL: realized, ClosedMarketID: marketID}, nil
}

// Snapshot returns a cheap, read-only copy for the Scheduler's risk checks
// and the Notifier.
func (l *Ledger) Snapshot(ctx context.Context) types.LedgerSnapshot {
	out := l.send(command{kind: cmdSnapshot})
	return out.snapshot
}

func (l *Ledger) doSnapshot() types.LedgerSnapshot {
	positions := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, *p)
	}
	coverages := make([]types.Coverage, 0, len(l.coverages))
	for _, c := range l.coverages {
		coverages = append(coverages, *c)
	}

	return types.LedgerSnapshot{
		Account:       l.account,
		Positions:     positions,
		Coverages:     coverages,
		CurrentEquity: l.currentEquity(),
		TakenAt:       time.Now(),
	}
}

func (l *Ledger) currentEquity() decimal.Decimal {
	positions := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, *p)
	}
	coverages := make([]types.Coverage, 0, len(l.coverages))
	for _, c := range l.coverages {
		coverages = append(coverages, *c)
	}
	return l.account.CurrentEquity(positions, coverages)
}

func positionKey(marketID, tokenID, strategy string) string {
	return marketID + "|" + tokenID + "|" + strategy
}

func (l *Ledger) journalPosition(pos *types.Position) {
	if l.journal == nil {
		return
	}
	side := "long"
	if pos.Side == types.PosShort {
		side = "short"
	}
	l.journal.Write(PositionEntry{
		MarketID:      pos.MarketID,
		TokenID:       pos.TokenID,
		Strategy:      pos.Strategy,
		Side:          side,
		Size:          pos.Size,
		AvgEntryPrice: pos.AvgEntryPrice,
		TotalCost:     pos.TotalCost,
		UpdatedAt:     time.Now(),
	})
}

func (l *Ledger) journalPositionClosed(marketID, tokenID, strategy string) {
	if l.journal == nil {
		return
	}
	l.journal.Write(PositionEntry{
		MarketID:  marketID,
		TokenID:   tokenID,
		Strategy:  strategy,
		Side:      "closed",
		Size:      decimal.Zero,
		UpdatedAt: time.Now(),
	})
}
