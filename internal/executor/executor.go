// Package executor turns a detector's TradeSignal into one or more venue
// orders, and reconciles the outcome against the Ledger. A signal's Payload
// determines its leg group: a DirectionalPayload is one leg; a PairPayload or
// CoverPayload is an atomic group that must either fill in full or unwind
// completely; a MakerPayload is two independent resting quotes, not an
// atomic group.
//
// Leg groups are executed FOK-style at this layer regardless of the
// OrderType sent to the venue: if every leg fills, the group commits to the
// Ledger with its realized P&L; if any leg is left unfilled, every other leg
// in the group is cancelled, the reservation is released, and a
// PartialFailure entry is journaled — no Ledger mutation occurs.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"arbbot/internal/errs"
	"arbbot/internal/exchange"
	"arbbot/internal/ledger"
	"arbbot/pkg/types"
)

// Journal is the narrow interface Executor writes entries to.
type Journal interface {
	Write(entry any) error
}

// TradeEntry is journaled on every committed fill (live or simulated).
type TradeEntry struct {
	Timestamp time.Time
	Strategy  string
	MarketID  string
	TokenID   string
	Side      types.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Cost      decimal.Decimal
	PnL       decimal.Decimal
	Status    string
	Simulated bool
}

// PartialFailureEntry is journaled when a leg group unwinds.
type PartialFailureEntry struct {
	Timestamp time.Time
	Strategy  string
	MarketID  string
	Reason    string
	Legs      []Leg
}

// Leg is one planned order within a signal's leg group.
type Leg struct {
	TokenID string
	Side    types.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	Type    types.OrderType
}

// ClosedPnL summarizes the result of Close.
type ClosedPnL struct {
	MarketID    string
	RealizedPnL decimal.Decimal
}

// Executor places orders and commits their outcome to the Ledger.
type Executor struct {
	client  *exchange.Client
	ledger  *ledger.Ledger
	journal Journal
	logger  *slog.Logger
	dryRun  bool
}

// New creates an Executor. journal may be nil (entries dropped, used in tests).
func New(client *exchange.Client, lg *ledger.Ledger, journal Journal, dryRun bool, logger *slog.Logger) *Executor {
	return &Executor{
		client:  client,
		ledger:  lg,
		journal: journal,
		dryRun:  dryRun,
		logger:  logger.With("component", "executor"),
	}
}

// Execute plans the signal's leg group, reserves capital, places every leg,
// and commits or unwinds depending on whether every leg filled.
func (e *Executor) Execute(ctx context.Context, signal types.TradeSignal) error {
	legs := planLegs(signal)
	if len(legs) == 0 {
		return nil // MakerPayload quotes are handled by Quote, not Execute
	}

	totalCost := decimal.Zero
	for _, l := range legs {
		totalCost = totalCost.Add(l.Price.Mul(l.Size))
	}

	res, err := e.ledger.Reserve(ctx, totalCost)
	if err != nil {
		return err // ErrInsufficientCapital: caller drops the signal silently
	}

	fills := make([]ledger.LegFill, 0, len(legs))
	placedOrderIDs := make([]string, 0, len(legs))
	allFilled := true
	var transportErr error

	for i, leg := range legs {
		clientOrderID := e.idempotencyKey(signal, leg, i)
		result, err := e.client.PlaceOrder(ctx, exchange.Order{
			TokenID:       leg.TokenID,
			Side:          leg.Side,
			Price:         leg.Price,
			Size:          leg.Size,
			Type:          leg.Type,
			ClientOrderID: clientOrderID,
		})
		if err != nil {
			allFilled = false
			transportErr = err
			break
		}
		placedOrderIDs = append(placedOrderIDs, result.OrderID)

		if !result.FilledSize.Equal(leg.Size) {
			allFilled = false
		}
		fills = append(fills, ledger.LegFill{
			MarketID:   signal.MarketID,
			TokenID:    leg.TokenID,
			Strategy:   signal.Strategy,
			Side:       leg.Side,
			Price:      result.AvgPrice,
			Size:       result.FilledSize,
			IsCoverLeg: signal.Type == types.SignalCoverSet,
		})
	}

	if !allFilled {
		e.unwind(ctx, signal, legs, placedOrderIDs, fills)
		if _, err := e.ledger.ApplyFill(ctx, res, nil); err != nil {
			e.logger.Warn("release reservation after unwind failed", "strategy", signal.Strategy, "market", signal.MarketID, "error", err)
		}
		if transportErr != nil {
			return fmt.Errorf("%w: strategy %s market %s: %v", errs.ErrTransientTransport, signal.Strategy, signal.MarketID, transportErr)
		}
		return fmt.Errorf("%w: strategy %s market %s", errs.ErrPartialFailure, signal.Strategy, signal.MarketID)
	}

	delta, err := e.ledger.ApplyFill(ctx, res, fills)
	if err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}

	if e.journal == nil {
		return nil
	}
	for _, f := range fills {
		e.journal.Write(TradeEntry{
			Timestamp: time.Now(),
			Strategy:  signal.Strategy,
			MarketID:  f.MarketID,
			TokenID:   f.TokenID,
			Side:      f.Side,
			Price:     f.Price,
			Size:      f.Size,
			Cost:      f.Price.Mul(f.Size),
			PnL:       delta.RealizedPnL,
			Status:    "filled",
			Simulated: e.dryRun,
		})
	}

	return nil
}

// unwind cancels every resting order from a failed leg group. Legs placed
// as FOK either filled in full or were killed by the venue with zero fill,
// so placedOrderIDs are cancelled best-effort in case any is still resting
// (e.g. a GTC single-leg signal); fills records what, if anything, the group
// actually bought, for the journal entry only — the Ledger never sees it.
func (e *Executor) unwind(ctx context.Context, signal types.TradeSignal, legs []Leg, placedOrderIDs []string, fills []ledger.LegFill) {
	for _, id := range placedOrderIDs {
		if _, err := e.client.CancelOrder(ctx, id); err != nil {
			e.logger.Warn("cancel resting leg failed during unwind", "order_id", id, "error", err)
		}
	}
	if e.journal != nil {
		e.journal.Write(PartialFailureEntry{
			Timestamp: time.Now(),
			Strategy:  signal.Strategy,
			MarketID:  signal.MarketID,
			Reason:    "one or more legs did not fill",
			Legs:      legs,
		})
	}
	if len(fills) > 0 {
		e.logger.Warn("leg group left partial fills uncommitted to ledger", "strategy", signal.Strategy, "market", signal.MarketID, "legs_filled", len(fills))
	}
}

// Quote places (or replaces) the two resting orders described by a
// MakerPayload. Unlike Execute's leg groups, a quote is not atomic — each
// side lives or dies independently until the next refresh cancels and
// replaces it.
func (e *Executor) Quote(ctx context.Context, signal types.TradeSignal) ([]string, error) {
	maker, ok := signal.Payload.(types.MakerPayload)
	if !ok {
		return nil, fmt.Errorf("Quote called with non-maker payload %T", signal.Payload)
	}

	var orderIDs []string
	bidLeg := Leg{TokenID: maker.TokenID, Side: types.BUY, Price: maker.OurBid, Size: maker.BidSize, Type: types.OrderTypeGTC}
	bidResult, err := e.client.PlaceOrder(ctx, exchange.Order{
		TokenID:       bidLeg.TokenID,
		Side:          bidLeg.Side,
		Price:         bidLeg.Price,
		Size:          bidLeg.Size,
		Type:          bidLeg.Type,
		ClientOrderID: e.idempotencyKey(signal, bidLeg, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: place bid quote: %v", errs.ErrTransientTransport, err)
	}
	orderIDs = append(orderIDs, bidResult.OrderID)

	askLeg := Leg{TokenID: maker.TokenID, Side: types.SELL, Price: maker.OurAsk, Size: maker.AskSize, Type: types.OrderTypeGTC}
	askResult, err := e.client.PlaceOrder(ctx, exchange.Order{
		TokenID:       askLeg.TokenID,
		Side:          askLeg.Side,
		Price:         askLeg.Price,
		Size:          askLeg.Size,
		Type:          askLeg.Type,
		ClientOrderID: e.idempotencyKey(signal, askLeg, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: place ask quote: %v", errs.ErrTransientTransport, err)
	}
	orderIDs = append(orderIDs, askResult.OrderID)

	return orderIDs, nil
}

// Close cancels resting orders and realizes P&L for every open position tagged
// with strategy on marketID.
func (e *Executor) Close(ctx context.Context, marketID, strategy string) (ClosedPnL, error) {
	if _, err := e.client.CancelMarketOrders(ctx, marketID); err != nil {
		e.logger.Warn("cancel market orders before close failed", "market", marketID, "error", err)
	}
	delta, err := e.ledger.Close(ctx, marketID, strategy, nil)
	if err != nil {
		return ClosedPnL{}, err
	}
	return ClosedPnL{MarketID: marketID, RealizedPnL: delta.RealizedPnL}, nil
}

// idempotencyKey derives a client order ID deterministically from the
// signal's own identity (strategy, market, the detector's GeneratedAt
// timestamp) and the leg being placed, with no per-call counter — a
// transport retry that re-executes the same signal reproduces the same key
// and collapses at the venue instead of duplicating the order.
func (e *Executor) idempotencyKey(signal types.TradeSignal, leg Leg, legIndex int) string {
	input := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s",
		signal.Strategy, signal.MarketID, signal.GeneratedAt.Format(time.RFC3339Nano),
		legIndex, leg.TokenID, leg.Price.String(), leg.Size.String())
	hash := crypto.Keccak256Hash([]byte(input))
	return hash.Hex()
}

// planLegs dispatches on the signal's payload type to build its leg group.
// MakerPayload signals return nil — they're handled by Quote.
func planLegs(signal types.TradeSignal) []Leg {
	orderType := types.OrderTypeFOK

	switch p := signal.Payload.(type) {
	case types.DirectionalPayload:
		return []Leg{{
			TokenID: p.TokenID,
			Side:    signal.Side,
			Price:   signal.TargetPrice,
			Size:    signal.TargetSize,
			Type:    types.OrderTypeGTC,
		}}

	case types.PairPayload:
		side := types.BUY
		if signal.Type == types.SignalSellPair {
			side = types.SELL
		}
		return []Leg{
			{TokenID: p.YesTokenID, Side: side, Price: p.YesPrice, Size: signal.TargetSize, Type: orderType},
			{TokenID: p.NoTokenID, Side: side, Price: p.NoPrice, Size: signal.TargetSize, Type: orderType},
		}

	case types.CoverPayload:
		legs := make([]Leg, len(p.Legs))
		for i, l := range p.Legs {
			legs[i] = Leg{
				TokenID: l.TokenID,
				Side:    types.BUY,
				Price:   l.Price,
				Size:    signal.TargetSize.Mul(l.Weight),
				Type:    orderType,
			}
		}
		return legs

	default:
		return nil
	}
}
