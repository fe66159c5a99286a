package journal

import (
	"arbbot/internal/executor"
	"arbbot/internal/ledger"
	"arbbot/internal/scheduler"
)

// adapt translates a producer's locally declared entry struct (each package
// defines its own, to avoid importing this package and creating an import
// cycle) into this package's record shape. ok is false for a type adapt
// doesn't recognize, which Write then falls back to logging as a raw event.
func adapt(entry any) (any, bool) {
	switch e := entry.(type) {
	case executor.TradeEntry:
		return TradeRecord{
			Timestamp: e.Timestamp,
			Strategy:  e.Strategy,
			MarketID:  e.MarketID,
			TokenID:   e.TokenID,
			Side:      string(e.Side),
			Price:     e.Price,
			Size:      e.Size,
			Cost:      e.Cost,
			PnL:       e.PnL,
			Status:    e.Status,
			Simulated: e.Simulated,
		}, true

	case ledger.PositionEntry:
		return PositionRecord{
			MarketID:      e.MarketID,
			TokenID:       e.TokenID,
			Strategy:      e.Strategy,
			Side:          e.Side,
			Size:          e.Size,
			AvgEntryPrice: e.AvgEntryPrice,
			TotalCost:     e.TotalCost,
			UpdatedAt:     e.UpdatedAt,
		}, true

	case executor.PartialFailureEntry, scheduler.ResolutionEntry, scheduler.HaltEntry:
		return nil, false // routed to the events log by the caller

	default:
		return nil, false
	}
}
