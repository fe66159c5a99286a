package scheduler

import (
	"sync"

	"github.com/shopspring/decimal"

	"arbbot/internal/book"
	"arbbot/internal/detectors"
	"arbbot/internal/exchange"
	"arbbot/pkg/types"
)

// BookStore owns one book.Book per CLOB token, fed by the market WebSocket's
// book and price_change events, and answers the touch-quote queries the
// detectors need. It has no notion of which market a token belongs to —
// callers supply that mapping.
type BookStore struct {
	mu      sync.RWMutex
	books   map[string]*book.Book
	updated chan struct{}
}

// NewBookStore creates an empty BookStore.
func NewBookStore() *BookStore {
	return &BookStore{
		books:   make(map[string]*book.Book),
		updated: make(chan struct{}, 1),
	}
}

// Updated signals (non-blocking, coalesced) every time any token's book
// changes. The Parity loop selects on this to react near-instantly to book
// movement instead of waiting out its slow fallback ticker.
func (s *BookStore) Updated() <-chan struct{} {
	return s.updated
}

func (s *BookStore) notify() {
	select {
	case s.updated <- struct{}{}:
	default:
	}
}

func (s *BookStore) get(tokenID string) *book.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[tokenID]
	if !ok {
		b = book.New(tokenID, nil)
		s.books[tokenID] = b
	}
	return b
}

// ApplyBookEvent replaces a token's full ladder from a WS snapshot.
func (s *BookStore) ApplyBookEvent(evt exchange.BookEvent) {
	bids := make([]types.OrderLevel, 0, len(evt.Bids))
	for _, l := range evt.Bids {
		price, size := levelDecimal(l)
		bids = append(bids, types.OrderLevel{Price: price, Size: size})
	}
	asks := make([]types.OrderLevel, 0, len(evt.Asks))
	for _, l := range evt.Asks {
		price, size := levelDecimal(l)
		asks = append(asks, types.OrderLevel{Price: price, Size: size})
	}
	s.get(evt.AssetID).ApplySnapshot(bids, asks, 0)
	s.notify()
}

// ApplyPriceChange applies one incremental level update. A sequence gap is
// silently dropped rather than resynced — the next book snapshot event
// supersedes it, and detectors tolerate a momentarily stale touch price.
func (s *BookStore) ApplyPriceChange(evt exchange.PriceChangeEvent) {
	price, _ := decimal.NewFromString(evt.Price)
	size, _ := decimal.NewFromString(evt.Size)
	side := types.BUY
	if evt.Side == "sell" {
		side = types.SELL
	}
	s.get(evt.AssetID).ApplyDelta(side, book.Delta{Price: price, Size: size, Sequence: evt.Seq})
	s.notify()
}

func levelDecimal(l exchange.LevelWire) (decimal.Decimal, decimal.Decimal) {
	price, _ := decimal.NewFromString(l.Price)
	size, _ := decimal.NewFromString(l.Size)
	return price, size
}

// Quote returns the best bid/ask for tokenID, if the book has both sides.
func (s *BookStore) Quote(tokenID string) (detectors.BookQuote, bool) {
	snap := s.get(tokenID).Snapshot()
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return detectors.BookQuote{}, false
	}
	return detectors.BookQuote{Bid: snap.BestBid().Price, Ask: snap.BestAsk().Price}, true
}

// Mid returns the mid price for tokenID, if the book has both sides.
func (s *BookStore) Mid(tokenID string) (decimal.Decimal, bool) {
	snap := s.get(tokenID).Snapshot()
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return decimal.Zero, false
	}
	return snap.Mid(), true
}

// SpreadQuote returns a SpreadMakingQuote for tokenID/marketID, if the book
// has both sides and a non-zero mid.
func (s *BookStore) SpreadQuote(tokenID, marketID string) (detectors.SpreadMakingQuote, bool) {
	snap := s.get(tokenID).Snapshot()
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return detectors.SpreadMakingQuote{}, false
	}
	mid := snap.Mid()
	if mid.IsZero() {
		return detectors.SpreadMakingQuote{}, false
	}
	bid := snap.BestBid().Price
	ask := snap.BestAsk().Price
	return detectors.SpreadMakingQuote{
		TokenID:   tokenID,
		MarketID:  marketID,
		Bid:       bid,
		Ask:       ask,
		SpreadPct: ask.Sub(bid).Div(mid),
	}, true
}
