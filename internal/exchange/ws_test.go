package exchange

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func newTestFeed() *WSFeed {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWSFeed("wss://example.invalid/ws", logger)
}

func TestDispatchMessageRoutesBookEvent(t *testing.T) {
	f := newTestFeed()
	f.dispatchMessage([]byte(`{"type":"book","asset_id":"tok1","bids":[{"price":"0.50","size":"100"}],"asks":[{"price":"0.55","size":"50"}]}`))

	select {
	case evt := <-f.BookEvents():
		if evt.AssetID != "tok1" || len(evt.Bids) != 1 || len(evt.Asks) != 1 {
			t.Errorf("got %+v, want asset tok1 with one bid and one ask", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no book event received")
	}
}

func TestDispatchMessageRoutesPriceChangeEvent(t *testing.T) {
	f := newTestFeed()
	f.dispatchMessage([]byte(`{"type":"price_change","asset_id":"tok1","side":"buy","price":"0.50","size":"0","seq":7}`))

	select {
	case evt := <-f.PriceChangeEvents():
		if evt.AssetID != "tok1" || evt.Seq != 7 || evt.Size != "0" {
			t.Errorf("got %+v, want asset tok1 seq 7 size 0", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no price_change event received")
	}
}

func TestDispatchMessageRoutesTradeEvent(t *testing.T) {
	f := newTestFeed()
	f.dispatchMessage([]byte(`{"type":"trade","asset_id":"tok1","price":"0.52","size":"25"}`))

	select {
	case evt := <-f.TradeEvents():
		if evt.AssetID != "tok1" || evt.Price != "0.52" {
			t.Errorf("got %+v, want asset tok1 price 0.52", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no trade event received")
	}
}

func TestDispatchMessageIgnoresUnknownType(t *testing.T) {
	f := newTestFeed()
	f.dispatchMessage([]byte(`{"type":"last_trade_price","asset_id":"tok1"}`))

	select {
	case <-f.BookEvents():
		t.Fatal("unexpected book event for unknown type")
	case <-f.PriceChangeEvents():
		t.Fatal("unexpected price_change event for unknown type")
	case <-f.TradeEvents():
		t.Fatal("unexpected trade event for unknown type")
	case <-time.After(50 * time.Millisecond):
		// expected: nothing routed
	}
}

func TestDispatchMessageIgnoresNonJSON(t *testing.T) {
	f := newTestFeed()
	f.dispatchMessage([]byte("PONG"))

	select {
	case <-f.BookEvents():
		t.Fatal("unexpected book event for non-json message")
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestSubscribeTracksIDsBeforeConnect(t *testing.T) {
	f := newTestFeed()
	if err := f.Subscribe([]string{"tok1", "tok2"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if !f.subscribed["tok1"] || !f.subscribed["tok2"] {
		t.Errorf("subscribed = %v, want tok1 and tok2 tracked", f.subscribed)
	}
}

func TestUnsubscribeRemovesIDs(t *testing.T) {
	f := newTestFeed()
	f.Subscribe([]string{"tok1", "tok2"})
	f.Unsubscribe([]string{"tok1"})

	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if f.subscribed["tok1"] {
		t.Errorf("tok1 still subscribed after Unsubscribe")
	}
	if !f.subscribed["tok2"] {
		t.Errorf("tok2 should remain subscribed")
	}
}
