package feed

import "testing"

func TestBinanceDialURL(t *testing.T) {
	a := NewBinanceAdapter("wss://stream.binance.com:9443/stream", "https://api.binance.com")
	got := a.DialURL([]string{"BTCUSDT", "ETHUSDT"})
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@bookTicker/btcusdt@trade/ethusdt@bookTicker/ethusdt@trade"
	if got != want {
		t.Errorf("DialURL() = %q, want %q", got, want)
	}
}

func TestBinanceParseBookTicker(t *testing.T) {
	a := NewBinanceAdapter("wss://x", "https://x")
	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"100.50","a":"100.60"}}`)

	u, ok, err := a.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}
	if u.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", u.Symbol)
	}
	if got, _ := u.BestBid.Float64(); got != 100.50 {
		t.Errorf("BestBid = %v, want 100.50", got)
	}
	if got, _ := u.BestAsk.Float64(); got != 100.60 {
		t.Errorf("BestAsk = %v, want 100.60", got)
	}
}

func TestBinanceParseTrade(t *testing.T) {
	a := NewBinanceAdapter("wss://x", "https://x")
	raw := []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"101.25","q":"0.5","T":1700000000000}}`)

	u, ok, err := a.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}
	if !u.BestBid.Equal(u.BestAsk) {
		t.Errorf("trade update should set bid==ask, got bid=%s ask=%s", u.BestBid, u.BestAsk)
	}
}

func TestBinanceParseUnrecognizedStream(t *testing.T) {
	a := NewBinanceAdapter("wss://x", "https://x")
	raw := []byte(`{"stream":"btcusdt@depth","data":{}}`)

	_, ok, err := a.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ok {
		t.Error("Parse() ok = true for unrecognized stream, want false")
	}
}

func TestBinanceParseMalformed(t *testing.T) {
	a := NewBinanceAdapter("wss://x", "https://x")
	if _, _, err := a.Parse([]byte("not json")); err == nil {
		t.Error("Parse() error = nil for malformed input, want error")
	}
}
