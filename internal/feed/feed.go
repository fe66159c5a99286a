// Package feed implements PriceFeed: one long-lived streaming connection per
// external spot exchange, exposing cached history, momentum, and an
// out-of-band historical OHLCV query.
//
// The wire format differs per exchange, so Feed is generic over an Adapter
// that knows how to build the subscribe/dial target and parse incoming
// frames into types.PriceUpdate. internal/feed/binance.go supplies the
// concrete Binance-style adapter.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

const (
	maxReconnectWait = 60 * time.Second // spec: doubling from 1s up to 60s
	readTimeout      = 30 * time.Second // spec: WS read idle-timeout 30s -> reconnect
	writeTimeout     = 10 * time.Second
	updatesBuffer    = 512
	historyCapacity  = 1000 // bounded ring buffer per symbol
)

// Candle is one OHLCV bar returned by FetchOHLCV.
type Candle struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Adapter knows how to talk to one exchange's streaming and REST APIs.
// Implementations must be safe to call concurrently.
type Adapter interface {
	// Name returns the exchange name used to tag PriceUpdates.
	Name() string
	// DialURL builds the combined-stream WS URL for the given symbol set.
	DialURL(symbols []string) string
	// Parse decodes one inbound WS frame into a PriceUpdate. ok is false for
	// frames that aren't a price update (e.g. a subscription ack).
	Parse(raw []byte) (update types.PriceUpdate, ok bool, err error)
	// FetchOHLCV performs a synchronous historical query with a bounded
	// response size.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Momentum summarizes directional price movement over a lookback window.
type Momentum struct {
	Direction  types.ImpulseDirection
	Strength   decimal.Decimal // |change_pct| / (volatility + epsilon)
	ChangePct  decimal.Decimal
	Volatility decimal.Decimal // population stddev of mid prices over the window
}

var epsilon = decimal.New(1, -9)

// Feed streams top-of-book and trade updates for a set of symbols from one
// exchange, with auto-reconnect and bounded per-symbol history.
type Feed struct {
	adapter Adapter
	logger  *slog.Logger

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	connMu      sync.Mutex
	conn        *websocket.Conn
	resubscribe chan struct{}

	historyMu sync.RWMutex
	history   map[string][]types.PriceUpdate

	updatesCh chan types.PriceUpdate
}

// New creates a Feed for the given adapter. No connection is made until Run
// is called.
func New(adapter Adapter, logger *slog.Logger) *Feed {
	return &Feed{
		adapter:     adapter,
		logger:      logger.With("component", "feed", "exchange", adapter.Name()),
		subscribed:  make(map[string]bool),
		resubscribe: make(chan struct{}, 1),
		history:     make(map[string][]types.PriceUpdate),
		updatesCh:   make(chan types.PriceUpdate, updatesBuffer),
	}
}

// Updates returns the channel every new PriceUpdate is published on, in
// arrival order. A single slow or failing consumer draining this channel
// must not block the feed — callers should drain it on their own goroutine.
func (f *Feed) Updates() <-chan types.PriceUpdate {
	return f.updatesCh
}

// Subscribe idempotently joins symbol to the subscription set. If the
// transport is down (or the set changed), it triggers a (re)connect.
func (f *Feed) Subscribe(symbol string) {
	f.subscribedMu.Lock()
	_, already := f.subscribed[symbol]
	f.subscribed[symbol] = true
	f.subscribedMu.Unlock()

	if !already {
		f.triggerResubscribe()
	}
}

// Unsubscribe removes symbol from the set. The transport is only closed once
// the set becomes empty.
func (f *Feed) Unsubscribe(symbol string) {
	f.subscribedMu.Lock()
	delete(f.subscribed, symbol)
	empty := len(f.subscribed) == 0
	f.subscribedMu.Unlock()

	if empty {
		f.connMu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.connMu.Unlock()
		return
	}
	f.triggerResubscribe()
}

func (f *Feed) triggerResubscribe() {
	select {
	case f.resubscribe <- struct{}{}:
	default:
	}
}

func (f *Feed) symbolSet() []string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	out := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		out = append(out, s)
	}
	return out
}

// Run maintains the WS connection with exponential backoff reconnect,
// re-dialing the combined stream URL from the current subscription set each
// time. Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if len(f.symbolSet()) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.resubscribe:
				continue
			}
		}

		connected, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = time.Second
		}

		f.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// connectAndRead dials and reads until disconnect or resubscribe. The
// returned bool reports whether the dial itself succeeded, so Run only
// resets its backoff after an actual connection (not a repeated dial failure).
func (f *Feed) connectAndRead(ctx context.Context) (connected bool, err error) {
	url := f.adapter.DialURL(f.symbolSet())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("feed connected", "symbols", f.symbolSet())

	errCh := make(chan error, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			f.dispatch(msg)
		}
	}()

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-f.resubscribe:
		return true, fmt.Errorf("resubscribing with new symbol set")
	case err := <-errCh:
		return true, fmt.Errorf("read: %w", err)
	}
}

func (f *Feed) dispatch(raw []byte) {
	update, ok, err := f.adapter.Parse(raw)
	if err != nil {
		f.logger.Debug("ignoring unparseable frame", "error", err)
		return
	}
	if !ok {
		return
	}

	f.historyMu.Lock()
	buf := f.history[update.Symbol]
	buf = append(buf, update)
	if len(buf) > historyCapacity {
		buf = buf[len(buf)-historyCapacity:]
	}
	f.history[update.Symbol] = buf
	f.historyMu.Unlock()

	select {
	case f.updatesCh <- update:
	default:
		f.logger.Warn("updates channel full, dropping update", "symbol", update.Symbol)
	}
}

// Latest returns the last cached PriceUpdate for symbol, if any.
func (f *Feed) Latest(symbol string) (types.PriceUpdate, bool) {
	f.historyMu.RLock()
	defer f.historyMu.RUnlock()
	buf := f.history[symbol]
	if len(buf) == 0 {
		return types.PriceUpdate{}, false
	}
	return buf[len(buf)-1], true
}

// History returns up to the last n updates for symbol in arrival order.
func (f *Feed) History(symbol string, n int) []types.PriceUpdate {
	f.historyMu.RLock()
	defer f.historyMu.RUnlock()
	buf := f.history[symbol]
	if n >= len(buf) {
		out := make([]types.PriceUpdate, len(buf))
		copy(out, buf)
		return out
	}
	out := make([]types.PriceUpdate, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// FetchOHLCV delegates to the adapter's historical query.
func (f *Feed) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	candles, err := f.adapter.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}
	return candles, nil
}

// Momentum computes direction, strength, change_pct, and volatility over the
// lookback window ending at the most recent cached update.
func (f *Feed) Momentum(symbol string, lookback time.Duration) Momentum {
	f.historyMu.RLock()
	buf := append([]types.PriceUpdate(nil), f.history[symbol]...)
	f.historyMu.RUnlock()

	if len(buf) == 0 {
		return Momentum{}
	}

	latest := buf[len(buf)-1]
	cutoff := latest.Timestamp.Add(-lookback)

	windowed := make([]types.PriceUpdate, 0, len(buf))
	for _, u := range buf {
		if !u.Timestamp.Before(cutoff) {
			windowed = append(windowed, u)
		}
	}
	if len(windowed) == 0 {
		windowed = buf
	}

	from := windowed[0].Mid()
	to := windowed[len(windowed)-1].Mid()
	if from.IsZero() {
		return Momentum{}
	}
	changePct := types.PercentChange(from, to)

	mids := make([]float64, len(windowed))
	for i, u := range windowed {
		mids[i], _ = u.Mid().Float64()
	}
	volatility := decimal.NewFromFloat(populationStdDev(mids))

	strength := changePct.Abs().Div(volatility.Add(epsilon))

	direction := types.ImpulseUp
	if changePct.IsNegative() {
		direction = types.ImpulseDown
	}

	return Momentum{
		Direction:  direction,
		Strength:   strength,
		ChangePct:  changePct,
		Volatility: volatility,
	}
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiffSum float64
	for _, v := range values {
		diff := v - mean
		sqDiffSum += diff * diff
	}
	return math.Sqrt(sqDiffSum / float64(len(values)))
}
