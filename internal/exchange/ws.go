// ws.go implements the CLOB WebSocket feed: one connection subscribed to a
// set of token IDs, carrying book snapshots, incremental price changes, and
// trade prints. Auto-reconnects with exponential backoff (1s -> 30s max) and
// re-subscribes to every tracked token on reconnection. A read deadline
// (90s) ensures a silently dead connection is detected within ~2 missed
// pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// SubscribeFrame is the client->server subscribe/unsubscribe message.
type SubscribeFrame struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// LevelWire is one {price, size} rung as the venue encodes it — both as
// strings, parsed into decimal.Decimal on receipt.
type LevelWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (l LevelWire) decimals() (price, size decimal.Decimal) {
	price, _ = decimal.NewFromString(l.Price)
	size, _ = decimal.NewFromString(l.Size)
	return price, size
}

// BookEvent is a full book snapshot for one token.
type BookEvent struct {
	Type    string      `json:"type"`
	AssetID string      `json:"asset_id"`
	Bids    []LevelWire `json:"bids"`
	Asks    []LevelWire `json:"asks"`
}

// PriceChangeEvent is an incremental book delta. Size "0" means delete the
// level.
type PriceChangeEvent struct {
	Type    string    `json:"type"`
	AssetID string    `json:"asset_id"`
	Side    string    `json:"side"` // "buy" or "sell"
	Price   string    `json:"price"`
	Size    string    `json:"size"`
	Seq     int64     `json:"seq"`
}

// TradeEvent is a print on the tape.
type TradeEvent struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// WSFeed manages the single market-channel WebSocket connection.
type WSFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	bookCh        chan BookEvent
	priceChangeCh chan PriceChangeEvent
	tradeCh       chan TradeEvent

	logger *slog.Logger
}

// NewWSFeed creates a market-channel WebSocket feed.
func NewWSFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:           wsURL,
		subscribed:    make(map[string]bool),
		bookCh:        make(chan BookEvent, eventBufferSize),
		priceChangeCh: make(chan PriceChangeEvent, eventBufferSize),
		tradeCh:       make(chan TradeEvent, eventBufferSize),
		logger:        logger.With("component", "ws_feed"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *WSFeed) BookEvents() <-chan BookEvent { return f.bookCh }

// PriceChangeEvents returns a read-only channel of incremental book deltas.
func (f *WSFeed) PriceChangeEvents() <-chan PriceChangeEvent { return f.priceChangeCh }

// TradeEvents returns a read-only channel of trade prints.
func (f *WSFeed) TradeEvents() <-chan TradeEvent { return f.tradeCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

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

// Subscribe adds token IDs to the live subscription and, if connected, sends
// the subscribe frame immediately.
func (f *WSFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(SubscribeFrame{Type: "subscribe", Channel: "market", AssetIDs: ids})
}

// Unsubscribe removes token IDs from the live subscription.
func (f *WSFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(SubscribeFrame{Type: "unsubscribe", Channel: "market", AssetIDs: ids})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
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

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(SubscribeFrame{Type: "subscribe", Channel: "market", AssetIDs: ids})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "book":
		var evt BookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		var evt PriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case f.priceChangeCh <- evt:
		default:
			f.logger.Warn("price_change channel full, dropping event", "asset", evt.AssetID)
		}

	case "trade":
		var evt TradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "asset", evt.AssetID)
		}

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.Type)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil // not connected yet; sendInitialSubscription covers reconnect
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
