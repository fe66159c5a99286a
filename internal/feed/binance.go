package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

// BinanceAdapter implements Adapter for Binance's combined-stream WebSocket
// and public REST klines endpoint.
//
// Stream names: {symbol_lower}@bookTicker, {symbol_lower}@trade. Combined
// stream URL: {base}?streams=a/b/c.
type BinanceAdapter struct {
	wsBase   string // e.g. wss://stream.binance.com:9443/stream
	restBase string // e.g. https://api.binance.com
	http     *resty.Client
}

// NewBinanceAdapter creates an adapter pointed at the given WS and REST bases.
func NewBinanceAdapter(wsBase, restBase string) *BinanceAdapter {
	return &BinanceAdapter{
		wsBase:   wsBase,
		restBase: restBase,
		http: resty.New().
			SetBaseURL(restBase).
			SetTimeout(10 * time.Second),
	}
}

func (a *BinanceAdapter) Name() string { return "binance" }

// DialURL builds the combined-stream URL subscribing to bookTicker and trade
// streams for every symbol.
func (a *BinanceAdapter) DialURL(symbols []string) string {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@bookTicker", lower+"@trade")
	}
	return fmt.Sprintf("%s?streams=%s", a.wsBase, strings.Join(streams, "/"))
}

// binanceEnvelope wraps every combined-stream frame.
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceBookTicker struct {
	Symbol  string `json:"s"`
	BidPx   string `json:"b"`
	AskPx   string `json:"a"`
}

type binanceTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
}

// Parse decodes a combined-stream frame. bookTicker frames produce a
// PriceUpdate with both sides of the book; trade frames produce a
// PriceUpdate with bid=ask=trade price (used for volume/momentum tracking
// between book-ticker ticks).
func (a *BinanceAdapter) Parse(raw []byte) (types.PriceUpdate, bool, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.PriceUpdate{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch {
	case strings.HasSuffix(env.Stream, "@bookTicker"):
		var t binanceBookTicker
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return types.PriceUpdate{}, false, fmt.Errorf("unmarshal bookTicker: %w", err)
		}
		bid, err := decimal.NewFromString(t.BidPx)
		if err != nil {
			return types.PriceUpdate{}, false, fmt.Errorf("parse bid: %w", err)
		}
		ask, err := decimal.NewFromString(t.AskPx)
		if err != nil {
			return types.PriceUpdate{}, false, fmt.Errorf("parse ask: %w", err)
		}
		return types.PriceUpdate{
			Exchange:  a.Name(),
			Symbol:    strings.ToUpper(t.Symbol),
			BestBid:   bid,
			BestAsk:   ask,
			Timestamp: time.Now(),
			Raw:       raw,
		}, true, nil

	case strings.HasSuffix(env.Stream, "@trade"):
		var tr binanceTrade
		if err := json.Unmarshal(env.Data, &tr); err != nil {
			return types.PriceUpdate{}, false, fmt.Errorf("unmarshal trade: %w", err)
		}
		price, err := decimal.NewFromString(tr.Price)
		if err != nil {
			return types.PriceUpdate{}, false, fmt.Errorf("parse trade price: %w", err)
		}
		return types.PriceUpdate{
			Exchange:  a.Name(),
			Symbol:    strings.ToUpper(tr.Symbol),
			BestBid:   price,
			BestAsk:   price,
			Timestamp: time.Now(),
			Raw:       raw,
		}, true, nil

	default:
		return types.PriceUpdate{}, false, nil
	}
}

// FetchOHLCV calls GET /api/v3/klines.
func (a *BinanceAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	var raw [][]interface{}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   strings.ToUpper(symbol),
			"interval": timeframe,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("klines request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		open, _ := decimal.NewFromString(fmt.Sprintf("%v", row[1]))
		high, _ := decimal.NewFromString(fmt.Sprintf("%v", row[2]))
		low, _ := decimal.NewFromString(fmt.Sprintf("%v", row[3]))
		close, _ := decimal.NewFromString(fmt.Sprintf("%v", row[4]))
		volume, _ := decimal.NewFromString(fmt.Sprintf("%v", row[5]))
		candles = append(candles, Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Timestamp: time.UnixMilli(int64(openTime)),
		})
	}
	return candles, nil
}
