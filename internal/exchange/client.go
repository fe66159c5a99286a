package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbbot/internal/config"
	"arbbot/pkg/types"
)

// Order is the request body for POST /order.
type Order struct {
	TokenID string          `json:"tokenID"`
	Side    types.Side      `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Type    types.OrderType `json:"type"`
	// ClientOrderID is the idempotency key. A retried POST carrying the same
	// value must be collapsed by the venue rather than accepted twice.
	ClientOrderID string `json:"clientOrderID,omitempty"`
}

// OrderResult is the response to POST /order.
type OrderResult struct {
	OrderID    string          `json:"orderID"`
	Status     string          `json:"status"`
	FilledSize decimal.Decimal `json:"filledSize"`
	AvgPrice   decimal.Decimal `json:"avgPrice"`
}

// CancelResult is the response to a DELETE /order or /orders call.
type CancelResult struct {
	Canceled []string `json:"canceled"`
}

// MarketsResponse wraps the paginated GET /markets payload.
type MarketsResponse struct {
	Data       json.RawMessage `json:"data"`
	NextCursor string          `json:"next_cursor"`
}

// BookResponse is the GET /book payload for one token.
type BookResponse struct {
	TokenID string              `json:"token_id"`
	Bids    []types.OrderLevel `json:"bids"`
	Asks    []types.OrderLevel `json:"asks"`
}

// Trade is one row of GET /trades.
type Trade struct {
	ID        string          `json:"id"`
	TokenID   string          `json:"token_id"`
	Side      types.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// PositionRecord is one row of GET /positions.
type PositionRecord struct {
	MarketID string          `json:"market_id"`
	TokenID  string          `json:"token_id"`
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Client is the CLOB REST API client. Catalog, book, and trade reads are
// unauthenticated; GET /positions and every POST/DELETE endpoint are signed
// with Auth.Headers.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(cfg.RateLimits),
		dryRun: cfg.Bot.DryRun,
		logger: logger.With("component", "exchange_client"),
	}
}

// GetMarkets fetches one page of the market catalog.
func (c *Client) GetMarkets(ctx context.Context, cursor string) (*MarketsResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	var result MarketsResponse
	req := c.http.R().SetContext(ctx).SetResult(&result)
	if cursor != "" {
		req.SetQueryParam("next_cursor", cursor)
	}
	resp, err := req.Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetMarket fetches a single market by ID.
func (c *Client) GetMarket(ctx context.Context, id string) (json.RawMessage, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	var result json.RawMessage
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/markets/" + id)
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get market: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetBook fetches the order book for a single token.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	var result BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetTrades fetches recent trades for a token.
func (c *Client) GetTrades(ctx context.Context, tokenID string) ([]Trade, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	var result []Trade
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/trades")
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get trades: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetPositions fetches the account's open venue positions.
func (c *Client) GetPositions(ctx context.Context) ([]PositionRecord, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	headers := c.auth.Headers("GET", "/positions", "")
	var result []PositionRecord
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// PlaceOrder places a single order. In dry-run mode it synthesizes a full
// fill at the requested price without making an HTTP call — the Executor
// relies on this to keep dry-run and live Ledger trajectories identical.
func (c *Client) PlaceOrder(ctx context.Context, order Order) (*OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "token", order.TokenID, "side", order.Side, "price", order.Price, "size", order.Size)
		return &OrderResult{
			OrderID:    "dry-run-" + order.ClientOrderID,
			Status:     "filled",
			FilledSize: order.Size,
			AvgPrice:   order.Price,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers := c.auth.Headers("POST", "/order", string(body))

	var result OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return &CancelResult{Canceled: []string{orderID}}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/order/" + orderID
	headers := c.auth.Headers("DELETE", path, "")
	var result CancelResult
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Delete(path)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Info("order cancelled", "order_id", orderID)
	return &result, nil
}

// CancelMarketOrders cancels every resting order for one market — used by
// the Executor to tear down a failed leg group and release its reservation.
func (c *Client) CancelMarketOrders(ctx context.Context, marketID string) (*CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", marketID)
		return &CancelResult{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers := c.auth.Headers("DELETE", "/orders", "")
	var result CancelResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("market", marketID).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("market orders cancelled", "market", marketID, "count", len(result.Canceled))
	return &result, nil
}
