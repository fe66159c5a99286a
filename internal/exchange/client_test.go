package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"arbbot/internal/config"
	"arbbot/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(config.RateLimitConfig{}),
		auth:   NewAuth("k", "s", "p"),
		logger: logger,
	}
}

func TestDryRunPlaceOrderSynthesizesFullFill(t *testing.T) {
	c := newDryRunClient()

	result, err := c.PlaceOrder(context.Background(), Order{
		TokenID:       "tok1",
		Side:          types.BUY,
		Price:         dec("0.50"),
		Size:          dec("10"),
		Type:          types.OrderTypeGTC,
		ClientOrderID: "abc123",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != "filled" {
		t.Errorf("Status = %q, want filled", result.Status)
	}
	if !result.FilledSize.Equal(dec("10")) {
		t.Errorf("FilledSize = %s, want 10", result.FilledSize)
	}
	if !result.AvgPrice.Equal(dec("0.50")) {
		t.Errorf("AvgPrice = %s, want 0.50", result.AvgPrice)
	}
	if result.OrderID == "" {
		t.Errorf("OrderID is empty")
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	c := newDryRunClient()

	resp, err := c.CancelOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if len(resp.Canceled) != 1 || resp.Canceled[0] != "order-1" {
		t.Errorf("Canceled = %v, want [order-1]", resp.Canceled)
	}
}

func TestDryRunCancelMarketOrders(t *testing.T) {
	c := newDryRunClient()

	resp, err := c.CancelMarketOrders(context.Background(), "market-123")
	if err != nil {
		t.Fatalf("CancelMarketOrders: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Config{
		Bot: config.BotConfig{DryRun: true},
		API: config.APIConfig{CLOBBaseURL: "http://localhost"},
	}
	auth := NewAuth("", "", "")
	c := NewClient(cfg, auth, logger)

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.Bot.DryRun is true")
	}
}
