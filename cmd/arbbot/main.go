// Command arbbot is an always-on arbitrage engine for a binary
// prediction-market venue.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires every
//	                          component, waits for SIGINT/SIGTERM/a duration
//	                          cutoff/a risk halt
//	internal/feed           — spot-price WebSocket feeds (Binance adapter)
//	internal/aggregator     — fan-in across exchanges, cross-venue impulse
//	                          detection
//	internal/book           — per-token local order book mirror
//	internal/registry       — slow-cadence CLOB catalog poller
//	internal/detectors      — five pure-function opportunity scanners
//	internal/ledger         — single-actor capital/position bookkeeping
//	internal/executor       — turns a signal into venue orders, reconciles
//	                          fills against the Ledger
//	internal/scheduler      — per-strategy cadence loops, ranking, the
//	                          session-wide risk halt, resolution sweeps
//	internal/journal        — trade/position/performance/session history,
//	                          notifications
//	internal/exchange       — CLOB REST/WS client, HMAC auth, rate limiting
//
// Exit codes: 0 normal completion (signal or --duration elapsed), 1
// unrecoverable startup failure, 2 the session-wide risk limit tripped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"arbbot/internal/aggregator"
	"arbbot/internal/config"
	"arbbot/internal/exchange"
	"arbbot/internal/executor"
	"arbbot/internal/feed"
	"arbbot/internal/journal"
	"arbbot/internal/ledger"
	"arbbot/internal/registry"
	"arbbot/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	capitalOverride := flag.Float64("capital", 0, "override bot.capital (0 = use config)")
	duration := flag.Duration("duration", 0, "stop automatically after this long (0 = run until signalled)")
	interval := flag.Duration("interval", 0, "override the catalog poll interval (0 = use spec default of 5m)")
	live := flag.Bool("live", false, "place real orders (overrides config bot.dry_run=false)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *capitalOverride > 0 {
		cfg.Bot.Capital = *capitalOverride
	}
	if *live {
		cfg.Bot.DryRun = false
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if cfg.Bot.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	journalDir := cfg.Journal.DataDir
	if journalDir == "" {
		journalDir = "data/journal"
	}
	fileJournal, err := journal.NewFileJournal(journalDir, logger)
	if err != nil {
		logger.Error("failed to open journal", "error", err, "dir", journalDir)
		os.Exit(1)
	}
	notifier := journal.NewLogNotifier(logger)

	capital := decimal.NewFromFloat(cfg.Bot.Capital)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *duration > 0 {
		go func() {
			select {
			case <-time.After(*duration):
				logger.Info("duration elapsed, shutting down", "duration", *duration)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	// --- spot feeds -> aggregator ---------------------------------------
	agg := aggregator.New(aggregator.DefaultConfig(), logger)
	for _, ex := range cfg.API.Exchanges {
		if ex.Name != "binance" {
			logger.Warn("unsupported spot exchange adapter, skipping", "exchange", ex.Name)
			continue
		}
		adapter := feed.NewBinanceAdapter(ex.WSURL, "https://api.binance.com")
		f := feed.New(adapter, logger)
		for _, sym := range ex.Symbols {
			f.Subscribe(sym)
			agg.Subscribe(sym)
		}
		agg.AddExchange(ex.Name, f)
		go func(name string) {
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("spot feed stopped", "exchange", name, "error", err)
			}
		}(ex.Name)
	}
	go func() {
		if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("aggregator stopped", "error", err)
		}
	}()

	// --- market catalog ---------------------------------------------------
	reg := registry.New(cfg.API.CLOBBaseURL, *interval, logger)
	go func() {
		if err := reg.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("registry stopped", "error", err)
		}
	}()

	// --- CLOB market-data WebSocket -> book store -------------------------
	books := scheduler.NewBookStore()
	wsFeed := exchange.NewWSFeed(cfg.API.WSMarketURL, logger)
	go func() {
		if err := wsFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("market websocket stopped", "error", err)
		}
	}()
	go pumpBookEvents(ctx, wsFeed, books)
	go subscribeNewTokens(ctx, reg, wsFeed, logger)

	// --- capital/position ledger -------------------------------------------
	lg := ledger.New(capital, fileJournal)
	go func() {
		if err := lg.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ledger stopped", "error", err)
		}
	}()

	// --- order execution ----------------------------------------------------
	auth := exchange.NewAuth(cfg.API.ApiKey, cfg.API.Secret, cfg.API.Passphrase)
	client := exchange.NewClient(*cfg, auth, logger)
	ex := executor.New(client, lg, fileJournal, cfg.Bot.DryRun, logger)

	// --- scheduling, ranking, the risk halt, resolution sweeps -------------
	sched := scheduler.New(*cfg, capital, reg, agg, books, lg, ex, fileJournal, logger)

	sessionID := fmt.Sprintf("session-%d", time.Now().UnixNano())
	sessionStart := time.Now()
	recordSessionStart(fileJournal, sessionID, sessionStart, capital, *cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	logger.Info("arbbot started",
		"capital", capital,
		"dry_run", cfg.Bot.DryRun,
		"max_daily_loss", cfg.Risk.MaxDailyLoss,
	)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-sched.Halted():
		logger.Error("session halted: risk limit breached")
		notifier.Notify("risk_halt", "session halted: current equity breached max_daily_loss")
		exitCode = 2
		cancel()
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	<-done
	recordSessionEnd(lg, fileJournal, sessionID, sessionStart, capital)

	os.Exit(exitCode)
}

// pumpBookEvents translates the CLOB WebSocket's typed event channels into
// BookStore mutations until ctx is cancelled.
func pumpBookEvents(ctx context.Context, wsFeed *exchange.WSFeed, books *scheduler.BookStore) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-wsFeed.BookEvents():
			if !ok {
				return
			}
			books.ApplyBookEvent(evt)
		case evt, ok := <-wsFeed.PriceChangeEvents():
			if !ok {
				return
			}
			books.ApplyPriceChange(evt)
		}
	}
}

const subscribeScanInterval = 30 * time.Second

// subscribeNewTokens watches the registry for markets whose token IDs
// haven't been subscribed on the market WebSocket yet, and subscribes them.
// The registry has no "market added" event, so this polls it every
// subscribeScanInterval.
func subscribeNewTokens(ctx context.Context, reg *registry.Registry, wsFeed *exchange.WSFeed, logger *slog.Logger) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(subscribeScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var fresh []string
			for _, m := range reg.All() {
				for _, o := range m.Outcomes {
					if o.TokenID == "" || seen[o.TokenID] {
						continue
					}
					seen[o.TokenID] = true
					fresh = append(fresh, o.TokenID)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			if err := wsFeed.Subscribe(fresh); err != nil {
				logger.Warn("subscribe failed", "tokens", len(fresh), "error", err)
			}
		}
	}
}

func recordSessionStart(j *journal.FileJournal, sessionID string, start time.Time, capital decimal.Decimal, cfg config.Config) {
	cfg.API.ApiKey, cfg.API.Secret, cfg.API.Passphrase = "", "", ""
	cfgJSON, _ := json.Marshal(cfg)
	j.Write(journal.SessionRecord{
		SessionID:      sessionID,
		Start:          start,
		InitialCapital: capital,
		Config:         cfgJSON,
	})
}

// recordSessionEnd re-upserts sessionID's row with its closing tally.
// FileJournal keys sessions by SessionID, so this overwrites rather than
// appending a second row.
func recordSessionEnd(lg *ledger.Ledger, j *journal.FileJournal, sessionID string, start time.Time, initialCapital decimal.Decimal) {
	snap := lg.Snapshot(context.Background())
	winRate := decimal.Zero
	if snap.Account.TradeCount > 0 {
		winRate = decimal.NewFromInt(int64(snap.Account.WinCount)).Div(decimal.NewFromInt(int64(snap.Account.TradeCount)))
	}
	j.Write(journal.SessionRecord{
		SessionID:      sessionID,
		Start:          start,
		End:            time.Now(),
		InitialCapital: initialCapital,
		FinalCapital:   snap.CurrentEquity,
		TotalTrades:    snap.Account.TradeCount,
		TotalProfit:    snap.Account.CumulativeRealized,
		WinRate:        winRate,
	})
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
