// Package journal records trade, position, performance, and session history
// to local disk, and fans out user-facing notifications. It stands in for
// the SQLite journal and Telegram/Discord notifier described only as an
// interface: FileJournal and LogNotifier are the local implementations this
// engine runs against in standalone and dry-run sessions; a real deployment
// wires its own Journal/Notifier behind the same two interfaces.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Journal is the narrow interface every producer (Ledger, Executor,
// Scheduler) writes entries to. Each of those packages declares its own
// identical copy of this interface to avoid importing this package back.
type Journal interface {
	Write(entry any) error
}

// Notifier fans out a user-facing event. Real deployments back this with
// Telegram or Discord; LogNotifier and NullNotifier are the local stand-ins.
type Notifier interface {
	Notify(notifType, message string)
}

// TradeRecord is one row of the trades table: a committed fill, live or
// simulated. Has the same fields as internal/executor.TradeEntry, which adapt
// translates into this shape.
type TradeRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Strategy  string          `json:"strategy"`
	MarketID  string          `json:"market_id"`
	TokenID   string          `json:"token_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Cost      decimal.Decimal `json:"cost"`
	PnL       decimal.Decimal `json:"pnl"`
	Status    string          `json:"status"`
	Simulated bool            `json:"simulated"`
}

// PositionRecord is one row of the positions table, upserted by
// (market_id, token_id, strategy). Mirrors internal/ledger.PositionEntry.
type PositionRecord struct {
	MarketID      string          `json:"market_id"`
	TokenID       string          `json:"token_id"`
	Strategy      string          `json:"strategy"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PerformanceRecord is one row of the performance table: a point-in-time
// metric reading for a strategy (realized_pnl, win_rate, sharpe, ...).
type PerformanceRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Strategy  string          `json:"strategy"`
	Metric    string          `json:"metric"`
	Value     decimal.Decimal `json:"value"`
}

// SessionRecord is one row of the sessions table: the run's boundaries and
// closing tally. cmd/arbbot's recordSessionStart writes the opening half;
// recordSessionEnd fills in the rest and re-upserts the same row.
type SessionRecord struct {
	SessionID      string          `json:"session_id"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end,omitempty"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital,omitempty"`
	TotalTrades    int             `json:"total_trades"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	WinRate        decimal.Decimal `json:"win_rate"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// eventRecord is the catch-all row for journal entries that don't name one
// of the four schema tables — a halted session or an unwound leg group is
// worth keeping, but doesn't belong in trades/positions/performance/sessions.
type eventRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
}

// FileJournal is an append-only local Journal. Each table is held in memory
// and rewritten to its own <table>.jsonl file, one JSON object per line,
// through a temp-file-then-rename per flush — the same crash-safety idiom
// the teacher used for per-market position files, generalized here to a
// handful of growing tables instead of one file per key.
type FileJournal struct {
	dir string
	mu  sync.Mutex

	trades      []TradeRecord
	positions   map[string]PositionRecord // keyed by market_id|token_id|strategy
	performance []PerformanceRecord
	sessions    map[string]SessionRecord // keyed by session_id
	events      []eventRecord

	logger *slog.Logger
}

// NewFileJournal creates (if needed) dir and returns a FileJournal rooted
// there.
func NewFileJournal(dir string, logger *slog.Logger) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &FileJournal{
		dir:       dir,
		positions: make(map[string]PositionRecord),
		sessions:  make(map[string]SessionRecord),
		logger:    logger.With("component", "journal"),
	}, nil
}

// Write routes entry to its table by concrete type and flushes that table.
// Producer packages pass their own locally declared entry structs (to avoid
// importing this package); adapt translates each into this package's record
// shape.
func (j *FileJournal) Write(entry any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch e := entry.(type) {
	case TradeRecord:
		j.trades = append(j.trades, e)
		return j.flushLocked("trades", marshalLines(j.trades))
	case PositionRecord:
		j.positions[e.MarketID+"|"+e.TokenID+"|"+e.Strategy] = e
		return j.flushPositionsLocked()
	case PerformanceRecord:
		j.performance = append(j.performance, e)
		return j.flushLocked("performance", marshalLines(j.performance))
	case SessionRecord:
		j.sessions[e.SessionID] = e
		return j.flushSessionsLocked()
	default:
		if adapted, ok := adapt(entry); ok {
			return j.writeLocked(adapted)
		}
		j.events = append(j.events, eventRecord{Timestamp: time.Now(), Type: fmt.Sprintf("%T", entry), Data: entry})
		return j.flushLocked("events", marshalLines(j.events))
	}
}

// writeLocked re-dispatches an adapted record without re-acquiring the lock.
func (j *FileJournal) writeLocked(entry any) error {
	switch e := entry.(type) {
	case TradeRecord:
		j.trades = append(j.trades, e)
		return j.flushLocked("trades", marshalLines(j.trades))
	case PositionRecord:
		j.positions[e.MarketID+"|"+e.TokenID+"|"+e.Strategy] = e
		return j.flushPositionsLocked()
	default:
		j.events = append(j.events, eventRecord{Timestamp: time.Now(), Type: fmt.Sprintf("%T", entry), Data: entry})
		return j.flushLocked("events", marshalLines(j.events))
	}
}

func (j *FileJournal) flushPositionsLocked() error {
	items := make([]PositionRecord, 0, len(j.positions))
	for _, p := range j.positions {
		items = append(items, p)
	}
	sort.Slice(items, func(i, k int) bool {
		if items[i].MarketID != items[k].MarketID {
			return items[i].MarketID < items[k].MarketID
		}
		return items[i].TokenID < items[k].TokenID
	})
	return j.flushLocked("positions", marshalLines(items))
}

func (j *FileJournal) flushSessionsLocked() error {
	items := make([]SessionRecord, 0, len(j.sessions))
	for _, s := range j.sessions {
		items = append(items, s)
	}
	sort.Slice(items, func(i, k int) bool { return items[i].Start.Before(items[k].Start) })
	return j.flushLocked("sessions", marshalLines(items))
}

func (j *FileJournal) flushLocked(table string, data []byte) error {
	path := filepath.Join(j.dir, table+".jsonl")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

func marshalLines[T any](items []T) []byte {
	var buf bytes.Buffer
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// NullNotifier discards every notification. Used in tests and dry runs
// where no alerting channel is configured.
type NullNotifier struct{}

func (NullNotifier) Notify(string, string) {}

// LogNotifier logs notifications via slog, rate-limited to one message per
// (type, message-prefix) pair per second: an error that repeats every
// detector tick shouldn't repeat every detector tick in the log either.
type LogNotifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLogNotifier creates a LogNotifier writing through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger.With("component", "notifier"),
		last:   make(map[string]time.Time),
	}
}

const notifyPrefixLen = 50
const notifyRateLimit = time.Second

// Notify logs (notifType, message) unless an identical (type, first-50-chars)
// pair was already logged within the last second.
func (n *LogNotifier) Notify(notifType, message string) {
	key := notifType + "|" + truncate(message, notifyPrefixLen)

	n.mu.Lock()
	now := time.Now()
	if last, ok := n.last[key]; ok && now.Sub(last) < notifyRateLimit {
		n.mu.Unlock()
		return
	}
	n.last[key] = now
	n.mu.Unlock()

	n.logger.Warn("notification", "type", notifType, "message", message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
