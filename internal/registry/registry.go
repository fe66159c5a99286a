// Package registry implements MarketRegistry: a slow-cadence poller that
// keeps a local catalog of every CLOB market, with the filters detectors and
// the scheduler query it through.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbbot/pkg/types"
)

const defaultPollInterval = 5 * time.Minute

// gammaMarket is the JSON shape returned by the CLOB's Gamma-style catalog
// endpoint.
type gammaMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Description   string `json:"description"`
	Slug          string `json:"slug"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	EndDate       string `json:"endDate"`
	CreatedDate   string `json:"createdDate"`
	Tags          []string `json:"tags"`
	Outcomes      string `json:"outcomes"`      // JSON array string, e.g. ["Yes","No"]
	OutcomePrices string `json:"outcomePrices"` // JSON array string, e.g. ["0.62","0.38"]
	ClobTokenIds  string `json:"clobTokenIds"`  // JSON array string
	Volume24hr    float64 `json:"volume24hr"`
	Liquidity     string `json:"liquidity"`
}

// Registry polls the CLOB catalog on a slow cadence and serves the filters
// every detector and the scheduler's resolution sweep use.
type Registry struct {
	http         *resty.Client
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	byID     map[string]types.Market
	updated  time.Time
}

// New creates a Registry pointed at baseURL. pollInterval <= 0 uses the spec
// default of 5 minutes.
func New(baseURL string, pollInterval time.Duration, logger *slog.Logger) *Registry {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Registry{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		pollInterval: pollInterval,
		logger:       logger.With("component", "registry"),
		byID:         make(map[string]types.Market),
	}
}

// Run polls immediately, then on pollInterval, until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.poll(ctx)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Registry) poll(ctx context.Context) {
	markets, err := r.fetchMarkets(ctx)
	if err != nil {
		r.logger.Error("catalog poll failed", "error", err)
		return
	}

	byID := make(map[string]types.Market, len(markets))
	for _, m := range markets {
		converted, err := convertMarket(m)
		if err != nil {
			r.logger.Debug("skipping unparseable market", "id", m.ID, "error", err)
			continue
		}
		byID[converted.ID] = converted
	}

	r.mu.Lock()
	r.byID = byID
	r.updated = time.Now()
	r.mu.Unlock()

	r.logger.Info("catalog refreshed", "markets", len(byID))
}

func (r *Registry) fetchMarkets(ctx context.Context) ([]gammaMarket, error) {
	var all []gammaMarket
	offset, limit := 0, 100

	for {
		var page []gammaMarket
		resp, err := r.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all, nil
}

func convertMarket(gm gammaMarket) (types.Market, error) {
	var outcomeNames []string
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomeNames); err != nil {
			return types.Market{}, fmt.Errorf("parse outcomes: %w", err)
		}
	}
	var priceStrs []string
	if gm.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &priceStrs); err != nil {
			return types.Market{}, fmt.Errorf("parse outcomePrices: %w", err)
		}
	}
	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return types.Market{}, fmt.Errorf("parse clobTokenIds: %w", err)
		}
	}

	outcomes := make([]types.MarketOutcome, 0, len(outcomeNames))
	for i, name := range outcomeNames {
		price := decimal.Zero
		if i < len(priceStrs) {
			if p, err := decimal.NewFromString(priceStrs[i]); err == nil {
				price = p
			}
		}
		tokenID := ""
		if i < len(tokenIDs) {
			tokenID = tokenIDs[i]
		}
		outcomes = append(outcomes, types.MarketOutcome{
			Name:    name,
			TokenID: tokenID,
			Price:   price,
		})
	}

	status := types.StatusActive
	if gm.Closed {
		status = types.StatusClosed
	}

	// The catalog endpoint reports a settled outcome by driving its price to
	// (effectively) 1; a closed market with no such outcome has stopped
	// trading but hasn't paid out yet, and stays StatusClosed rather than
	// StatusResolved until that happens.
	resolution := types.ResolutionUnknown
	if gm.Closed {
		if idx, ok := settledOutcomeIndex(outcomes); ok {
			status = types.StatusResolved
			if len(outcomes) == 2 {
				if idx == 0 {
					resolution = types.ResolutionYes
				} else {
					resolution = types.ResolutionNo
				}
			}
		}
	}

	var endTime, createdTime time.Time
	if gm.EndDate != "" {
		endTime, _ = time.Parse(time.RFC3339, gm.EndDate)
	}
	if gm.CreatedDate != "" {
		createdTime, _ = time.Parse(time.RFC3339, gm.CreatedDate)
	}

	return types.Market{
		ID:          gm.ID,
		Question:    gm.Question,
		Description: gm.Description,
		Tags:        gm.Tags,
		Status:      status,
		Resolution:  resolution,
		Outcomes:    outcomes,
		EndTime:     endTime,
		CreatedTime: createdTime,
	}, nil
}

var settledOutcomeThreshold = decimal.NewFromFloat(0.999)

// settledOutcomeIndex returns the index of the outcome whose price has
// settled to (effectively) 1, if any.
func settledOutcomeIndex(outcomes []types.MarketOutcome) (int, bool) {
	for i, o := range outcomes {
		if o.Price.GreaterThanOrEqual(settledOutcomeThreshold) {
			return i, true
		}
	}
	return 0, false
}

// ByID returns the catalog entry for marketID.
func (r *Registry) ByID(marketID string) (types.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[marketID]
	return m, ok
}

// All returns every market currently in the catalog.
func (r *Registry) All() []types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Market, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	return out
}

// BitcoinMarkets returns every market whose question, description, or tags
// mention a bitcoin-related keyword. It does not filter on status or on the
// number of outcomes.
func (r *Registry) BitcoinMarkets() []types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Market
	for _, m := range r.byID {
		if m.IsBitcoinRelated() {
			out = append(out, m)
		}
	}
	return out
}

// NearResolved returns every binary market where either outcome's price lies
// within [minProb, maxProb].
func (r *Registry) NearResolved(minProb, maxProb decimal.Decimal) []types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Market
	for _, m := range r.byID {
		if !m.IsBinary() {
			continue
		}
		if m.IsNearResolved(0, minProb, maxProb) || m.IsNearResolved(1, minProb, maxProb) {
			out = append(out, m)
		}
	}
	return out
}

// PairTokens returns the (yes, no) token IDs for a binary market, preserving
// the catalog's canonical outcome order. ok is false for non-binary markets
// or unknown IDs.
func (r *Registry) PairTokens(marketID string) (yesToken, noToken string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, found := r.byID[marketID]
	if !found || !m.IsBinary() {
		return "", "", false
	}
	return m.Outcomes[0].TokenID, m.Outcomes[1].TokenID, true
}

// WinningToken returns the token ID of marketID's settled outcome, if the
// catalog has observed one yet.
func (r *Registry) WinningToken(marketID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, found := r.byID[marketID]
	if !found || !m.IsTerminal() {
		return "", false
	}
	idx, ok := settledOutcomeIndex(m.Outcomes)
	if !ok {
		return "", false
	}
	return m.Outcomes[idx].TokenID, true
}

// LeadingOutcome returns the name of the outcome with the highest price.
func LeadingOutcome(m types.Market) string {
	if len(m.Outcomes) == 0 {
		return ""
	}
	leading := m.Outcomes[0]
	for _, o := range m.Outcomes[1:] {
		if o.Price.GreaterThan(leading.Price) {
			leading = o
		}
	}
	return leading.Name
}

// LastUpdated returns when the catalog was last successfully refreshed.
func (r *Registry) LastUpdated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}
