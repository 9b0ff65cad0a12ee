package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/types"
)

const defaultLifiBaseURL = "https://li.quest/v1"

// LifiProvider adapts a LI.FI-style swap/bridge aggregator quote API to the
// common Provider contract. It services arbitrary token pairs, same-chain
// swaps included, and honors exchange deny-lists.
type LifiProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// lifiQuoteResponse is the subset of the upstream quote shape the adapter
// consumes. Provider-specific fields never leave this file.
type lifiQuoteResponse struct {
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Estimate struct {
		ExecutionDuration float64 `json:"executionDuration"`
		FeeCosts          []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
	} `json:"estimate"`
	IncludedSteps []struct {
		Type string `json:"type"`
		Tool string `json:"tool"`
	} `json:"includedSteps"`
}

func NewLifiProvider(baseURL, apiKey string, client *http.Client) *LifiProvider {
	if baseURL == "" {
		baseURL = defaultLifiBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &LifiProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (p *LifiProvider) Name() string   { return "lifi" }
func (p *LifiProvider) Family() Family { return FamilySwapBridge }

// Supports accepts any pair the aggregator backend could conceivably quote.
func (p *LifiProvider) Supports(req *types.RouteRequest) bool {
	return req.FromToken != "" && req.ToToken != ""
}

func (p *LifiProvider) FindRoutes(ctx context.Context, req *types.RouteRequest) ([]types.RouteOption, error) {
	if !p.Supports(req) {
		return nil, nil
	}

	// Without a credential the upstream rate-limits to uselessness, so the
	// adapter degrades to a deterministic estimate tagged as such.
	if p.apiKey == "" {
		return p.fallbackEstimate(req), nil
	}

	quote, err := p.fetchQuote(ctx, req)
	if err != nil {
		return nil, err
	}

	return p.normalize(req, quote), nil
}

func (p *LifiProvider) fetchQuote(ctx context.Context, req *types.RouteRequest) (*lifiQuoteResponse, error) {
	q := url.Values{}
	q.Set("fromChain", req.FromChain)
	q.Set("toChain", req.ToChain)
	q.Set("fromToken", req.FromToken)
	q.Set("toToken", req.ToToken)
	q.Set("fromAmount", req.Amount)
	if req.FromAddress != "" {
		q.Set("fromAddress", req.FromAddress)
	}
	for _, deny := range req.DenyExchanges {
		q.Add("denyExchanges", deny)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-lifi-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lifi quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lifi quote returned status %d", resp.StatusCode)
	}

	var quote lifiQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("lifi quote decode failed: %w", err)
	}

	return &quote, nil
}

// normalize converts the upstream shape into the common RouteOption form
// immediately, so nothing provider-specific leaks past the adapter.
func (p *LifiProvider) normalize(req *types.RouteRequest, quote *lifiQuoteResponse) []types.RouteOption {
	fee := decimal.Zero
	for _, f := range quote.Estimate.FeeCosts {
		if d, err := decimal.NewFromString(f.AmountUSD); err == nil {
			fee = fee.Add(d)
		}
	}
	for _, g := range quote.Estimate.GasCosts {
		if d, err := decimal.NewFromString(g.AmountUSD); err == nil {
			fee = fee.Add(d)
		}
	}

	routeType := types.RouteTypeStandard
	if len(quote.IncludedSteps) > 1 {
		routeType = types.RouteTypeCompose
	}

	hops := make([]string, 0, len(quote.IncludedSteps))
	for _, s := range quote.IncludedSteps {
		hops = append(hops, s.Tool)
	}
	path := fmt.Sprintf("%s %s -> %s %s", req.FromChain, req.FromToken, req.ToChain, req.ToToken)
	if len(hops) > 0 {
		path += " via " + strings.Join(hops, ", ")
	}

	return []types.RouteOption{{
		ID:            "lifi-" + quote.ID,
		Path:          path,
		Fee:           fee.StringFixed(2) + " USD",
		EstimatedTime: formatDuration(time.Duration(quote.Estimate.ExecutionDuration) * time.Second),
		Provider:      p.Name(),
		RouteType:     routeType,
	}}
}

// fallbackEstimate produces a deterministic best-effort quote. The provider
// tag distinguishes it from a live quote so callers can tell them apart.
func (p *LifiProvider) fallbackEstimate(req *types.RouteRequest) []types.RouteOption {
	routeType := types.RouteTypeStandard
	estimated := "1-3 min"
	if !strings.EqualFold(req.FromChain, req.ToChain) {
		routeType = types.RouteTypeCompose
		estimated = "5-15 min"
	}

	return []types.RouteOption{{
		ID:            fmt.Sprintf("lifi-est-%s-%s", strings.ToLower(req.FromChain), strings.ToLower(req.ToChain)),
		Path:          fmt.Sprintf("%s %s -> %s %s", req.FromChain, req.FromToken, req.ToChain, req.ToToken),
		Fee:           "~0.3% + gas",
		EstimatedTime: estimated,
		Provider:      p.Name() + "-fallback",
		RouteType:     routeType,
	}}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	if d < time.Minute {
		return fmt.Sprintf("%d sec", int(d.Seconds()))
	}
	return fmt.Sprintf("%d min", int(d.Minutes()))
}
