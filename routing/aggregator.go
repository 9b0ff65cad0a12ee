package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/cache"
	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/metrics"
	"github.com/edwardtay/payrelay/types"
)

const (
	defaultQuoteTTL        = 30 * time.Second
	defaultProviderTimeout = 10 * time.Second

	// syntheticProvider tags the best-effort quote emitted when every
	// registered provider fails.
	syntheticProvider = "relay-estimate"
)

// Aggregator fans a routing request out to all registered providers
// concurrently, merges and ranks the results, and consults a shared TTL
// cache per provider namespace.
type Aggregator struct {
	providers []Provider
	results   *cache.Cache[[]types.RouteOption]
	quoteTTL  time.Duration
	timeout   time.Duration
	log       logger.Logger
	rec       metrics.Recorder
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

func WithQuoteTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.quoteTTL = ttl }
}

func WithProviderTimeout(timeout time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.timeout = timeout }
}

func WithLogger(l logger.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l }
}

func WithMetrics(r metrics.Recorder) AggregatorOption {
	return func(a *Aggregator) { a.rec = r }
}

// NewAggregator creates an aggregator over the given providers.
func NewAggregator(providers []Provider, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: providers,
		results:   cache.New[[]types.RouteOption](),
		quoteTTL:  defaultQuoteTTL,
		timeout:   defaultProviderTimeout,
		log:       logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Families lists the routing families of the registered providers.
func (a *Aggregator) Families() []Family {
	seen := make(map[Family]bool)
	var out []Family
	for _, p := range a.providers {
		if !seen[p.Family()] {
			seen[p.Family()] = true
			out = append(out, p.Family())
		}
	}
	return out
}

// FindRoutes queries every applicable provider concurrently and returns one
// ranked sequence. Provider failures never abort the aggregation: each is
// converted into a single diagnostic entry so the caller can see why a
// route is missing. Only when every provider fails does the aggregator
// degrade to a synthetic best-effort estimate.
func (a *Aggregator) FindRoutes(ctx context.Context, req *types.RouteRequest) ([]types.RouteOption, error) {
	selected := a.selectProviders(req)
	if len(selected) == 0 {
		return nil, nil
	}

	requestID := uuid.NewString()
	start := time.Now()

	type providerResult struct {
		index      int
		routes     []types.RouteOption
		diagnostic *types.RouteOption
		fromCache  bool
	}

	resultCh := make(chan providerResult, len(selected))

	for i, p := range selected {
		key := req.CacheKey(p.Name())

		// A cache hit short-circuits the provider call for that namespace.
		if cached, ok := a.results.Get(key); ok {
			a.rec.IncCounter("route_cache_hit", map[string]string{"provider": p.Name()})
			resultCh <- providerResult{index: i, routes: cached, fromCache: true}
			continue
		}

		go func(index int, p Provider, key string) {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			callStart := time.Now()
			routes, err := p.FindRoutes(callCtx, req)
			a.rec.ObserveLatency("find_routes", time.Since(callStart), map[string]string{"provider": p.Name()})

			if err != nil {
				a.log.Warn("route provider failed", map[string]any{
					"requestId": requestID,
					"provider":  p.Name(),
					"error":     err.Error(),
				})
				a.rec.IncCounter("route_provider_error", map[string]string{"provider": p.Name()})
				diag := diagnosticRoute(p.Name(), err)
				resultCh <- providerResult{index: index, diagnostic: &diag}
				return
			}

			// Live results, empty ones included, are cached so identical
			// inputs within the TTL return bit-identical sequences.
			a.results.Set(key, routes, a.quoteTTL)
			resultCh <- providerResult{index: index, routes: routes}
		}(i, p, key)
	}

	ordered := make([]providerResult, len(selected))
	for range selected {
		res := <-resultCh
		ordered[res.index] = res
	}

	var merged []types.RouteOption
	failures := 0
	for _, res := range ordered {
		if res.diagnostic != nil {
			failures++
			merged = append(merged, *res.diagnostic)
			continue
		}
		merged = append(merged, res.routes...)
	}

	if failures == len(selected) {
		a.log.Warn("all route providers failed", map[string]any{
			"requestId": requestID,
			"providers": len(selected),
		})
		merged = append(merged, syntheticRoute(req))
	}

	rankRoutes(merged)

	a.log.Debug("route aggregation complete", map[string]any{
		"requestId": requestID,
		"routes":    len(merged),
		"elapsed":   time.Since(start).String(),
	})

	return merged, nil
}

// selectProviders filters the registered providers by the request's family
// subset and by applicability.
func (a *Aggregator) selectProviders(req *types.RouteRequest) []Provider {
	wanted := make(map[string]bool, len(req.Families))
	for _, f := range req.Families {
		wanted[strings.ToLower(f)] = true
	}

	var out []Provider
	for _, p := range a.providers {
		if len(wanted) > 0 && !wanted[string(p.Family())] {
			continue
		}
		if !p.Supports(req) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// rankRoutes orders live quotes before fallback estimates, fallbacks before
// diagnostics, and within each class by ascending numeric fee where the
// display string carries one. The sort is stable so provider registration
// order breaks ties.
func rankRoutes(routes []types.RouteOption) {
	sort.SliceStable(routes, func(i, j int) bool {
		ci, cj := routeClass(routes[i]), routeClass(routes[j])
		if ci != cj {
			return ci < cj
		}
		fi, iok := leadingDecimal(routes[i].Fee)
		fj, jok := leadingDecimal(routes[j].Fee)
		if iok && jok {
			return fi.LessThan(fj)
		}
		return iok && !jok
	})
}

func routeClass(r types.RouteOption) int {
	switch {
	case strings.HasSuffix(r.Provider, "-error"):
		return 2
	case strings.HasSuffix(r.Provider, "-fallback"), r.Provider == syntheticProvider:
		return 1
	default:
		return 0
	}
}

// leadingDecimal parses the numeric prefix of a fee display string such as
// "0.25 USDC" or "12 bps".
func leadingDecimal(s string) (decimal.Decimal, bool) {
	fields := strings.Fields(strings.TrimPrefix(s, "~"))
	if len(fields) == 0 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(fields[0], "%"))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func diagnosticRoute(provider string, err error) types.RouteOption {
	return types.RouteOption{
		ID:            provider + "-unavailable",
		Path:          fmt.Sprintf("no route: %v", err),
		Fee:           "n/a",
		EstimatedTime: "n/a",
		Provider:      provider + "-error",
	}
}

// syntheticRoute is the degraded best-effort quote. Numbers are indicative
// only; the provider tag makes that visible to callers.
func syntheticRoute(req *types.RouteRequest) types.RouteOption {
	return types.RouteOption{
		ID:            fmt.Sprintf("est-%s-%s", strings.ToLower(req.FromChain), strings.ToLower(req.ToChain)),
		Path:          fmt.Sprintf("%s %s -> %s %s (estimated)", req.FromChain, req.FromToken, req.ToChain, req.ToToken),
		Fee:           "~0.3%",
		EstimatedTime: "5-15 min",
		Provider:      syntheticProvider,
		RouteType:     types.RouteTypeStandard,
	}
}
