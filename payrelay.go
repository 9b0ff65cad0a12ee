// Package payrelay wires route aggregation, destination-strategy
// allocation, fee quoting and the payment-required protocol client into
// one stablecoin payment relay.
package payrelay

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/fees"
	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/metrics"
	"github.com/edwardtay/payrelay/protocol"
	"github.com/edwardtay/payrelay/routing"
	"github.com/edwardtay/payrelay/strategy"
	"github.com/edwardtay/payrelay/types"
)

// Relay is the top-level entry point tying the relay's components
// together. Construct with New; zero value is not usable.
type Relay struct {
	aggregator *routing.Aggregator
	allocator  *strategy.Allocator
	engine     *fees.Engine
	client     *protocol.Client
	prefs      strategy.PreferenceStore

	httpClient *http.Client
	log        logger.Logger
	rec        metrics.Recorder
}

// relayConfig collects option state before the components are built.
type relayConfig struct {
	providers    []routing.Provider
	tiers        []types.FeeTier
	registry     fees.ParticipantRegistry
	prefs        strategy.PreferenceStore
	destinations []string
	quoteTTL     time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	log          logger.Logger
	rec          metrics.Recorder
}

// Option customizes a Relay.
type Option func(*relayConfig)

// WithProviders replaces the default provider set.
func WithProviders(providers ...routing.Provider) Option {
	return func(c *relayConfig) { c.providers = providers }
}

// WithFeeTiers overrides the default fee tier table.
func WithFeeTiers(tiers []types.FeeTier) Option {
	return func(c *relayConfig) { c.tiers = tiers }
}

// WithRegistry supplies a participant registry, typically seeded from
// configuration.
func WithRegistry(r fees.ParticipantRegistry) Option {
	return func(c *relayConfig) { c.registry = r }
}

// WithPreferenceStore supplies the receiver allocation-preference store.
func WithPreferenceStore(s strategy.PreferenceStore) Option {
	return func(c *relayConfig) { c.prefs = s }
}

// WithDestinations sets the recognized strategy destination ids.
func WithDestinations(destinations ...string) Option {
	return func(c *relayConfig) { c.destinations = destinations }
}

// WithQuoteTTL sets how long aggregated route results stay cached.
func WithQuoteTTL(ttl time.Duration) Option {
	return func(c *relayConfig) { c.quoteTTL = ttl }
}

// WithProviderTimeout bounds each provider call during aggregation.
func WithProviderTimeout(timeout time.Duration) Option {
	return func(c *relayConfig) { c.timeout = timeout }
}

// WithHTTPClient shares one HTTP client across providers and the protocol
// client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *relayConfig) { c.httpClient = h }
}

func WithLogger(l logger.Logger) Option {
	return func(c *relayConfig) { c.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *relayConfig) { c.rec = r }
}

// New creates a Relay paying through the given signer. Without options it
// runs the default providers (LI.FI and Circle CCTP), the default fee
// tiers, and in-memory registry and preference stores.
func New(signer protocol.Signer, opts ...Option) *Relay {
	cfg := &relayConfig{
		quoteTTL:   30 * time.Second,
		timeout:    10 * time.Second,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.NoopLogger{},
		rec:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.providers == nil {
		cfg.providers = []routing.Provider{
			routing.NewLifiProvider("", "", cfg.httpClient),
			routing.NewCCTPProvider("", cfg.httpClient),
		}
	}
	if cfg.registry == nil {
		cfg.registry = fees.NewMemoryRegistry()
	}
	if cfg.prefs == nil {
		cfg.prefs = strategy.NewMemoryPreferenceStore()
	}

	return &Relay{
		aggregator: routing.NewAggregator(cfg.providers,
			routing.WithQuoteTTL(cfg.quoteTTL),
			routing.WithProviderTimeout(cfg.timeout),
			routing.WithLogger(cfg.log),
			routing.WithMetrics(cfg.rec),
		),
		allocator: strategy.NewAllocator(cfg.destinations, cfg.log),
		engine:    fees.NewEngine(cfg.tiers, cfg.registry, cfg.log),
		client: protocol.NewClient(signer,
			protocol.WithHTTPClient(cfg.httpClient),
			protocol.WithLogger(cfg.log),
			protocol.WithMetrics(cfg.rec),
		),
		prefs:      cfg.prefs,
		httpClient: cfg.httpClient,
		log:        cfg.log,
		rec:        cfg.rec,
	}
}

// RoutePaymentRequest describes one inbound payment to be planned
// end to end.
type RoutePaymentRequest struct {
	Route types.RouteRequest

	// SenderID and ReceiverID are participant identities for the fee
	// engine's network-effect discounts.
	SenderID   string
	ReceiverID string

	// MonthlyVolume is the receiver's rolling volume, selecting the tier.
	MonthlyVolume decimal.Decimal

	// HasFundedGasAllowance marks a receiver-funded gas allowance, which
	// forces the fee to zero.
	HasFundedGasAllowance bool

	// Allocation is the declared destination split. Empty means the
	// receiver's stored preference, falling back to hold.
	Allocation string
}

// RoutePaymentPlan is the relay's complete answer for one payment: ranked
// routes, the fee quote, and the net amount allocated across the
// receiver's destination strategies.
type RoutePaymentPlan struct {
	Routes       []types.RouteOption        `json:"routes"`
	Fee          types.FeeQuote             `json:"fee"`
	NetAmount    decimal.Decimal            `json:"netAmount"`
	Allocations  []types.StrategyAllocation `json:"allocations"`
	Destinations []types.DestinationAmount  `json:"destinations"`
}

// RoutePayment plans one payment: quote the fee from the receiver's tier
// and registrations, split the net amount per the receiver's allocation,
// and aggregate routes for the transfer itself. Route aggregation
// degrades rather than fails, so an error here means the request itself
// was unusable.
func (r *Relay) RoutePayment(ctx context.Context, req *RoutePaymentRequest) (*RoutePaymentPlan, error) {
	if req == nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "nil request")
	}

	amount, err := decimal.NewFromString(req.Route.Amount)
	if err != nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "invalid amount %q: %v", req.Route.Amount, err)
	}
	if amount.IsNegative() {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "amount must not be negative")
	}

	fee := r.engine.ComputeFee(amount, req.MonthlyVolume, req.SenderID, req.ReceiverID, req.HasFundedGasAllowance)
	net := amount.Sub(fee.FeeAmount)

	raw := req.Allocation
	if raw == "" && req.ReceiverID != "" {
		stored, err := r.prefs.Get(ctx, req.ReceiverID)
		if err != nil {
			r.log.Warn("preference lookup failed", map[string]any{
				"receiver": req.ReceiverID, "error": err.Error(),
			})
		} else {
			raw = stored
		}
	}
	allocs := r.allocator.ParseAllocation(raw, "")
	destinations := r.allocator.SplitAmount(net, allocs)

	routes, err := r.aggregator.FindRoutes(ctx, &req.Route)
	if err != nil {
		return nil, err
	}

	r.rec.IncCounter("payment_planned", map[string]string{"provider": "relay"})
	return &RoutePaymentPlan{
		Routes:       routes,
		Fee:          fee,
		NetAmount:    net,
		Allocations:  allocs,
		Destinations: destinations,
	}, nil
}

// FindRoutes aggregates ranked route options for a transfer.
func (r *Relay) FindRoutes(ctx context.Context, req *types.RouteRequest) ([]types.RouteOption, error) {
	return r.aggregator.FindRoutes(ctx, req)
}

// Fetch drives the paid-resource handshake against a gated URL.
func (r *Relay) Fetch(ctx context.Context, resourceURL string) (*protocol.ProbeResult, error) {
	return r.client.Fetch(ctx, resourceURL)
}

// Protocol exposes the underlying protocol client for callers that need
// the individual probe, pay and access steps.
func (r *Relay) Protocol() *protocol.Client {
	return r.client
}

// QuoteFee quotes the fee for one amount without planning routes.
func (r *Relay) QuoteFee(amount, monthlyVolume decimal.Decimal, senderID, receiverID string, hasFundedGasAllowance bool) types.FeeQuote {
	return r.engine.ComputeFee(amount, monthlyVolume, senderID, receiverID, hasFundedGasAllowance)
}

// TierProgress reports the receiver's progress toward the next fee tier.
func (r *Relay) TierProgress(monthlyVolume decimal.Decimal) types.TierProgress {
	return r.engine.NextTierProgress(monthlyVolume)
}

// YieldShare splits realized yield between protocol and receiver.
func (r *Relay) YieldShare(yieldEarned decimal.Decimal) types.YieldSplit {
	return r.engine.YieldShare(yieldEarned)
}

// Registry exposes the participant registry for enrollment.
func (r *Relay) Registry() fees.ParticipantRegistry {
	return r.engine.Registry()
}

// GetStrategy returns a receiver's stored allocation string.
func (r *Relay) GetStrategy(ctx context.Context, receiverID string) (string, error) {
	return r.prefs.Get(ctx, receiverID)
}

// SetStrategy validates and stores a receiver's allocation string. The
// stored form is the raw declaration; parsing happens on use so the
// recognized destination set can evolve.
func (r *Relay) SetStrategy(ctx context.Context, receiverID, allocation string) error {
	if receiverID == "" {
		return types.NewRelayError(types.ErrInvalidRequest, "receiver id is required")
	}
	return r.prefs.Set(ctx, receiverID, allocation)
}

// ParseAllocation normalizes an allocation string without storing it.
func (r *Relay) ParseAllocation(raw string) []types.StrategyAllocation {
	return r.allocator.ParseAllocation(raw, "")
}

// Supported lists the routing families the relay can currently serve.
func (r *Relay) Supported() []string {
	families := r.aggregator.Families()
	out := make([]string, 0, len(families))
	for _, f := range families {
		out = append(out, string(f))
	}
	return out
}

// Close releases pooled connections. The Relay must not be used after
// Close.
func (r *Relay) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}
