package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProofVersion represents the version of a payment proof presented to a
// gated resource.
type ProofVersion int

const (
	ProofVersion1 ProofVersion = 1
	ProofVersion2 ProofVersion = 2
)

// RouteType classifies how a route executes.
type RouteType string

const (
	RouteTypeStandard RouteType = "standard"
	RouteTypeCompose  RouteType = "multi-step-compose"
	RouteTypeContract RouteType = "contract-call"
)

// RouteOption is one candidate path for moving value from a source
// token/chain to a destination token/chain. Immutable once constructed;
// only the aggregator produces them.
type RouteOption struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Fee           string    `json:"fee"`
	EstimatedTime string    `json:"estimatedTime"`
	Provider      string    `json:"provider"`
	RouteType     RouteType `json:"routeType,omitempty"`
}

// RouteRequest describes a routing query handed to providers.
type RouteRequest struct {
	FromChain string `json:"fromChain" validate:"required"`
	ToChain   string `json:"toChain" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	FromToken string `json:"fromToken" validate:"required"`
	ToToken   string `json:"toToken" validate:"required"`

	// Optional sender, used by providers that quote sender-specific routes.
	FromAddress string `json:"fromAddress,omitempty"`

	// Families restricts the query to the named routing families.
	// Empty means all registered families.
	Families []string `json:"families,omitempty"`

	// DenyExchanges is a best-effort hint passed through to providers that
	// support excluding a named underlying exchange.
	DenyExchanges []string `json:"denyExchanges,omitempty"`
}

// CacheKey returns the normalized key used by the aggregator's result cache.
// Keys are derived from the small (fromChain, toChain, token pair, amount)
// space, so cardinality stays bounded in practice.
func (r *RouteRequest) CacheKey(family string) string {
	parts := []string{
		family,
		strings.ToLower(r.FromChain),
		strings.ToLower(r.ToChain),
		strings.ToLower(r.FromToken),
		strings.ToLower(r.ToToken),
		r.Amount,
	}
	return strings.Join(parts, "|")
}

// PaymentDetails are the requirements asserted by a gated resource on probe.
type PaymentDetails struct {
	Amount    string `json:"amount" validate:"required"`
	Token     string `json:"token" validate:"required"`
	Chain     string `json:"chain" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
}

// Validate checks that the PaymentDetails contain all required fields.
func (p *PaymentDetails) Validate() error {
	if p.Amount == "" {
		return fmt.Errorf("payment.amount is required")
	}
	if p.Token == "" {
		return fmt.Errorf("payment.token is required")
	}
	if p.Chain == "" {
		return fmt.Errorf("payment.chain is required")
	}
	if p.Recipient == "" {
		return fmt.Errorf("payment.recipient is required")
	}
	return nil
}

// PaymentProof binds a wallet identity to a satisfied payment requirement.
// Constructed once per successful payment and consumed exactly once by the
// access step.
type PaymentProof struct {
	Proof          string         `json:"proof"`
	WalletAddress  string         `json:"walletAddress"`
	PaidAt         time.Time      `json:"paidAt"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
	Version        ProofVersion   `json:"version"`
}

// FeeTier is a volume-based bracket determining the baseline fee rate.
// Tiers are ordered, contiguous, non-overlapping and cover [0, inf);
// the top tier has Unbounded set and its MaxVolume is ignored.
type FeeTier struct {
	Name       string          `json:"name"`
	MinVolume  decimal.Decimal `json:"minVolume"`
	MaxVolume  decimal.Decimal `json:"maxVolume,omitempty"`
	Unbounded  bool            `json:"unbounded,omitempty"`
	FeeRateBps int64           `json:"feeRateBps"`
}

// Contains reports whether volume falls inside the tier's
// [MinVolume, MaxVolume) interval.
func (t FeeTier) Contains(volume decimal.Decimal) bool {
	if volume.LessThan(t.MinVolume) {
		return false
	}
	return t.Unbounded || volume.LessThan(t.MaxVolume)
}

// FeeQuote is the result of computing the fee owed on a settled payment.
type FeeQuote struct {
	// FeeRateBps is the effective rate after discounts. Decimal so a
	// halved odd tier rate (5 bps -> 2.5 bps) is carried exactly.
	FeeRateBps     decimal.Decimal `json:"feeRateBps"`
	FeeAmount      decimal.Decimal `json:"feeAmount"`
	DiscountReason string          `json:"discountReason,omitempty"`
	Tier           string          `json:"tier"`
}

// YieldSplit is the protocol/receiver division of realized yield.
type YieldSplit struct {
	ProtocolShare decimal.Decimal `json:"protocolShare"`
	ReceiverShare decimal.Decimal `json:"receiverShare"`
}

// TierProgress reports how far a receiver is from the next fee tier.
type TierProgress struct {
	CurrentTier     string          `json:"currentTier"`
	NextTier        string          `json:"nextTier,omitempty"`
	VolumeRemaining decimal.Decimal `json:"volumeRemaining"`
	PercentComplete decimal.Decimal `json:"percentComplete"`
}

// StrategyAllocation is one entry of a receiver-declared weighted split of
// incoming funds across destination handling strategies.
type StrategyAllocation struct {
	DestinationID string `json:"destinationId"`
	Percentage    int    `json:"percentage"`
}

// DestinationAmount is a per-destination sub-amount produced by splitting an
// inbound payment according to a strategy allocation.
type DestinationAmount struct {
	DestinationID string          `json:"destinationId"`
	Amount        decimal.Decimal `json:"amount"`
}

// RelayError is the typed error carried across component boundaries.
type RelayError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RelayError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrNoRoute         = "NO_ROUTE"
	ErrPaymentRequired = "PAYMENT_REQUIRED"
	ErrPaymentFailed   = "PAYMENT_FAILED"
	ErrAmbiguous402    = "AMBIGUOUS_402"
	ErrSignerError     = "SIGNER_ERROR"
	ErrProviderError   = "PROVIDER_ERROR"
	ErrConfigError     = "CONFIG_ERROR"
)

// NewRelayError builds a RelayError with a formatted message.
func NewRelayError(code, format string, args ...interface{}) *RelayError {
	return &RelayError{Code: code, Message: fmt.Sprintf(format, args...)}
}
