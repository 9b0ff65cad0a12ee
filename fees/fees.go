// Package fees computes the basis-point fee and yield split charged on a
// settled payment, with tiered volume discounts and a network-effect
// discount between registered participants.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/types"
)

// Fee amounts round half-up at six decimal places, the smallest USDC unit.
const amountPrecision = 6

// Discount reasons reported in a FeeQuote.
const (
	DiscountGasAllowance     = "gas-allowance-funded"
	DiscountBothRegistered   = "both-participants-registered"
	DiscountSenderRegistered = "sender-registered"
)

var yieldProtocolShare = decimal.New(10, -2) // flat 10% of realized yield

// DefaultTiers is the standard fee schedule. Tiers are contiguous,
// non-overlapping and cover [0, inf): monthly volume in settlement
// currency units against the fee rate in basis points.
func DefaultTiers() []types.FeeTier {
	return []types.FeeTier{
		{Name: "starter", MinVolume: dec(0), MaxVolume: dec(10_000), FeeRateBps: 30},
		{Name: "growth", MinVolume: dec(10_000), MaxVolume: dec(100_000), FeeRateBps: 20},
		{Name: "scale", MinVolume: dec(100_000), MaxVolume: dec(1_000_000), FeeRateBps: 10},
		{Name: "enterprise", MinVolume: dec(1_000_000), Unbounded: true, FeeRateBps: 5},
	}
}

// Engine computes transaction fees and yield splits. It is safe for
// concurrent use; the tier table is immutable after construction.
type Engine struct {
	tiers    []types.FeeTier
	registry ParticipantRegistry
	log      logger.Logger
}

// NewEngine creates a fee engine. Passing nil or a degenerate tier table
// (empty, gapped at zero) falls back to DefaultTiers: fee computation is
// advisory and must not block otherwise-valid payments.
func NewEngine(tiers []types.FeeTier, registry ParticipantRegistry, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if !validTierTable(tiers) {
		tiers = DefaultTiers()
	}
	return &Engine{tiers: tiers, registry: registry, log: log}
}

// Registry exposes the participant registry so callers can register
// counterparties.
func (e *Engine) Registry() ParticipantRegistry {
	return e.registry
}

// Tiers returns the tier table in ascending volume order.
func (e *Engine) Tiers() []types.FeeTier {
	out := make([]types.FeeTier, len(e.tiers))
	copy(out, e.tiers)
	return out
}

// ClassifyTier returns the tier whose [MinVolume, MaxVolume) interval
// contains monthlyVolume. Tiers are checked from the highest threshold
// down; degenerate input lands in the lowest tier.
func (e *Engine) ClassifyTier(monthlyVolume decimal.Decimal) types.FeeTier {
	for i := len(e.tiers) - 1; i > 0; i-- {
		if e.tiers[i].Contains(monthlyVolume) {
			return e.tiers[i]
		}
	}
	return e.tiers[0]
}

// ComputeFee computes the fee owed on amount. Rules, in order:
//  1. a receiver-funded gas allowance forces the rate to zero;
//  2. both counterparties registered: zero; only the sender registered:
//     half the tier rate; otherwise the tier rate unmodified;
//  3. feeAmount = amount * rate / 10_000, rounded half-up at six decimals.
//
// The fee is never negative and never exceeds the tier's nominal rate.
func (e *Engine) ComputeFee(
	amount decimal.Decimal,
	monthlyVolume decimal.Decimal,
	senderID, receiverID string,
	hasFundedGasAllowance bool,
) types.FeeQuote {
	tier := e.ClassifyTier(monthlyVolume)

	if hasFundedGasAllowance {
		return types.FeeQuote{
			FeeRateBps:     decimal.Zero,
			FeeAmount:      decimal.Zero,
			DiscountReason: DiscountGasAllowance,
			Tier:           tier.Name,
		}
	}

	// The rate is decimal from here on: halving an odd tier rate must be
	// exact (5 bps -> 2.5 bps), not truncated.
	rate := decimal.New(tier.FeeRateBps, 0)
	reason := ""
	senderRegistered := senderID != "" && e.registry.Contains(senderID)
	receiverRegistered := receiverID != "" && e.registry.Contains(receiverID)

	switch {
	case senderRegistered && receiverRegistered:
		rate = decimal.Zero
		reason = DiscountBothRegistered
	case senderRegistered:
		rate = rate.Div(decimal.New(2, 0))
		reason = DiscountSenderRegistered
	}

	fee := decimal.Zero
	if rate.IsPositive() && amount.IsPositive() {
		fee = amount.Mul(rate).
			Div(decimal.New(10_000, 0)).
			Round(amountPrecision)
	}

	return types.FeeQuote{
		FeeRateBps:     rate,
		FeeAmount:      fee,
		DiscountReason: reason,
		Tier:           tier.Name,
	}
}

// YieldShare splits realized yield: a flat 10% to the protocol, 90% to the
// receiver. It applies only to yield accrued on deposited principal, never
// to the principal itself, and is independent of the fee tier.
func (e *Engine) YieldShare(yieldEarned decimal.Decimal) types.YieldSplit {
	if !yieldEarned.IsPositive() {
		return types.YieldSplit{ProtocolShare: decimal.Zero, ReceiverShare: decimal.Zero}
	}
	protocol := yieldEarned.Mul(yieldProtocolShare).Round(amountPrecision)
	return types.YieldSplit{
		ProtocolShare: protocol,
		ReceiverShare: yieldEarned.Sub(protocol),
	}
}

// NextTierProgress reports the current tier, the next one (empty at the
// top), the volume remaining and a percent-complete clamped to [0, 100].
// At a volume exactly on a tier boundary, progress in the tier just
// entered is zero.
func (e *Engine) NextTierProgress(monthlyVolume decimal.Decimal) types.TierProgress {
	current := e.ClassifyTier(monthlyVolume)

	idx := 0
	for i, t := range e.tiers {
		if t.Name == current.Name {
			idx = i
			break
		}
	}

	if idx == len(e.tiers)-1 {
		return types.TierProgress{
			CurrentTier:     current.Name,
			VolumeRemaining: decimal.Zero,
			PercentComplete: decimal.New(100, 0),
		}
	}

	next := e.tiers[idx+1]
	span := current.MaxVolume.Sub(current.MinVolume)
	progressed := monthlyVolume.Sub(current.MinVolume)

	percent := decimal.Zero
	if span.IsPositive() {
		percent = progressed.Div(span).Mul(decimal.New(100, 0)).Round(2)
	}
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(decimal.New(100, 0)) {
		percent = decimal.New(100, 0)
	}

	remaining := current.MaxVolume.Sub(monthlyVolume)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return types.TierProgress{
		CurrentTier:     current.Name,
		NextTier:        next.Name,
		VolumeRemaining: remaining,
		PercentComplete: percent,
	}
}

// validTierTable checks the invariants ComputeFee relies on: at least one
// tier, coverage starting at zero, contiguity, and an unbounded top.
func validTierTable(tiers []types.FeeTier) bool {
	if len(tiers) == 0 {
		return false
	}
	if !tiers[0].MinVolume.IsZero() {
		return false
	}
	for i := 0; i < len(tiers)-1; i++ {
		if tiers[i].Unbounded {
			return false
		}
		if !tiers[i].MaxVolume.Equal(tiers[i+1].MinVolume) {
			return false
		}
	}
	return tiers[len(tiers)-1].Unbounded
}

func dec(n int64) decimal.Decimal {
	return decimal.New(n, 0)
}
