package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardtay/payrelay/types"
)

func newTestEngine(seed ...string) *Engine {
	return NewEngine(nil, NewMemoryRegistry(seed...), nil)
}

func TestClassifyTier_PartitionsVolumeSpace(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		volume string
		tier   string
	}{
		{"0", "starter"},
		{"9999.99", "starter"},
		{"10000", "growth"},
		{"99999", "growth"},
		{"100000", "scale"},
		{"1000000", "enterprise"},
		{"50000000", "enterprise"},
	}
	for _, tc := range cases {
		v, _ := decimal.NewFromString(tc.volume)
		assert.Equal(t, tc.tier, e.ClassifyTier(v).Name, "volume %s", tc.volume)
	}
}

func TestClassifyTier_RateMonotoneNonIncreasing(t *testing.T) {
	e := newTestEngine()

	prev := int64(1 << 30)
	for _, v := range []int64{0, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000, 10_000_000} {
		rate := e.ClassifyTier(decimal.New(v, 0)).FeeRateBps
		assert.LessOrEqual(t, rate, prev, "volume %d", v)
		prev = rate
	}
}

func TestClassifyTier_DegenerateInputDefaultsToLowest(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, "starter", e.ClassifyTier(decimal.New(-100, 0)).Name)
}

func TestNewEngine_RejectsGappedTierTable(t *testing.T) {
	gapped := []types.FeeTier{
		{Name: "a", MinVolume: decimal.Zero, MaxVolume: decimal.New(100, 0), FeeRateBps: 30},
		{Name: "b", MinVolume: decimal.New(500, 0), Unbounded: true, FeeRateBps: 10},
	}
	e := NewEngine(gapped, nil, nil)

	// Falls back to the default schedule rather than raising.
	assert.Equal(t, "starter", e.ClassifyTier(decimal.New(200, 0)).Name)
}

func TestComputeFee_NetworkEffectDiscounts(t *testing.T) {
	e := newTestEngine("alice.eth", "0xBOB")
	amount := decimal.New(1_000, 0)
	volume := decimal.Zero // starter, 30 bps

	// Both registered: 100% discount, regardless of amount.
	q := e.ComputeFee(amount, volume, "ALICE.eth", "0xbob", false)
	assert.True(t, q.FeeRateBps.IsZero())
	assert.True(t, q.FeeAmount.IsZero())
	assert.Equal(t, DiscountBothRegistered, q.DiscountReason)

	// Only sender registered: half the tier rate.
	q = e.ComputeFee(amount, volume, "alice.eth", "carol.eth", false)
	assert.True(t, q.FeeRateBps.Equal(decimal.New(15, 0)), "got %s", q.FeeRateBps)
	assert.True(t, q.FeeAmount.Equal(decimal.New(15, -1)), "got %s", q.FeeAmount) // 1.5
	assert.Equal(t, DiscountSenderRegistered, q.DiscountReason)

	// Neither registered: full tier rate.
	q = e.ComputeFee(amount, volume, "dave.eth", "carol.eth", false)
	assert.True(t, q.FeeRateBps.Equal(decimal.New(30, 0)), "got %s", q.FeeRateBps)
	assert.True(t, q.FeeAmount.Equal(decimal.New(3, 0)), "got %s", q.FeeAmount)
	assert.Empty(t, q.DiscountReason)
}

func TestComputeFee_SenderDiscountHalvesOddRateExactly(t *testing.T) {
	e := newTestEngine("whale.eth")

	// Enterprise tier carries 5 bps; the sender-only discount must charge
	// exactly half of that, 2.5 bps, not a truncated 2.
	amount := decimal.New(1_000_000, 0)
	volume := decimal.New(2_000_000, 0)

	q := e.ComputeFee(amount, volume, "whale.eth", "stranger.eth", false)
	assert.Equal(t, "enterprise", q.Tier)
	assert.Equal(t, DiscountSenderRegistered, q.DiscountReason)
	assert.True(t, q.FeeRateBps.Equal(decimal.New(25, -1)), "got %s", q.FeeRateBps)
	assert.True(t, q.FeeAmount.Equal(decimal.New(250, 0)), "got %s", q.FeeAmount)
}

func TestComputeFee_GasAllowanceOverridesEverything(t *testing.T) {
	e := newTestEngine()

	// Unregistered counterparties, lowest tier, still zero.
	q := e.ComputeFee(decimal.New(5_000, 0), decimal.Zero, "nobody", "anon", true)
	assert.True(t, q.FeeRateBps.IsZero())
	assert.True(t, q.FeeAmount.IsZero())
	assert.Equal(t, DiscountGasAllowance, q.DiscountReason)
}

func TestComputeFee_NeverNegative(t *testing.T) {
	e := newTestEngine()
	q := e.ComputeFee(decimal.New(-100, 0), decimal.Zero, "", "", false)
	assert.False(t, q.FeeAmount.IsNegative())
}

func TestYieldShare_TenNinetySplit(t *testing.T) {
	e := newTestEngine()

	split := e.YieldShare(decimal.New(200, 0))
	assert.True(t, split.ProtocolShare.Equal(decimal.New(20, 0)), "got %s", split.ProtocolShare)
	assert.True(t, split.ReceiverShare.Equal(decimal.New(180, 0)), "got %s", split.ReceiverShare)

	// Shares reproduce the total exactly.
	assert.True(t, split.ProtocolShare.Add(split.ReceiverShare).Equal(decimal.New(200, 0)))
}

func TestYieldShare_NoYieldNoSplit(t *testing.T) {
	e := newTestEngine()
	split := e.YieldShare(decimal.Zero)
	assert.True(t, split.ProtocolShare.IsZero())
	assert.True(t, split.ReceiverShare.IsZero())
}

func TestNextTierProgress_AtBoundaryIsZero(t *testing.T) {
	e := newTestEngine()

	// Exactly on the starter/growth boundary: the growth tier was just
	// entered with zero progress.
	p := e.NextTierProgress(decimal.New(10_000, 0))
	require.Equal(t, "growth", p.CurrentTier)
	assert.Equal(t, "scale", p.NextTier)
	assert.True(t, p.PercentComplete.IsZero(), "got %s", p.PercentComplete)
	assert.True(t, p.VolumeRemaining.Equal(decimal.New(90_000, 0)))
}

func TestNextTierProgress_MidTier(t *testing.T) {
	e := newTestEngine()

	p := e.NextTierProgress(decimal.New(5_000, 0))
	assert.Equal(t, "starter", p.CurrentTier)
	assert.Equal(t, "growth", p.NextTier)
	assert.True(t, p.PercentComplete.Equal(decimal.New(50, 0)), "got %s", p.PercentComplete)
}

func TestNextTierProgress_TopTier(t *testing.T) {
	e := newTestEngine()

	p := e.NextTierProgress(decimal.New(2_000_000, 0))
	assert.Equal(t, "enterprise", p.CurrentTier)
	assert.Empty(t, p.NextTier)
	assert.True(t, p.VolumeRemaining.IsZero())
	assert.True(t, p.PercentComplete.Equal(decimal.New(100, 0)))
}

func TestMemoryRegistry_CaseInsensitive(t *testing.T) {
	r := NewMemoryRegistry()
	r.Add("Alice.ETH")

	assert.True(t, r.Contains("alice.eth"))
	assert.True(t, r.Contains("ALICE.ETH"))
	assert.False(t, r.Contains("bob.eth"))

	r.Add(" bob.eth ")
	assert.True(t, r.Contains("bob.eth"))
	assert.Equal(t, []string{"alice.eth", "bob.eth"}, r.All())
}
