package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardtay/payrelay/types"
)

func newTestAllocator() *Allocator {
	return NewAllocator([]string{"yield", "restaking"}, nil)
}

func percentages(allocs []types.StrategyAllocation) map[string]int {
	out := make(map[string]int, len(allocs))
	for _, a := range allocs {
		out[a.DestinationID] = a.Percentage
	}
	return out
}

func TestParseAllocation_DropsUnknownAndRenormalizes(t *testing.T) {
	a := newTestAllocator()

	allocs := a.ParseAllocation("yield:60,restaking:30,bogus:10", "")
	require.Len(t, allocs, 2)

	got := percentages(allocs)
	assert.Equal(t, 67, got["yield"])
	assert.Equal(t, 33, got["restaking"])
}

func TestParseAllocation_SumsToExactlyHundred(t *testing.T) {
	a := newTestAllocator()

	cases := []string{
		"yield:60,restaking:40",
		"yield:1,restaking:1,hold:1",
		"yield:33,restaking:33,hold:33",
		"yield:7,restaking:13",
		"yield:999,restaking:1",
	}
	for _, raw := range cases {
		allocs := a.ParseAllocation(raw, "")
		sum := 0
		for _, al := range allocs {
			assert.Positive(t, al.Percentage, "input %q", raw)
			sum += al.Percentage
		}
		assert.Equal(t, 100, sum, "input %q", raw)
	}
}

func TestParseAllocation_TieBreakByDeclarationOrder(t *testing.T) {
	a := newTestAllocator()

	// Three equal weights: 33/33/33 floors with a 1-point shortfall. Both
	// remainders tie, so the extra point goes to the first declared entry.
	allocs := a.ParseAllocation("yield:1,restaking:1,hold:1", "")
	require.Len(t, allocs, 3)
	assert.Equal(t, 34, allocs[0].Percentage)
	assert.Equal(t, "yield", allocs[0].DestinationID)
	assert.Equal(t, 33, allocs[1].Percentage)
	assert.Equal(t, 33, allocs[2].Percentage)
}

func TestParseAllocation_AllInvalidFallsBackToDefault(t *testing.T) {
	a := newTestAllocator()

	allocs := a.ParseAllocation("bogus:50,nope:50", "")
	require.Len(t, allocs, 1)
	assert.Equal(t, DefaultDestination, allocs[0].DestinationID)
	assert.Equal(t, 100, allocs[0].Percentage)
}

func TestParseAllocation_NonPositiveWeightsDropped(t *testing.T) {
	a := newTestAllocator()

	allocs := a.ParseAllocation("yield:-5,restaking:0,hold:10", "")
	require.Len(t, allocs, 1)
	assert.Equal(t, "hold", allocs[0].DestinationID)
	assert.Equal(t, 100, allocs[0].Percentage)
}

func TestParseAllocation_SingleDestinationFallback(t *testing.T) {
	a := newTestAllocator()

	allocs := a.ParseAllocation("", "yield")
	require.Len(t, allocs, 1)
	assert.Equal(t, "yield", allocs[0].DestinationID)

	// Unrecognized fallback degrades to the default destination.
	allocs = a.ParseAllocation("", "casino")
	require.Len(t, allocs, 1)
	assert.Equal(t, DefaultDestination, allocs[0].DestinationID)
}

func TestSplitAmount_ReproducesTotal(t *testing.T) {
	a := newTestAllocator()
	allocs := a.ParseAllocation("yield:60,restaking:30,bogus:10", "")

	total := decimal.RequireFromString("0.01")
	parts := a.SplitAmount(total, allocs)

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(total), "sum %s != total %s", sum, total)
}

func TestSplitAmount_RemainderToFirstAllocation(t *testing.T) {
	a := newTestAllocator()
	allocs := []types.StrategyAllocation{
		{DestinationID: "yield", Percentage: 33},
		{DestinationID: "restaking", Percentage: 33},
		{DestinationID: "hold", Percentage: 34},
	}

	total := decimal.RequireFromString("100.000001")
	parts := a.SplitAmount(total, allocs)
	require.Len(t, parts, 3)

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(total))

	// The first declared allocation absorbs the rounding remainder.
	exact := total.Mul(decimal.New(33, 0)).Div(decimal.New(100, 0)).Truncate(6)
	assert.True(t, parts[0].Amount.GreaterThanOrEqual(exact))
}

func TestSplitAmount_EmptyAllocationHoldsTotal(t *testing.T) {
	a := newTestAllocator()
	parts := a.SplitAmount(decimal.New(42, 0), nil)
	require.Len(t, parts, 1)
	assert.Equal(t, DefaultDestination, parts[0].DestinationID)
	assert.True(t, parts[0].Amount.Equal(decimal.New(42, 0)))
}

func TestMemoryPreferenceStore_RoundTrip(t *testing.T) {
	s := NewMemoryPreferenceStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "Alice.ETH", "yield:60,restaking:40"))

	got, err := s.Get(ctx, "alice.eth")
	require.NoError(t, err)
	assert.Equal(t, "yield:60,restaking:40", got)

	missing, err := s.Get(ctx, "bob.eth")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
