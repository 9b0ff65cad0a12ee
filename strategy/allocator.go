// Package strategy partitions inbound payment amounts across a receiver's
// declared destination strategies.
package strategy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/types"
)

// DefaultDestination is the hold-as-is strategy used whenever a declared
// allocation cannot be honored. Allocation parsing is advisory: bad input
// degrades here rather than blocking a payment.
const DefaultDestination = "hold"

// Sub-amounts are truncated at six decimal places, the smallest USDC unit;
// the rounding remainder goes to the first allocation in declaration order.
const amountPrecision = 6

// Allocator parses destination-strategy allocations and splits amounts
// by weight.
type Allocator struct {
	known map[string]bool
	log   logger.Logger
}

// NewAllocator creates an allocator recognizing the given destination ids.
// The default destination is always recognized.
func NewAllocator(destinations []string, log logger.Logger) *Allocator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	known := map[string]bool{DefaultDestination: true}
	for _, d := range destinations {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			known[d] = true
		}
	}
	return &Allocator{known: known, log: log}
}

// ParseAllocation turns a declared multi-destination string such as
// "yield:60,restaking:40" into a normalized allocation summing to exactly
// 100. Entries with unknown destinations or non-positive weights are
// dropped and the survivors renormalized by the largest-remainder method
// (ties broken by declaration order). When nothing survives, the single
// fallback destination is used if recognized, else the default.
func (a *Allocator) ParseAllocation(raw, fallback string) []types.StrategyAllocation {
	entries := a.parseEntries(raw)

	if len(entries) == 0 {
		dest := strings.ToLower(strings.TrimSpace(fallback))
		if !a.known[dest] {
			if dest != "" {
				a.log.Debug("unrecognized fallback destination", map[string]any{"destination": dest})
			}
			dest = DefaultDestination
		}
		return []types.StrategyAllocation{{DestinationID: dest, Percentage: 100}}
	}

	return renormalize(entries)
}

type weightedEntry struct {
	id     string
	weight int
}

func (a *Allocator) parseEntries(raw string) []weightedEntry {
	var out []weightedEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, weightStr, found := strings.Cut(part, ":")
		if !found {
			continue
		}

		id = strings.ToLower(strings.TrimSpace(id))
		weight, err := strconv.Atoi(strings.TrimSpace(weightStr))
		if err != nil || weight <= 0 || !a.known[id] {
			a.log.Debug("dropping allocation entry", map[string]any{"entry": part})
			continue
		}

		out = append(out, weightedEntry{id: id, weight: weight})
	}
	return out
}

// renormalize scales surviving weights so they sum to exactly 100 using the
// largest-remainder method: floor each scaled weight, then hand out the
// shortfall one point at a time in descending fractional-remainder order.
// Equal remainders resolve in declaration order, which keeps the result
// deterministic.
func renormalize(entries []weightedEntry) []types.StrategyAllocation {
	total := 0
	for _, e := range entries {
		total += e.weight
	}

	type share struct {
		index     int
		floor     int
		remainder int // weight*100 mod total, avoids float comparison
	}

	shares := make([]share, len(entries))
	floorSum := 0
	for i, e := range entries {
		scaled := e.weight * 100
		shares[i] = share{index: i, floor: scaled / total, remainder: scaled % total}
		floorSum += shares[i].floor
	}

	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].remainder > shares[j].remainder
	})

	for i := 0; i < 100-floorSum; i++ {
		shares[i%len(shares)].floor++
	}

	sort.Slice(shares, func(i, j int) bool { return shares[i].index < shares[j].index })

	out := make([]types.StrategyAllocation, 0, len(entries))
	for _, s := range shares {
		if s.floor == 0 {
			continue
		}
		out = append(out, types.StrategyAllocation{
			DestinationID: entries[s.index].id,
			Percentage:    s.floor,
		})
	}
	return out
}

// SplitAmount partitions total proportionally by allocation weight. The sum
// of the sub-amounts reproduces the total exactly: each share is truncated
// to the minimum currency unit and the remainder is assigned to the first
// allocation in declaration order.
func (a *Allocator) SplitAmount(total decimal.Decimal, allocs []types.StrategyAllocation) []types.DestinationAmount {
	if len(allocs) == 0 {
		return []types.DestinationAmount{{DestinationID: DefaultDestination, Amount: total}}
	}

	out := make([]types.DestinationAmount, len(allocs))
	assigned := decimal.Zero
	for i, alloc := range allocs {
		share := total.Mul(decimal.New(int64(alloc.Percentage), 0)).
			Div(decimal.New(100, 0)).
			Truncate(amountPrecision)
		out[i] = types.DestinationAmount{DestinationID: alloc.DestinationID, Amount: share}
		assigned = assigned.Add(share)
	}

	if remainder := total.Sub(assigned); !remainder.IsZero() {
		out[0].Amount = out[0].Amount.Add(remainder)
	}

	return out
}
