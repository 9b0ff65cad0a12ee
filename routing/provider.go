// Package routing discovers and ranks candidate settlement routes across
// liquidity and bridge providers.
package routing

import (
	"context"

	"github.com/edwardtay/payrelay/types"
)

// Family groups providers that answer the same kind of routing question.
// The caller may restrict a query to a subset of families.
type Family string

const (
	// FamilySwapBridge covers generic swap/bridge aggregator backends.
	FamilySwapBridge Family = "swap-bridge"

	// FamilyNativeUSDC covers Circle's native USDC burn-and-mint bridge.
	FamilyNativeUSDC Family = "native-usdc"
)

// Provider is one liquidity or bridge source. Implementations return an
// empty slice, not an error, when a request is outside their supported
// (token, chain) pairs. Errors are reserved for genuine upstream failures;
// the aggregator converts them into diagnostic entries.
type Provider interface {
	// Name identifies the provider in RouteOption.Provider and cache keys.
	Name() string

	// Family returns the routing family the provider belongs to.
	Family() Family

	// Supports reports whether the provider can service the request at all.
	// A false return means FindRoutes would yield an empty slice.
	Supports(req *types.RouteRequest) bool

	// FindRoutes queries the provider backend for candidate routes.
	FindRoutes(ctx context.Context, req *types.RouteRequest) ([]types.RouteOption, error)
}
