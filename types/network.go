package types

import "strings"

// Chain represents supported settlement chains.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainBase      Chain = "base"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainPolygon   Chain = "polygon"
	ChainAvalanche Chain = "avalanche"

	// Testnets
	ChainBaseSepolia Chain = "base-sepolia"
	ChainSepolia     Chain = "sepolia"
)

// ChainIDs maps chain names to their EVM chain IDs.
var ChainIDs = map[Chain]uint64{
	ChainEthereum:    1,
	ChainBase:        8453,
	ChainArbitrum:    42161,
	ChainOptimism:    10,
	ChainPolygon:     137,
	ChainAvalanche:   43114,
	ChainBaseSepolia: 84532,
	ChainSepolia:     11155111,
}

// CCTPDomains maps chains to their Circle attestation domain identifiers.
// Only chains with native USDC issuance appear here.
var CCTPDomains = map[Chain]uint32{
	ChainEthereum:  0,
	ChainAvalanche: 1,
	ChainOptimism:  2,
	ChainArbitrum:  3,
	ChainBase:      6,
	ChainPolygon:   7,
}

func (c Chain) String() string {
	return string(c)
}

// IsTestnet reports whether the chain is a test network.
func (c Chain) IsTestnet() bool {
	return c == ChainBaseSepolia || c == ChainSepolia
}

// SupportsCCTP reports whether Circle's native USDC bridge serves the chain.
func (c Chain) SupportsCCTP() bool {
	_, ok := CCTPDomains[c]
	return ok
}

// NormalizeChain lowercases and trims a chain name from an external request.
func NormalizeChain(name string) Chain {
	return Chain(strings.ToLower(strings.TrimSpace(name)))
}

// IsStablecoin reports whether the token symbol is one of the stablecoins
// the relay settles in.
func IsStablecoin(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "USDC", "USDT", "DAI", "PYUSD":
		return true
	}
	return false
}
