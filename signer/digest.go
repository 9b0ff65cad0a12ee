package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type strings for USDC's transferWithAuthorization. Ordering of
// the domain fields matters; it must match the token contract's.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// usdcDomainName and usdcDomainVersion are the EIP-712 domain values USDC
// deployments register on-chain.
const (
	usdcDomainName    = "USD Coin"
	usdcDomainVersion = "2"
)

// pad32 left-pads a big.Int into a 32-byte word.
func pad32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// address32 left-pads an address into a 32-byte word.
func address32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// domainSeparator hashes the USDC EIP-712 domain for one deployment:
// keccak256(abi.encode(typeHash, keccak256(name), keccak256(version),
// chainId, verifyingContract)).
func domainSeparator(chainID *big.Int, token common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(usdcDomainName)),
		crypto.Keccak256([]byte(usdcDomainVersion)),
		pad32(chainID),
		address32(token),
	)
}

// authorizationDigest builds the final digest a wallet signs for one
// transferWithAuthorization: keccak256("\x19\x01" || domainSeparator ||
// structHash).
func authorizationDigest(chainID *big.Int, token common.Address, auth Authorization) (common.Hash, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("authorization value %q is not a decimal integer", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("authorization validAfter %q is not a decimal integer", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("authorization validBefore %q is not a decimal integer", auth.ValidBefore)
	}

	structHash := crypto.Keccak256Hash(
		transferAuthTypeHash.Bytes(),
		address32(common.HexToAddress(auth.From)),
		address32(common.HexToAddress(auth.To)),
		pad32(value),
		pad32(validAfter),
		pad32(validBefore),
		common.HexToHash(auth.Nonce).Bytes(),
	)

	separator := domainSeparator(chainID, token)
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		separator.Bytes(),
		structHash.Bytes(),
	), nil
}
