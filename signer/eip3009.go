// Package signer settles payment requirements locally by producing signed
// EIP-3009 transferWithAuthorization payloads for USDC, without holding an
// RPC connection. The resulting reference is self-contained: a facilitator
// or resource server can verify and submit it on-chain.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/types"
)

// usdcContracts maps chain names to the canonical USDC deployment used as
// the EIP-712 verifying contract.
var usdcContracts = map[types.Chain]common.Address{
	types.ChainEthereum:    common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	types.ChainBase:        common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	types.ChainArbitrum:    common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	types.ChainOptimism:    common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAca62150cACdb12"),
	types.ChainPolygon:     common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
	types.ChainAvalanche:   common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
	types.ChainBaseSepolia: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	types.ChainSepolia:     common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
}

// usdcDecimals is the base-unit precision of every USDC deployment above.
const usdcDecimals = 6

// Authorization is the signed transferWithAuthorization message. Value,
// ValidAfter and ValidBefore are decimal strings; Nonce is a 32-byte hex
// string.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the settlement reference content: one authorization, the
// signature over its EIP-712 digest, and enough context to rebuild that
// digest for verification.
type Payload struct {
	Type          string        `json:"type"`
	Token         string        `json:"token"`
	ChainID       string        `json:"chainId"`
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

const payloadType = "transferWithAuthorization"

// EIP3009Signer signs USDC transfer authorizations with a local private
// key. It satisfies protocol.Signer.
type EIP3009Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	validity time.Duration
	log      logger.Logger
}

// Option customizes an EIP3009Signer.
type Option func(*EIP3009Signer)

// WithValidity bounds how long a signed authorization stays submittable.
func WithValidity(d time.Duration) Option {
	return func(s *EIP3009Signer) { s.validity = d }
}

func WithLogger(l logger.Logger) Option {
	return func(s *EIP3009Signer) { s.log = l }
}

// NewEIP3009Signer creates a signer from a hex private key, with or
// without the 0x prefix.
func NewEIP3009Signer(hexKey string, opts ...Option) (*EIP3009Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	s := &EIP3009Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		validity: 10 * time.Minute,
		log:      logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the checksummed wallet address.
func (s *EIP3009Signer) Address() string {
	return s.address.Hex()
}

// Pay signs a transferWithAuthorization for the asserted requirement and
// returns the base64 payload as the settlement reference. The amount is
// interpreted as a human USDC amount and converted to base units.
func (s *EIP3009Signer) Pay(ctx context.Context, details types.PaymentDetails) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !types.IsStablecoin(details.Token) {
		return "", types.NewRelayError(types.ErrSignerError,
			"token %q is not a supported stablecoin", details.Token)
	}

	chain := types.NormalizeChain(details.Chain)
	chainID, ok := types.ChainIDs[chain]
	if !ok {
		return "", types.NewRelayError(types.ErrSignerError, "unknown chain %q", details.Chain)
	}
	token, ok := usdcContracts[chain]
	if !ok {
		return "", types.NewRelayError(types.ErrSignerError, "no USDC deployment registered for %q", chain)
	}
	if !common.IsHexAddress(details.Recipient) {
		return "", types.NewRelayError(types.ErrSignerError,
			"recipient %q is not a hex address", details.Recipient)
	}

	value, err := baseUnits(details.Amount)
	if err != nil {
		return "", types.NewRelayError(types.ErrSignerError, "invalid amount %q: %v", details.Amount, err)
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now()
	auth := Authorization{
		From:        s.address.Hex(),
		To:          common.HexToAddress(details.Recipient).Hex(),
		Value:       value.String(),
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", now.Add(s.validity).Unix()),
		Nonce:       nonce,
	}

	digest, err := authorizationDigest(new(big.Int).SetUint64(chainID), token, auth)
	if err != nil {
		return "", fmt.Errorf("build authorization digest: %w", err)
	}

	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	// Contracts expect V as 27/28.
	if sig[64] < 27 {
		sig[64] += 27
	}

	payload := Payload{
		Type:          payloadType,
		Token:         token.Hex(),
		ChainID:       fmt.Sprintf("%d", chainID),
		Authorization: auth,
		Signature:     hexutil.Encode(sig),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	s.log.Info("signed transfer authorization", map[string]any{
		"chain":       chain,
		"recipient":   auth.To,
		"value":       auth.Value,
		"validBefore": auth.ValidBefore,
	})

	return base64.StdEncoding.EncodeToString(encoded), nil
}

// RecoverAuthorizer decodes a settlement reference produced by Pay and
// recovers the address that signed it. Verification fails if the payload
// is malformed or the signature does not match the embedded digest.
func RecoverAuthorizer(reference string) (common.Address, *Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(reference)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("reference is not base64: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.Address{}, nil, fmt.Errorf("reference is not a signed payload: %w", err)
	}
	if payload.Type != payloadType {
		return common.Address{}, nil, fmt.Errorf("unexpected payload type %q", payload.Type)
	}

	chainID, ok := new(big.Int).SetString(payload.ChainID, 10)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("chainId %q is not a decimal integer", payload.ChainID)
	}

	digest, err := authorizationDigest(chainID, common.HexToAddress(payload.Token), payload.Authorization)
	if err != nil {
		return common.Address{}, nil, err
	}

	sig, err := hexutil.Decode(payload.Signature)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("signature is not hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), &payload, nil
}

// baseUnits converts a human USDC amount string to base units, rejecting
// negative amounts and precision the token cannot represent.
func baseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount is negative")
	}
	scaled := d.Shift(usdcDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount has more than %d decimal places", usdcDecimals)
	}
	return scaled.BigInt(), nil
}

// randomNonce returns a fresh 32-byte hex nonce. EIP-3009 nonces are
// random, not sequential, so concurrent authorizations never collide.
func randomNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hexutil.Encode(b[:]), nil
}
