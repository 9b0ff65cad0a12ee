package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardtay/payrelay/types"
)

// Throwaway key for test vectors only.
const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func newTestSigner(t *testing.T, opts ...Option) *EIP3009Signer {
	t.Helper()
	s, err := NewEIP3009Signer(testKeyHex, opts...)
	require.NoError(t, err)
	return s
}

func testPayment() types.PaymentDetails {
	return types.PaymentDetails{
		Amount:    "12.5",
		Token:     "USDC",
		Chain:     "base",
		Recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	}
}

func TestNewEIP3009Signer_AcceptsPrefixedKey(t *testing.T) {
	plain := newTestSigner(t)
	prefixed, err := NewEIP3009Signer("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, plain.Address(), prefixed.Address())

	_, err = NewEIP3009Signer("not-a-key")
	assert.Error(t, err)
}

func TestPay_ReferenceRecoversToSigner(t *testing.T) {
	s := newTestSigner(t)
	ref, err := s.Pay(context.Background(), testPayment())
	require.NoError(t, err)

	recovered, payload, err := RecoverAuthorizer(ref)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered.Hex())

	assert.Equal(t, "transferWithAuthorization", payload.Type)
	assert.Equal(t, strconv.FormatUint(types.ChainIDs[types.ChainBase], 10), payload.ChainID)
	assert.Equal(t, usdcContracts[types.ChainBase].Hex(), payload.Token)
	assert.Equal(t, s.Address(), payload.Authorization.From)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", payload.Authorization.To)
	assert.Equal(t, "12500000", payload.Authorization.Value)
	assert.Equal(t, "0", payload.Authorization.ValidAfter)
}

func TestPay_ValidityWindow(t *testing.T) {
	s := newTestSigner(t, WithValidity(time.Hour))
	before := time.Now()

	ref, err := s.Pay(context.Background(), testPayment())
	require.NoError(t, err)

	_, payload, err := RecoverAuthorizer(ref)
	require.NoError(t, err)

	validBefore, err := strconv.ParseInt(payload.Authorization.ValidBefore, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, validBefore, before.Add(time.Hour).Unix())
	assert.LessOrEqual(t, validBefore, time.Now().Add(time.Hour+time.Minute).Unix())
}

func TestPay_NoncesDoNotCollide(t *testing.T) {
	s := newTestSigner(t)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		ref, err := s.Pay(context.Background(), testPayment())
		require.NoError(t, err)
		_, payload, err := RecoverAuthorizer(ref)
		require.NoError(t, err)
		assert.False(t, seen[payload.Authorization.Nonce])
		seen[payload.Authorization.Nonce] = true
	}
}

func TestPay_Rejections(t *testing.T) {
	s := newTestSigner(t)

	cases := []struct {
		name   string
		mutate func(*types.PaymentDetails)
	}{
		{"non-stablecoin token", func(d *types.PaymentDetails) { d.Token = "WETH" }},
		{"unknown chain", func(d *types.PaymentDetails) { d.Chain = "solana" }},
		{"bad recipient", func(d *types.PaymentDetails) { d.Recipient = "bob.eth" }},
		{"negative amount", func(d *types.PaymentDetails) { d.Amount = "-1" }},
		{"sub-unit precision", func(d *types.PaymentDetails) { d.Amount = "0.0000001" }},
		{"non-numeric amount", func(d *types.PaymentDetails) { d.Amount = "ten" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			details := testPayment()
			tc.mutate(&details)
			_, err := s.Pay(context.Background(), details)
			assert.Error(t, err)
		})
	}
}

func TestPay_CancelledContext(t *testing.T) {
	s := newTestSigner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Pay(ctx, testPayment())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecoverAuthorizer_RejectsTampering(t *testing.T) {
	s := newTestSigner(t)
	ref, err := s.Pay(context.Background(), testPayment())
	require.NoError(t, err)

	_, payload, err := RecoverAuthorizer(ref)
	require.NoError(t, err)

	// Inflate the value; the digest no longer matches the signature so the
	// recovered address differs from the claimed sender.
	tampered := *payload
	tampered.Authorization.Value = "999999999"
	recovered, _, err := RecoverAuthorizer(encodePayload(t, tampered))
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), recovered.Hex())
}

func TestRecoverAuthorizer_RejectsGarbage(t *testing.T) {
	_, _, err := RecoverAuthorizer("not base64!!!")
	assert.Error(t, err)

	_, _, err = RecoverAuthorizer("aGVsbG8=") // "hello"
	assert.Error(t, err)
}

func TestBaseUnits(t *testing.T) {
	cases := map[string]string{
		"1":        "1000000",
		"0.000001": "1",
		"12.5":     "12500000",
		"0":        "0",
	}
	for in, want := range cases {
		got, err := baseUnits(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
}

func TestDigest_DistinctPerChain(t *testing.T) {
	auth := Authorization{
		From:        crypto.PubkeyToAddress(mustKey(t).PublicKey).Hex(),
		To:          "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "2000000000",
		Nonce:       "0x" + fmt.Sprintf("%064d", 1),
	}

	base, err := authorizationDigest(chainIDBig(types.ChainBase), usdcContracts[types.ChainBase], auth)
	require.NoError(t, err)
	arb, err := authorizationDigest(chainIDBig(types.ChainArbitrum), usdcContracts[types.ChainArbitrum], auth)
	require.NoError(t, err)
	assert.NotEqual(t, base, arb)
}

func encodePayload(t *testing.T, p Payload) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return key
}

func chainIDBig(c types.Chain) *big.Int {
	return new(big.Int).SetUint64(types.ChainIDs[c])
}
