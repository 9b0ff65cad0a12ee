package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edwardtay/payrelay/types"
)

// Header names used by the pay-to-access handshake.
const (
	// HeaderPaymentRequired carries PaymentDetails as JSON on a 402
	// response, for servers that do not put them in the body.
	HeaderPaymentRequired = "X-Payment-Required"

	// HeaderPayment carries a bare opaque proof (V1).
	HeaderPayment = "X-Payment"

	// HeaderPaymentProof carries the JSON-serialized PaymentProof (V2).
	HeaderPaymentProof = "X-Payment-Proof"

	// HeaderWalletAddress is the terse supplementary identity header (V2),
	// for servers that only need shallow verification.
	HeaderWalletAddress = "X-Wallet-Address"

	// HeaderPaymentVersion marks which proof generation is presented.
	HeaderPaymentVersion = "X-Payment-Version"

	// HeaderIdempotencyKey identifies one probe/pay/access attempt so a
	// server can deduplicate a retried payment.
	HeaderIdempotencyKey = "X-Payment-Idempotency-Key"
)

// Proof is a payment proof of either generation. The two variants carry
// their own serialization; servers written for either generation verify
// whichever they understand.
type Proof interface {
	ProofVersion() types.ProofVersion

	// Apply sets the proof's evidence headers on an access request.
	Apply(h http.Header) error
}

// ProofV1 is the first-generation proof: a single opaque settlement
// reference with no bound identity. Kept so callers written against
// V1-era servers can present a bare string without constructing the full
// structured record.
type ProofV1 struct {
	Reference string
}

func (p ProofV1) ProofVersion() types.ProofVersion { return types.ProofVersion1 }

func (p ProofV1) Apply(h http.Header) error {
	if p.Reference == "" {
		return fmt.Errorf("v1 proof reference is empty")
	}
	h.Set(HeaderPayment, p.Reference)
	h.Set(HeaderPaymentVersion, "1")
	return nil
}

// ProofV2 is the structured, identity-bound proof. It presents two pieces
// of evidence: the self-describing record and the terse wallet-address
// header, so servers can choose either verification depth.
type ProofV2 struct {
	Record types.PaymentProof
}

// NewProofV2 binds a wallet address, the original payment requirements and
// a settlement reference into a structured proof.
func NewProofV2(walletAddress, reference string, details types.PaymentDetails, paidAt time.Time) ProofV2 {
	return ProofV2{Record: types.PaymentProof{
		Proof:          reference,
		WalletAddress:  walletAddress,
		PaidAt:         paidAt.UTC(),
		PaymentDetails: details,
		Version:        types.ProofVersion2,
	}}
}

func (p ProofV2) ProofVersion() types.ProofVersion { return types.ProofVersion2 }

func (p ProofV2) Apply(h http.Header) error {
	if p.Record.WalletAddress == "" {
		return fmt.Errorf("v2 proof has no wallet address")
	}
	encoded, err := json.Marshal(p.Record)
	if err != nil {
		return fmt.Errorf("encode payment proof: %w", err)
	}
	h.Set(HeaderPaymentProof, string(encoded))
	h.Set(HeaderWalletAddress, p.Record.WalletAddress)
	h.Set(HeaderPaymentVersion, "2")
	return nil
}
