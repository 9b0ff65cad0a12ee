package protocol

import (
	"context"

	"github.com/edwardtay/payrelay/types"
)

// Signer is the external payment-signing collaborator. Given asserted
// payment details it produces a settlement reference (a transaction hash
// or signed receipt); the protocol client never inspects signer internals.
type Signer interface {
	// Address returns the paying wallet's address, bound into V2 proofs.
	Address() string

	// Pay settles the asserted requirement and returns the settlement
	// reference. Once Pay has been dispatched the signer owns the
	// in-flight payment; callers must not assume cancellation unwinds it.
	Pay(ctx context.Context, details types.PaymentDetails) (string, error)
}

// FuncSigner adapts a wallet callback into a Signer.
type FuncSigner struct {
	WalletAddress string
	PayFunc       func(ctx context.Context, details types.PaymentDetails) (string, error)
}

func (f FuncSigner) Address() string { return f.WalletAddress }

func (f FuncSigner) Pay(ctx context.Context, details types.PaymentDetails) (string, error) {
	return f.PayFunc(ctx, details)
}
