// Package protocol implements the probe -> pay -> access handshake for
// network resources that respond 402 until payment is proven.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/metrics"
	"github.com/edwardtay/payrelay/types"
)

// State of one resource access attempt. Accessed and PayFailed are
// terminal; the client never retries across states on its own.
type State string

const (
	StateUnprobed        State = "unprobed"
	StateFree            State = "free"
	StatePaymentRequired State = "payment-required"
	StatePaid            State = "paid"
	StateAccessed        State = "accessed"
	StatePayFailed       State = "pay-failed"
)

var validate = validator.New()

// ProbeResult is the outcome of probing a resource URL.
type ProbeResult struct {
	State State

	// Body is the resource payload when State is Free or Accessed. When
	// the response is not parseable as structured data this is the raw
	// text.
	Body []byte

	// Details are the asserted payment requirements when State is
	// PaymentRequired.
	Details *types.PaymentDetails
}

// PayResult is the outcome of the pay step.
type PayResult struct {
	State State

	// Reference is the settlement reference when State is Paid.
	Reference string

	// Details always carries the original requirement, so a failed
	// payment can be retried through a different payment path.
	Details types.PaymentDetails
}

// Client drives the payment-required handshake. Each of Probe, Pay and
// Access is independently cancellable; Fetch chains all three.
type Client struct {
	http    *http.Client
	signer  Signer
	timeout time.Duration
	log     logger.Logger
	rec     metrics.Recorder
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithTimeout(t time.Duration) ClientOption {
	return func(c *Client) { c.timeout = t }
}

func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func WithMetrics(r metrics.Recorder) ClientOption {
	return func(c *Client) { c.rec = r }
}

// NewClient creates a protocol client paying through the given signer.
func NewClient(signer Signer, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		signer:  signer,
		timeout: 30 * time.Second,
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// paymentEnvelope is the structured 402 body shape.
type paymentEnvelope struct {
	Payment *types.PaymentDetails `json:"payment"`
}

// Probe requests the resource URL. A non-402 response transitions to Free
// with the body passed through; a 402 must yield parsable payment details
// or the probe fails with a protocol error rather than silently reporting
// the resource as free.
func (c *Client) Probe(ctx context.Context, resourceURL string) (*ProbeResult, error) {
	start := time.Now()
	defer func() {
		c.rec.ObserveLatency("probe", time.Since(start), map[string]string{"provider": "protocol"})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "invalid resource url: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("probe read failed: %w", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		c.rec.IncCounter("probe_free", map[string]string{"provider": "protocol"})
		return &ProbeResult{State: StateFree, Body: body}, nil
	}

	details, err := parsePaymentDetails(body, resp.Header)
	if err != nil {
		// An ambiguous 402 is a hard error, distinct from "no payment
		// required".
		return nil, &types.RelayError{
			Code:    types.ErrAmbiguous402,
			Message: fmt.Sprintf("402 response with no parsable payment details: %v", err),
		}
	}

	c.rec.IncCounter("probe_payment_required", map[string]string{"provider": "protocol"})
	c.log.Info("payment required", map[string]any{
		"resource": resourceURL,
		"amount":   details.Amount,
		"token":    details.Token,
		"chain":    details.Chain,
	})

	return &ProbeResult{State: StatePaymentRequired, Details: details}, nil
}

// parsePaymentDetails extracts PaymentDetails from a 402 response, trying
// the structured body field first and the dedicated header second.
func parsePaymentDetails(body []byte, header http.Header) (*types.PaymentDetails, error) {
	var envelope paymentEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Payment != nil {
		if err := validate.Struct(envelope.Payment); err != nil {
			return nil, fmt.Errorf("incomplete payment field: %w", err)
		}
		return envelope.Payment, nil
	}

	if raw := header.Get(HeaderPaymentRequired); raw != "" {
		var details types.PaymentDetails
		if err := json.Unmarshal([]byte(raw), &details); err != nil {
			return nil, fmt.Errorf("malformed %s header: %w", HeaderPaymentRequired, err)
		}
		if err := validate.Struct(&details); err != nil {
			return nil, fmt.Errorf("incomplete %s header: %w", HeaderPaymentRequired, err)
		}
		return &details, nil
	}

	return nil, fmt.Errorf("no payment field in body and no %s header", HeaderPaymentRequired)
}

// Pay delegates the asserted requirement to the signer. A signer failure
// yields a PayFailed result carrying the original details; the error wraps
// them too so callers can branch on the code. Once the signer call has
// been dispatched, cancellation of ctx does not discard a possibly
// submitted payment: the late result is drained and logged for the caller
// to reconcile against the signer's own state.
func (c *Client) Pay(ctx context.Context, details types.PaymentDetails) (*PayResult, error) {
	if err := details.Validate(); err != nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "invalid payment details: %v", err)
	}

	start := time.Now()

	type signerOutcome struct {
		reference string
		err       error
	}
	outcome := make(chan signerOutcome, 1)

	payCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	go func() {
		defer cancel()
		ref, err := c.signer.Pay(payCtx, details)
		outcome <- signerOutcome{reference: ref, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			late := <-outcome
			if late.err == nil {
				c.log.Warn("payment settled after caller cancellation", map[string]any{
					"reference": late.reference,
					"recipient": details.Recipient,
				})
			}
		}()
		return &PayResult{State: StatePayFailed, Details: details}, &types.RelayError{
			Code:    types.ErrPaymentFailed,
			Message: "payment cancelled; reconcile with the signer before retrying",
			Data:    details,
		}

	case res := <-outcome:
		c.rec.ObserveLatency("pay", time.Since(start), map[string]string{"provider": "protocol"})
		if res.err != nil {
			c.rec.IncCounter("pay_failed", map[string]string{"provider": "protocol"})
			return &PayResult{State: StatePayFailed, Details: details}, &types.RelayError{
				Code:    types.ErrPaymentFailed,
				Message: fmt.Sprintf("signer failed: %v", res.err),
				Data:    details,
			}
		}

		c.rec.IncCounter("pay_settled", map[string]string{"provider": "protocol"})
		return &PayResult{State: StatePaid, Reference: res.reference, Details: details}, nil
	}
}

// Access re-requests the resource presenting the proof. The idempotency
// key ties the access to one payment attempt so servers can deduplicate.
func (c *Client) Access(ctx context.Context, resourceURL string, proof Proof, idempotencyKey string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "invalid resource url: %v", err)
	}

	if err := proof.Apply(req.Header); err != nil {
		return nil, types.NewRelayError(types.ErrInvalidRequest, "unusable proof: %v", err)
	}
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("access failed: %w", err)
	}
	defer resp.Body.Close()
	c.rec.ObserveLatency("access", time.Since(start), map[string]string{"provider": "protocol"})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("access read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewRelayError(types.ErrPaymentRequired,
			"resource rejected proof with status %d", resp.StatusCode)
	}

	c.rec.IncCounter("accessed", map[string]string{"provider": "protocol"})
	return &ProbeResult{State: StateAccessed, Body: body}, nil
}

// Fetch drives the full handshake: probe, and when payment is demanded,
// pay through the signer and access with a V2 proof. One idempotency key
// covers the pay and access of a single attempt.
func (c *Client) Fetch(ctx context.Context, resourceURL string) (*ProbeResult, error) {
	probe, err := c.Probe(ctx, resourceURL)
	if err != nil {
		return nil, err
	}
	if probe.State == StateFree {
		return probe, nil
	}

	attemptKey := uuid.NewString()

	paid, err := c.Pay(ctx, *probe.Details)
	if err != nil {
		return nil, err
	}

	proof := NewProofV2(c.signer.Address(), paid.Reference, paid.Details, time.Now())
	return c.Access(ctx, resourceURL, proof, attemptKey)
}
