package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardtay/payrelay"
	"github.com/edwardtay/payrelay/protocol"
	"github.com/edwardtay/payrelay/routing"
	"github.com/edwardtay/payrelay/types"
)

type fixedProvider struct {
	routes []types.RouteOption
	accept bool
}

func (p *fixedProvider) Name() string                      { return "fixed" }
func (p *fixedProvider) Family() routing.Family            { return routing.FamilySwapBridge }
func (p *fixedProvider) Supports(*types.RouteRequest) bool { return p.accept }
func (p *fixedProvider) FindRoutes(context.Context, *types.RouteRequest) ([]types.RouteOption, error) {
	return p.routes, nil
}

func testServer(t *testing.T, provider routing.Provider) *Server {
	t.Helper()
	signer := protocol.FuncSigner{
		WalletAddress: "0xwallet",
		PayFunc: func(context.Context, types.PaymentDetails) (string, error) {
			return "0xref", nil
		},
	}
	relay := payrelay.New(signer,
		payrelay.WithProviders(provider),
		payrelay.WithDestinations("yield", "restaking"),
	)
	t.Cleanup(func() { relay.Close() })
	return NewServer(relay, ":0")
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestRoutes_ReturnsRankedRoutes(t *testing.T) {
	s := testServer(t, &fixedProvider{
		accept: true,
		routes: []types.RouteOption{{ID: "r1", Path: "base -> arbitrum", Fee: "0.10 USD", Provider: "fixed"}},
	})

	rr := doRequest(t, s, http.MethodGet,
		"/v1/routes?fromChain=base&toChain=arbitrum&fromToken=USDC&toToken=USDC&amount=100", "")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	routes := body["routes"].([]any)
	require.Len(t, routes, 1)
	assert.Equal(t, "r1", routes[0].(map[string]any)["id"])
}

func TestRoutes_NoProviderIsEmptyTwoHundred(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: false})

	rr := doRequest(t, s, http.MethodGet,
		"/v1/routes?fromChain=base&toChain=arbitrum&fromToken=USDC&toToken=USDC&amount=100", "")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Empty(t, body["routes"])
}

func TestPay_GatedResourceHandshake(t *testing.T) {
	details := types.PaymentDetails{Amount: "1", Token: "USDC", Chain: "base", Recipient: "0xabc"}
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(protocol.HeaderPaymentProof) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]any{"payment": details})
			return
		}
		w.Write([]byte("paid content"))
	}))
	defer resource.Close()

	s := testServer(t, &fixedProvider{accept: true})
	rr := doRequest(t, s, http.MethodPost, "/v1/pay", `{"resourceUrl":"`+resource.URL+`"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, string(protocol.StateAccessed), body["state"])
	assert.Equal(t, "paid content", body["body"])
}

func TestPay_Ambiguous402SurfacesAsPaymentRequired(t *testing.T) {
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("no details here"))
	}))
	defer resource.Close()

	s := testServer(t, &fixedProvider{accept: true})
	rr := doRequest(t, s, http.MethodPost, "/v1/pay", `{"resourceUrl":"`+resource.URL+`"}`)

	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, types.ErrAmbiguous402, body["code"])
}

func TestPay_BadBody(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: true})

	rr := doRequest(t, s, http.MethodPost, "/v1/pay", "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, s, http.MethodPost, "/v1/pay", "{}")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFeeQuote(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: true})

	rr := doRequest(t, s, http.MethodGet, "/v1/fees/quote?amount=100&monthlyVolume=5000", "")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	quote := body["quote"].(map[string]any)
	assert.Equal(t, "starter", quote["tier"])
	assert.Equal(t, "30", quote["feeRateBps"])

	progress := body["tierProgress"].(map[string]any)
	assert.Equal(t, "growth", progress["nextTier"])
}

func TestFeeQuote_InvalidAmount(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: true})
	rr := doRequest(t, s, http.MethodGet, "/v1/fees/quote?amount=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStrategy_PutThenGet(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: true})

	rr := doRequest(t, s, http.MethodPut, "/v1/strategy/merchant-1",
		`{"allocation":"yield:60,restaking:30,bogus:10"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	normalized := body["normalized"].([]any)
	require.Len(t, normalized, 2)
	first := normalized[0].(map[string]any)
	assert.Equal(t, "yield", first["destinationId"])
	assert.Equal(t, float64(67), first["percentage"])

	rr = doRequest(t, s, http.MethodGet, "/v1/strategy/merchant-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, "yield:60,restaking:30,bogus:10", body["allocation"])
}

func TestHealth(t *testing.T) {
	s := testServer(t, &fixedProvider{accept: true})
	rr := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
