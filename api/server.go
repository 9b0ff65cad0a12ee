// Package api exposes the relay over HTTP. Responses encode the three
// caller-visible outcomes distinctly: success with an empty route list,
// a 402-coded error echoing the payment requirements, and a plain 500.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay"
	"github.com/edwardtay/payrelay/logger"
	"github.com/edwardtay/payrelay/types"
)

// Server serves the relay API on a stdlib mux.
type Server struct {
	relay *payrelay.Relay
	log   logger.Logger
	http  *http.Server
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.http.ReadTimeout = read
		s.http.WriteTimeout = write
	}
}

// NewServer creates a Server on the given listen address.
func NewServer(relay *payrelay.Relay, addr string, opts ...ServerOption) *Server {
	s := &Server{
		relay: relay,
		log:   logger.NoopLogger{},
		http: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http.Handler = s.Handler()
	return s
}

// Handler builds the route table. Exposed separately so tests can drive
// it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/routes", s.handleRoutes)
	mux.HandleFunc("POST /v1/pay", s.handlePay)
	mux.HandleFunc("GET /v1/fees/quote", s.handleFeeQuote)
	mux.HandleFunc("GET /v1/strategy/{id}", s.handleGetStrategy)
	mux.HandleFunc("PUT /v1/strategy/{id}", s.handlePutStrategy)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.Info("api listening", map[string]any{"addr": s.http.Addr})
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := types.RouteRequest{
		FromChain:   q.Get("fromChain"),
		ToChain:     q.Get("toChain"),
		Amount:      q.Get("amount"),
		FromToken:   q.Get("fromToken"),
		ToToken:     q.Get("toToken"),
		FromAddress: q.Get("fromAddress"),
	}
	if v := q.Get("families"); v != "" {
		req.Families = strings.Split(v, ",")
	}
	if v := q.Get("denyExchanges"); v != "" {
		req.DenyExchanges = strings.Split(v, ",")
	}

	routes, err := s.relay.FindRoutes(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if routes == nil {
		routes = []types.RouteOption{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

type payRequest struct {
	ResourceURL string `json:"resourceUrl"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewRelayError(types.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}
	if req.ResourceURL == "" {
		s.writeError(w, types.NewRelayError(types.ErrInvalidRequest, "resourceUrl is required"))
		return
	}

	res, err := s.relay.Fetch(r.Context(), req.ResourceURL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": res.State,
		"body":  string(res.Body),
	})
}

func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		s.writeError(w, types.NewRelayError(types.ErrInvalidRequest, "invalid amount %q", q.Get("amount")))
		return
	}
	volume := decimal.Zero
	if v := q.Get("monthlyVolume"); v != "" {
		if volume, err = decimal.NewFromString(v); err != nil {
			s.writeError(w, types.NewRelayError(types.ErrInvalidRequest, "invalid monthlyVolume %q", v))
			return
		}
	}

	quote := s.relay.QuoteFee(amount, volume,
		q.Get("sender"), q.Get("receiver"), q.Get("gasAllowance") == "true")
	progress := s.relay.TierProgress(volume)

	writeJSON(w, http.StatusOK, map[string]any{
		"quote":        quote,
		"tierProgress": progress,
	})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw, err := s.relay.GetStrategy(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receiverId": id,
		"allocation": raw,
		"normalized": s.relay.ParseAllocation(raw),
	})
}

type strategyRequest struct {
	Allocation string `json:"allocation"`
}

func (s *Server) handlePutStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewRelayError(types.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}

	if err := s.relay.SetStrategy(r.Context(), id, req.Allocation); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receiverId": id,
		"allocation": req.Allocation,
		"normalized": s.relay.ParseAllocation(req.Allocation),
	})
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// writeError maps relay error codes onto HTTP statuses. Payment-path
// failures surface as 402 with the original PaymentDetails echoed in
// data; anything unrecognized is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var relayErr *types.RelayError
	if !errors.As(err, &relayErr) {
		s.log.Error("internal error", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Code:    types.ErrProviderError,
			Message: "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch relayErr.Code {
	case types.ErrInvalidRequest:
		status = http.StatusBadRequest
	case types.ErrPaymentRequired, types.ErrPaymentFailed, types.ErrAmbiguous402:
		status = http.StatusPaymentRequired
	case types.ErrNoRoute:
		status = http.StatusNotFound
	}

	writeJSON(w, status, errorBody{
		Code:    relayErr.Code,
		Message: relayErr.Message,
		Data:    relayErr.Data,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
