// Package api serves the checkout backend over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/service"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

const requestTimeout = 10 * time.Second

type Handler struct {
	svc     *service.Service
	metrics *metrics.ServerMetrics
	mux     *http.ServeMux
}

// NewHandler routes the checkout RPC boundary to svc. m may be nil.
func NewHandler(svc *service.Service, m *metrics.ServerMetrics) *Handler {
	h := &Handler{svc: svc, metrics: m, mux: http.NewServeMux()}
	h.mux.HandleFunc("/health", h.observed("health", h.health))
	h.mux.HandleFunc(contracts.RouteCheckout, h.observed("checkout", h.initiate))
	h.mux.HandleFunc(contracts.RouteApprove, h.observed("approve", h.tokenCall(svc.Approve)))
	h.mux.HandleFunc(contracts.RouteReject, h.observed("reject", h.tokenCall(svc.Reject)))
	h.mux.HandleFunc(contracts.RouteHeartbeat, h.observed("heartbeat", h.tokenCall(svc.Heartbeat)))
	return h
}

// Mux exposes the router so the caller can add /metrics and friends.
func (h *Handler) Mux() *http.ServeMux {
	return h.mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) observed(name string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		if h.metrics != nil {
			h.metrics.Observe(name, sw.status, start)
		}
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req contracts.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, replay, err := h.svc.Initiate(ctx, req, idempotency.Key(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := contracts.InitiateResponse{TransactionID: string(id), Status: string(domain.StatusPending)}
	if replay {
		resp.Status = contracts.StatusIdempotentReplay
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) tokenCall(fn func(context.Context, checkout.TokenRequest) (domain.Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req checkout.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		t, err := fn(ctx, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, contracts.StatusResponse{TransactionID: string(t.ID), Status: string(t.Status)})
	}
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, StatusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, contracts.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
