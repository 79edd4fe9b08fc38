package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stremovskyy/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
)

func TestInitiateCheckout(t *testing.T) {
	var got contracts.InitiateRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, contracts.RouteCheckout, r.URL.Path)
		key = idempotency.Key(r)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(contracts.InitiateResponse{TransactionID: got.TransactionID})
	}))
	defer srv.Close()

	draft := domain.OrderDraft{
		CheckoutFormData: domain.CheckoutFormData{Email: "jane@example.com"},
		Items:            []domain.OrderItem{{ItemID: "a1", Quantity: 2}},
	}
	echoed, err := New(srv.URL).InitiateCheckout(context.Background(), "1234-5678", draft)
	require.NoError(t, err)

	assert.Equal(t, "1234-5678", echoed)
	assert.Equal(t, "1234-5678", key)
	assert.Equal(t, draft, got.Order)
}

func TestTokenCalls(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]domain.TokenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.TokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, idempotency.Key(r))
		mu.Lock()
		seen[r.URL.Path] = req
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(contracts.StatusResponse{TransactionID: req.TransactionID, Status: "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	req := domain.TokenRequest{TransactionID: "1234-5678", Token: "a123"}
	require.NoError(t, c.Approve(context.Background(), req))
	require.NoError(t, c.Reject(context.Background(), req))
	require.NoError(t, c.Heartbeat(context.Background(), req))

	assert.Equal(t, map[string]domain.TokenRequest{
		contracts.RouteApprove:   req,
		contracts.RouteReject:    req,
		contracts.RouteHeartbeat: req,
	}, seen)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(contracts.ErrorResponse{Error: "token mismatch"})
	}))
	defer srv.Close()

	err := New(srv.URL).Approve(context.Background(), domain.TokenRequest{TransactionID: "t", Token: "bad"})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Equal(t, "unexpected status: 403: token mismatch", err.Error())
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).InitiateCheckout(context.Background(), "t", domain.OrderDraft{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode initiate response")
}

func TestInitiateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(contracts.InitiateResponse{TransactionID: "t"})
	}))
	defer srv.Close()

	echoed, err := New(srv.URL, WithRetry(3, time.Millisecond)).InitiateCheckout(context.Background(), "t", domain.OrderDraft{})
	require.NoError(t, err)
	assert.Equal(t, "t", echoed)
	assert.EqualValues(t, 3, calls.Load())
}

func TestTokenCallsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(srv.URL, WithRetry(3, time.Millisecond)).Heartbeat(context.Background(), domain.TokenRequest{TransactionID: "t", Token: "x"})
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&HTTPStatusError{StatusCode: http.StatusBadGateway}))
	assert.True(t, isRetryable(&HTTPStatusError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isRetryable(&HTTPStatusError{StatusCode: http.StatusNotImplemented}))
	assert.False(t, isRetryable(&HTTPStatusError{StatusCode: http.StatusConflict}))
	assert.False(t, isRetryable(context.Canceled))
}

func TestRecorderSeesTraffic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contracts.RouteReject {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(contracts.StatusResponse{Status: "ok"})
	}))
	defer srv.Close()

	rec := &testRecorder{}
	c := New(srv.URL, WithRecorder(rec))
	req := domain.TokenRequest{TransactionID: "1234-5678", Token: "a123"}
	require.NoError(t, c.Approve(context.Background(), req))
	require.Error(t, c.Reject(context.Background(), req))

	assert.Equal(t, 2, rec.requestCount)
	assert.Equal(t, 2, rec.responseCount)
	assert.Equal(t, 1, rec.errorCount)
	assert.Equal(t, "1234-5678", rec.lastTags["transaction_id"])
	assert.Equal(t, "reject", rec.lastTags["call"])
}

type testRecorder struct {
	requestCount  int
	responseCount int
	errorCount    int
	lastTags      map[string]string
}

func (t *testRecorder) RecordRequest(_ context.Context, _ *string, _ string, _ []byte, tags map[string]string) error {
	t.requestCount++
	t.lastTags = tags
	return nil
}

func (t *testRecorder) RecordResponse(context.Context, *string, string, []byte, map[string]string) error {
	t.responseCount++
	return nil
}

func (t *testRecorder) RecordError(context.Context, *string, string, error, map[string]string) error {
	t.errorCount++
	return nil
}

func (t *testRecorder) RecordMetrics(context.Context, *string, string, map[string]string, map[string]string) error {
	return nil
}

func (t *testRecorder) GetRequest(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (t *testRecorder) GetResponse(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (t *testRecorder) FindByTag(context.Context, string) ([]string, error) {
	return nil, nil
}

func (t *testRecorder) Async() recorder.AsyncRecorder {
	return nil
}
