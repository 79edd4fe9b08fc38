// Package rpc is the storefront's HTTP client for the checkout backend.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stremovskyy/recorder"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

const service = "storefront"

// Client implements coordinator.Initiator and session.Backend over HTTP JSON.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	recorder      recorder.Recorder
	retryAttempts int
	retryWait     time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithRecorder records every request, response and error body, tagged with
// the transaction id and the call name.
func WithRecorder(r recorder.Recorder) Option {
	return func(cl *Client) { cl.recorder = r }
}

// WithRetry retries transport errors, 429 and 5xx replies. Only the
// initiation call is retried; it carries an idempotency key.
func WithRetry(attempts int, wait time.Duration) Option {
	return func(cl *Client) {
		if attempts > 0 {
			cl.retryAttempts = attempts
		}
		if wait > 0 {
			cl.retryWait = wait
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		retryAttempts: 1,
		retryWait:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateCheckout posts the order draft and returns the transaction id the
// backend acknowledged. The transaction id doubles as the idempotency key.
func (c *Client) InitiateCheckout(ctx context.Context, txID string, draft domain.OrderDraft) (string, error) {
	var out contracts.InitiateResponse
	body := contracts.InitiateRequest{TransactionID: txID, Order: draft}
	if err := c.call(ctx, "initiate", contracts.RouteCheckout, txID, body, &out, c.retryAttempts); err != nil {
		return "", err
	}
	return out.TransactionID, nil
}

func (c *Client) Approve(ctx context.Context, req domain.TokenRequest) error {
	return c.tokenCall(ctx, "approve", contracts.RouteApprove, req)
}

func (c *Client) Reject(ctx context.Context, req domain.TokenRequest) error {
	return c.tokenCall(ctx, "reject", contracts.RouteReject, req)
}

func (c *Client) Heartbeat(ctx context.Context, req domain.TokenRequest) error {
	return c.tokenCall(ctx, "heartbeat", contracts.RouteHeartbeat, req)
}

func (c *Client) tokenCall(ctx context.Context, name, route string, req domain.TokenRequest) error {
	var out contracts.StatusResponse
	return c.call(ctx, name, route, "", req, &out, 1)
}

func (c *Client) call(ctx context.Context, name, route, idemKey string, body, out any, attempts int) error {
	txID := transactionID(body)
	start := time.Now()
	wait := c.retryWait

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.doOnce(ctx, name, route, idemKey, txID, body, out)
		if err == nil || !isRetryable(err) || attempt == attempts {
			break
		}
		logging.Log(logging.Fields{Service: service, TxID: txID, Step: "rpc_" + name, Status: "retry", Message: err.Error()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			wait *= 2
		}
	}

	fields := logging.Fields{Service: service, TxID: txID, Step: "rpc_" + name, Status: "ok", DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		fields.Status = "error"
		fields.Message = err.Error()
		logging.Error(fields)
		return err
	}
	logging.Log(fields)
	return nil
}

func (c *Client) doOnce(ctx context.Context, name, route, idemKey, txID string, body, out any) error {
	requestID := uuid.NewString()
	tags := map[string]string{"call": name, "transaction_id": txID}

	payload, err := json.Marshal(body)
	if err != nil {
		err = fmt.Errorf("marshal %s request: %w", name, err)
		c.recordError(ctx, requestID, err, tags)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		c.recordError(ctx, requestID, err, tags)
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	idempotency.Set(req, idemKey)

	c.recordRequest(ctx, requestID, payload, tags)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordError(ctx, requestID, err, tags)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError(ctx, requestID, err, tags)
		return err
	}
	c.recordResponse(ctx, requestID, raw, tags)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw}
		c.recordError(ctx, requestID, statusErr, tags)
		return statusErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			decErr := fmt.Errorf("decode %s response: %w", name, err)
			c.recordError(ctx, requestID, decErr, tags)
			return decErr
		}
	}
	return nil
}

// HTTPStatusError is a non-2xx backend reply.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	var er contracts.ErrorResponse
	if json.Unmarshal(e.Body, &er) == nil && er.Error != "" {
		return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, er.Error)
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	b := e.Body
	if len(b) > 512 {
		b = b[:512]
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, string(b))
}

// StatusCode returns the HTTP status of err, or 0 if err is not an
// HTTPStatusError.
func StatusCode(err error) int {
	var hs *HTTPStatusError
	if errors.As(err, &hs) {
		return hs.StatusCode
	}
	return 0
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var hs *HTTPStatusError
	if errors.As(err, &hs) {
		return hs.StatusCode == http.StatusTooManyRequests || (hs.StatusCode >= 500 && hs.StatusCode != http.StatusNotImplemented)
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func transactionID(body any) string {
	switch b := body.(type) {
	case contracts.InitiateRequest:
		return b.TransactionID
	case domain.TokenRequest:
		return b.TransactionID
	}
	return ""
}

func (c *Client) recordRequest(ctx context.Context, requestID string, body []byte, tags map[string]string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordRequest(ctx, nil, requestID, body, tags); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "record_request", Status: "error", Message: err.Error()})
	}
}

func (c *Client) recordResponse(ctx context.Context, requestID string, body []byte, tags map[string]string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordResponse(ctx, nil, requestID, body, tags); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "record_response", Status: "error", Message: err.Error()})
	}
}

func (c *Client) recordError(ctx context.Context, requestID string, err error, tags map[string]string) {
	if c.recorder == nil || err == nil {
		return
	}
	if recErr := c.recorder.RecordError(ctx, nil, requestID, err, tags); recErr != nil {
		logging.Log(logging.Fields{Service: service, Step: "record_error", Status: "error", Message: recErr.Error()})
	}
}
