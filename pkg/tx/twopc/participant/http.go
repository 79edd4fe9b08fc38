// Package participant carries the approval protocol over HTTP: a client for
// remote participants and the handler that serves a local one.
package participant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

const (
	pathPrepare = "/2pc/prepare"
	pathCommit  = "/2pc/commit"
	pathAbort   = "/2pc/abort"
)

// Client is a remote participant reached at BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	var resp protocol.PrepareResponse
	err := c.post(ctx, pathPrepare, req, &resp)
	return resp, err
}

func (c *Client) Commit(ctx context.Context, req protocol.CommitRequest) error {
	return c.post(ctx, pathCommit, req, nil)
}

func (c *Client) Abort(ctx context.Context, req protocol.AbortRequest) error {
	return c.post(ctx, pathAbort, req, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register serves p on mux under the /2pc routes.
func Register(mux *http.ServeMux, service string, p common.ParticipantClient, m *metrics.ServerMetrics) {
	mux.HandleFunc(pathPrepare, func(w http.ResponseWriter, r *http.Request) {
		handle(w, r, service, "prepare", m, func(ctx context.Context, txID string, raw []byte) (any, error) {
			var req protocol.PrepareRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return p.Prepare(ctx, req)
		})
	})
	mux.HandleFunc(pathCommit, func(w http.ResponseWriter, r *http.Request) {
		handle(w, r, service, "commit", m, func(ctx context.Context, txID string, _ []byte) (any, error) {
			return map[string]string{"status": "ok"}, p.Commit(ctx, protocol.CommitRequest{TxID: txID})
		})
	})
	mux.HandleFunc(pathAbort, func(w http.ResponseWriter, r *http.Request) {
		handle(w, r, service, "abort", m, func(ctx context.Context, txID string, _ []byte) (any, error) {
			return map[string]string{"status": "ok"}, p.Abort(ctx, protocol.AbortRequest{TxID: txID})
		})
	})
}

func handle(w http.ResponseWriter, r *http.Request, service, action string, m *metrics.ServerMetrics,
	fn func(ctx context.Context, txID string, raw []byte) (any, error)) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		if m != nil {
			m.Observe("2pc_"+action, status, start)
		}
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, map[string]any{"error": "method not allowed"})
		return
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, map[string]any{"error": "invalid body"})
		return
	}
	var head struct {
		TxID string `json:"tx_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &head); err != nil || head.TxID == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, map[string]any{"error": "invalid json"})
		return
	}

	out, err := fn(r.Context(), head.TxID, buf.Bytes())
	if err != nil {
		status = http.StatusInternalServerError
		writeJSON(w, status, map[string]any{"error": err.Error()})
		logging.Error(logging.Fields{Service: service, TxID: head.TxID, Step: "2pc_" + action, Status: "error", Message: err.Error()})
		return
	}
	logging.Log(logging.Fields{Service: service, TxID: head.TxID, Step: "2pc_" + action, Status: "ok", DurationMS: time.Since(start).Milliseconds()})
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
