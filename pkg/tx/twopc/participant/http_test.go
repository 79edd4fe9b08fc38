package participant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

type recordingParticipant struct {
	prepared []protocol.PrepareRequest
	commits  []string
	aborts   []string
}

func (p *recordingParticipant) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	p.prepared = append(p.prepared, req)
	if req.TxID == "refuse" {
		return protocol.No("OUT_OF_STOCK", "a1 has 0 left"), nil
	}
	return protocol.Yes(map[string]string{"ok": req.Step})
}

func (p *recordingParticipant) Commit(_ context.Context, req protocol.CommitRequest) error {
	p.commits = append(p.commits, req.TxID)
	return nil
}

func (p *recordingParticipant) Abort(_ context.Context, req protocol.AbortRequest) error {
	p.aborts = append(p.aborts, req.TxID)
	return nil
}

func TestClientAgainstHandler(t *testing.T) {
	local := &recordingParticipant{}
	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg, "shipping_service")
	mux := http.NewServeMux()
	Register(mux, "shipping-service", local, m)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	resp, err := c.Prepare(ctx, protocol.PrepareRequest{TxID: "t1", Step: "quote_shipping", Payload: []byte(`{"country":"DE"}`)})
	require.NoError(t, err)
	assert.True(t, resp.VoteYes)
	assert.JSONEq(t, `{"ok":"quote_shipping"}`, string(resp.Result))
	assert.JSONEq(t, `{"country":"DE"}`, string(local.prepared[0].Payload))

	resp, err = c.Prepare(ctx, protocol.PrepareRequest{TxID: "refuse", Step: "quote_shipping"})
	require.NoError(t, err)
	assert.False(t, resp.VoteYes)
	assert.Equal(t, "OUT_OF_STOCK", resp.ErrorKind)

	require.NoError(t, c.Commit(ctx, protocol.CommitRequest{TxID: "t1"}))
	require.NoError(t, c.Abort(ctx, protocol.AbortRequest{TxID: "t2"}))
	assert.Equal(t, []string{"t1"}, local.commits)
	assert.Equal(t, []string{"t2"}, local.aborts)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("2pc_prepare", "200")))
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux, "shipping-service", &recordingParticipant{}, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + pathCommit)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	err = NewClient(srv.URL, time.Second).Commit(context.Background(), protocol.CommitRequest{})
	assert.ErrorContains(t, err, "status 400")
}
