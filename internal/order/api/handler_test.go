package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/coordinator"
	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/rpc"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/participants"
	"github.com/nazeru/storefront-checkout-go/internal/order/service"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/order/tx/twopc"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

type backend struct {
	svc      *service.Service
	channels *coordinator.MemoryChannels
	inv      *participants.Inventory
	metrics  *metrics.ServerMetrics
	srv      *httptest.Server
}

func newBackend(t *testing.T, opts ...service.Option) *backend {
	t.Helper()
	inv := participants.NewInventory([]participants.Stock{
		{Item: checkout.Item{ID: "a1", Name: "Lamp", Price: 1000, DeliveryDays: 3}, Quantity: 5},
	})
	st := store.NewMemory()
	engine := twopc.NewEngine(st.Log, twopc.ParticipantDeps{
		InventoryClient: inv,
		ShippingClient:  participants.NewShipping(inv),
	})
	channels := coordinator.NewMemoryChannels()
	opts = append([]service.Option{service.WithTokenGenerator(func() string { return "a123" })}, opts...)
	svc := service.New(st, engine, channels, opts...)

	m := metrics.NewServerMetrics(prometheus.NewRegistry(), "order-service")
	srv := httptest.NewServer(NewHandler(svc, m))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return &backend{svc: svc, channels: channels, inv: inv, metrics: m, srv: srv}
}

func (b *backend) post(t *testing.T, route string, body any, key string) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, b.srv.URL+route, bytes.NewReader(raw))
	require.NoError(t, err)
	idempotency.Set(req, key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func order() contracts.InitiateRequest {
	return contracts.InitiateRequest{
		TransactionID: "1234-5678",
		Order: checkout.OrderDraft{
			CheckoutFormData: checkout.CheckoutFormData{Email: "jane@example.com"},
			Items:            []checkout.OrderItem{{ItemID: "a1", Quantity: 1}},
		},
	}
}

func TestInitiateAndReplay(t *testing.T) {
	b := newBackend(t, service.WithSyncPrepare())

	resp, body := b.post(t, contracts.RouteCheckout, order(), "1234-5678")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got contracts.InitiateResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, contracts.InitiateResponse{TransactionID: "1234-5678", Status: string(domain.StatusPending)}, got)

	resp, body = b.post(t, contracts.RouteCheckout, order(), "1234-5678")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, contracts.StatusIdempotentReplay, got.Status)

	assert.Equal(t, 4, b.inv.Available("a1"))
	assert.Equal(t, float64(2), testutil.ToFloat64(b.metrics.Requests.WithLabelValues("checkout", "200")))
}

func TestStatusCodes(t *testing.T) {
	b := newBackend(t, service.WithSyncPrepare())
	b.post(t, contracts.RouteCheckout, order(), "")

	cases := []struct {
		name  string
		route string
		body  any
		want  int
	}{
		{"bad json", contracts.RouteApprove, "not an object", http.StatusBadRequest},
		{"empty order", contracts.RouteCheckout, contracts.InitiateRequest{TransactionID: "x"}, http.StatusBadRequest},
		{"missing token", contracts.RouteApprove, checkout.TokenRequest{TransactionID: "1234-5678"}, http.StatusBadRequest},
		{"unknown tx", contracts.RouteHeartbeat, checkout.TokenRequest{TransactionID: "nope", Token: "a123"}, http.StatusNotFound},
		{"wrong token", contracts.RouteApprove, checkout.TokenRequest{TransactionID: "1234-5678", Token: "bad"}, http.StatusForbidden},
		{"heartbeat", contracts.RouteHeartbeat, checkout.TokenRequest{TransactionID: "1234-5678", Token: "a123"}, http.StatusOK},
		{"reject", contracts.RouteReject, checkout.TokenRequest{TransactionID: "1234-5678", Token: "a123"}, http.StatusOK},
		{"approve after reject", contracts.RouteApprove, checkout.TokenRequest{TransactionID: "1234-5678", Token: "a123"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := b.post(t, tc.route, tc.body, "")
			assert.Equal(t, tc.want, resp.StatusCode, string(body))
			if tc.want != http.StatusOK {
				var er contracts.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &er))
				assert.NotEmpty(t, er.Error)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	b := newBackend(t)
	resp, err := http.Get(b.srv.URL + contracts.RouteCheckout)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(b.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
	assert.Equal(t, http.StatusConflict, StatusFor(service.ErrConflict))
	assert.Equal(t, http.StatusNotFound, StatusFor(store.ErrNotFound))
}

func TestStorefrontAgainstBackend(t *testing.T) {
	b := newBackend(t)
	client := rpc.New(b.srv.URL)
	coord := coordinator.New(client, b.channels)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	draft := order().Order
	resp, err := coord.RequestCheckout(ctx, "1234-5678", draft)
	require.NoError(t, err)
	assert.Equal(t, "1234-5678", resp.TransactionID)
	assert.Equal(t, "a123", resp.Token)
	assert.Equal(t, draft.Items, resp.ApprovalOrder.Items)
	require.Len(t, resp.ApprovalOrder.CheckItemsResult.CheckedItems, 1)
	assert.Equal(t, "Lamp", resp.ApprovalOrder.CheckItemsResult.CheckedItems[0].Name)

	req := checkout.TokenRequest{TransactionID: resp.TransactionID, Token: resp.Token}
	require.NoError(t, client.Heartbeat(ctx, req))
	require.NoError(t, client.Approve(ctx, req))

	tx, err := b.svc.Get(ctx, "1234-5678")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCommitted, tx.Status)
	assert.Equal(t, 0, b.channels.Approvals.Subscribers("1234-5678"))
}

func TestStorefrontSeesBackendError(t *testing.T) {
	b := newBackend(t)
	coord := coordinator.New(rpc.New(b.srv.URL), b.channels)

	draft := order().Order
	draft.Items = []checkout.OrderItem{{ItemID: "a1", Quantity: 9}}
	_, err := coord.RequestCheckout(context.Background(), "1234-5678", draft)
	require.Error(t, err)

	assert.Equal(t, checkout.ErrCodeBackendRejected, checkout.CodeOf(err))
	assert.Contains(t, err.Error(), checkout.ErrorKindOutOfStock.Describe())
}
