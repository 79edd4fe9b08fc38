package contracts

import "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"

// HTTP routes of the checkout backend.
const (
	RouteCheckout  = "/checkout"
	RouteApprove   = "/checkout/approve"
	RouteReject    = "/checkout/reject"
	RouteHeartbeat = "/checkout/heartbeat"
)

type InitiateRequest struct {
	TransactionID string            `json:"transactionId"`
	Order         domain.OrderDraft `json:"order"`
}

// InitiateResponse acknowledges an initiation. Status is IDEMPOTENT_REPLAY
// when the transaction already existed.
type InitiateResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status,omitempty"`
}

const StatusIdempotentReplay = "IDEMPOTENT_REPLAY"

// StatusResponse acknowledges approve, reject and heartbeat calls.
type StatusResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// ErrorResponse is the body of every non-2xx backend reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
