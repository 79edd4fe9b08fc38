package contracts

import (
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
)

// Topics carrying checkout events. Messages are keyed by transaction id.
const (
	TopicApprovals = "checkout.approvals"
	TopicErrors    = "checkout.errors"
)

const (
	EventCheckoutApproved = "checkout.approved"
	EventCheckoutFailed   = "checkout.failed"
	EventCheckoutExpired  = "checkout.expired"
)

// ApprovalEvent is published once the backend prepared an order for approval.
type ApprovalEvent struct {
	TransactionID string               `json:"transactionId"`
	Token         string               `json:"token"`
	ApprovalOrder domain.ApprovalOrder `json:"approvalOrder"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// ErrorEvent is published when the backend gives up on a checkout.
type ErrorEvent struct {
	TransactionID string           `json:"transactionId"`
	ErrorKind     domain.ErrorKind `json:"errorKind"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Response converts the event to the settled checkout response.
func (e ApprovalEvent) Response() domain.CheckoutResponse {
	return domain.CheckoutResponse{
		TransactionID: e.TransactionID,
		Token:         e.Token,
		ApprovalOrder: e.ApprovalOrder,
	}
}

// TopicEventType maps a checkout topic to the event type recorded for it.
func TopicEventType(topic string) string {
	switch topic {
	case TopicApprovals:
		return EventCheckoutApproved
	case TopicErrors:
		return EventCheckoutFailed
	default:
		return ""
	}
}
