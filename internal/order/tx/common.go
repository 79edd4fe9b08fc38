package tx

import (
	"context"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type CheckoutInput struct {
	TxID  domain.TxID
	Draft checkout.OrderDraft
}

// Outcome is the result of the prepare phase: an approval order when every
// participant voted yes, otherwise the error kind to publish.
type Outcome struct {
	ApprovalOrder *checkout.ApprovalOrder
	ErrorKind     checkout.ErrorKind
	Reason        string
}

// CheckoutEngine drives a checkout transaction through its participants.
type CheckoutEngine interface {
	Prepare(ctx context.Context, in CheckoutInput) (Outcome, error)
	Commit(ctx context.Context, txID domain.TxID) error
	Abort(ctx context.Context, txID domain.TxID) error
}
