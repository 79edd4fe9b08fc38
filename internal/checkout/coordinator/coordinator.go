// Package coordinator turns a checkout initiation call plus the approval and
// error event channels into one settled checkout response.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/stream"
)

// Initiator issues the checkout initiation call and returns the transaction
// id echoed by the backend.
type Initiator interface {
	InitiateCheckout(ctx context.Context, txID string, draft domain.OrderDraft) (string, error)
}

// Channels opens the two transaction-scoped event channels.
type Channels interface {
	SubscribeApprovals(ctx context.Context, txID string) (stream.Subscription[contracts.ApprovalEvent], error)
	SubscribeErrors(ctx context.Context, txID string) (stream.Subscription[contracts.ErrorEvent], error)
}

// Observer is told how each request settled. Optional.
type Observer interface {
	ObserveSettlement(outcome string, d time.Duration)
}

// Coordinator holds no state between calls; every RequestCheckout owns its
// own pair of subscriptions.
type Coordinator struct {
	initiator Initiator
	channels  Channels
	observer  Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver reports settlement outcomes, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

func New(initiator Initiator, channels Channels, opts ...Option) *Coordinator {
	c := &Coordinator{initiator: initiator, channels: channels}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestCheckout initiates a checkout and waits for its first terminal event.
//
// Both channels are subscribed before the initiation call is issued; the
// backend may publish the approval as soon as it sees the initiation, and an
// event published before the subscription exists is lost. Both
// subscriptions are released on every return path, and they are released
// before the outcome is returned.
//
// No timeout is applied; cancel ctx to give up.
func (c *Coordinator) RequestCheckout(ctx context.Context, txID string, draft domain.OrderDraft) (domain.CheckoutResponse, error) {
	start := time.Now()
	resp, err := c.requestCheckout(ctx, txID, draft)
	outcome := "approved"
	if err != nil {
		outcome = string(domain.CodeOf(err))
		if outcome == "" {
			outcome = "cancelled"
		}
	}
	if c.observer != nil {
		c.observer.ObserveSettlement(outcome, time.Since(start))
	}
	logging.Log(logging.Fields{
		Service:    "storefront",
		TxID:       txID,
		Step:       "request_checkout",
		Status:     outcome,
		DurationMS: time.Since(start).Milliseconds(),
		Message:    errMessage(err),
	})
	return resp, err
}

func (c *Coordinator) requestCheckout(ctx context.Context, txID string, draft domain.OrderDraft) (domain.CheckoutResponse, error) {
	var zero domain.CheckoutResponse

	approvals, err := c.channels.SubscribeApprovals(ctx, txID)
	if err != nil {
		return zero, domain.NewError(domain.ErrCodeTransport, txID, "subscribe approval channel", err)
	}
	errs, err := c.channels.SubscribeErrors(ctx, txID)
	if err != nil {
		stream.Release(approvals)
		return zero, domain.NewError(domain.ErrCodeTransport, txID, "subscribe error channel", err)
	}

	echoed, err := c.initiator.InitiateCheckout(ctx, txID, draft)
	if err != nil {
		stream.Release(approvals, errs)
		return zero, domain.NewError(domain.ErrCodeRPC, txID, "initiate checkout", err)
	}
	if echoed != txID {
		stream.Release(approvals, errs)
		return zero, domain.NewError(domain.ErrCodeInitiationMismatch, txID,
			fmt.Sprintf("initiation acknowledged transaction %q", echoed), nil)
	}

	return stream.First(ctx,
		approvals, func(m stream.Message[contracts.ApprovalEvent]) (domain.CheckoutResponse, error) {
			return settleApproval(txID, m)
		},
		errs, func(m stream.Message[contracts.ErrorEvent]) (domain.CheckoutResponse, error) {
			return zero, settleError(txID, m)
		},
	)
}

func settleApproval(txID string, m stream.Message[contracts.ApprovalEvent]) (domain.CheckoutResponse, error) {
	var zero domain.CheckoutResponse
	if m.Err != nil {
		return zero, domain.NewError(domain.ErrCodeTransport, txID, "approval channel failed", m.Err)
	}
	ev := m.Event
	if ev.TransactionID != txID {
		return zero, domain.NewError(domain.ErrCodeEventMismatch, txID,
			fmt.Sprintf("approval event for transaction %q", ev.TransactionID), nil)
	}
	if ev.Token == "" {
		return zero, domain.NewError(domain.ErrCodeInvalidState, txID, "approval event without token", nil)
	}
	return ev.Response(), nil
}

func settleError(txID string, m stream.Message[contracts.ErrorEvent]) error {
	if m.Err != nil {
		return domain.NewError(domain.ErrCodeTransport, txID, "error channel failed", m.Err)
	}
	ev := m.Event
	if ev.TransactionID != txID {
		return domain.NewError(domain.ErrCodeEventMismatch, txID,
			fmt.Sprintf("error event for transaction %q", ev.TransactionID), nil)
	}
	return domain.NewError(domain.ErrCodeBackendRejected, txID, ev.ErrorKind.Describe(), nil)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
