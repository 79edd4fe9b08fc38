package coordinator

import (
	"context"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/stream"
)

// MemoryChannels serves both event channels from in-process brokers keyed by
// transaction id. Used by demo mode and tests.
type MemoryChannels struct {
	Approvals *stream.Broker[contracts.ApprovalEvent]
	Errors    *stream.Broker[contracts.ErrorEvent]
}

func NewMemoryChannels() *MemoryChannels {
	return &MemoryChannels{
		Approvals: stream.NewBroker[contracts.ApprovalEvent](0),
		Errors:    stream.NewBroker[contracts.ErrorEvent](0),
	}
}

func (m *MemoryChannels) SubscribeApprovals(_ context.Context, txID string) (stream.Subscription[contracts.ApprovalEvent], error) {
	return m.Approvals.Subscribe(txID), nil
}

func (m *MemoryChannels) SubscribeErrors(_ context.Context, txID string) (stream.Subscription[contracts.ErrorEvent], error) {
	return m.Errors.Subscribe(txID), nil
}

// PublishApproval publishes ev keyed by its transaction id.
func (m *MemoryChannels) PublishApproval(_ context.Context, ev contracts.ApprovalEvent) error {
	m.Approvals.Publish(ev.TransactionID, ev)
	return nil
}

// PublishError publishes ev keyed by its transaction id.
func (m *MemoryChannels) PublishError(_ context.Context, ev contracts.ErrorEvent) error {
	m.Errors.Publish(ev.TransactionID, ev)
	return nil
}
