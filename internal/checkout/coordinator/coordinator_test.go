package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/stream"
)

const txID = "1234-5678"

// countingChannels wraps MemoryChannels and counts subscription releases.
type countingChannels struct {
	*MemoryChannels
	approvalCloses atomic.Int32
	errorCloses    atomic.Int32
	failErrors     error
}

type countedSub[T any] struct {
	stream.Subscription[T]
	n *atomic.Int32
}

func (c *countedSub[T]) Close() error {
	c.n.Add(1)
	return c.Subscription.Close()
}

func (c *countingChannels) SubscribeApprovals(ctx context.Context, id string) (stream.Subscription[contracts.ApprovalEvent], error) {
	sub, _ := c.MemoryChannels.SubscribeApprovals(ctx, id)
	return &countedSub[contracts.ApprovalEvent]{Subscription: sub, n: &c.approvalCloses}, nil
}

func (c *countingChannels) SubscribeErrors(ctx context.Context, id string) (stream.Subscription[contracts.ErrorEvent], error) {
	if c.failErrors != nil {
		return nil, c.failErrors
	}
	sub, _ := c.MemoryChannels.SubscribeErrors(ctx, id)
	return &countedSub[contracts.ErrorEvent]{Subscription: sub, n: &c.errorCloses}, nil
}

func (c *countingChannels) assertReleasedOnce(t *testing.T) {
	t.Helper()
	assert.EqualValues(t, 1, c.approvalCloses.Load(), "approval subscription closes")
	assert.EqualValues(t, 1, c.errorCloses.Load(), "error subscription closes")
	assert.Equal(t, 0, c.Approvals.Subscribers(txID))
	assert.Equal(t, 0, c.Errors.Subscribers(txID))
}

// initiatorFunc adapts a function to Initiator.
type initiatorFunc func(ctx context.Context, id string, draft domain.OrderDraft) (string, error)

func (f initiatorFunc) InitiateCheckout(ctx context.Context, id string, draft domain.OrderDraft) (string, error) {
	return f(ctx, id, draft)
}

func echo(id string) initiatorFunc {
	return func(context.Context, string, domain.OrderDraft) (string, error) { return id, nil }
}

func approval(id, token string) contracts.ApprovalEvent {
	return contracts.ApprovalEvent{
		TransactionID: id,
		Token:         token,
		ApprovalOrder: domain.ApprovalOrder{Items: []domain.OrderItem{{ItemID: "a1", Quantity: 1}}},
	}
}

func newChannels() *countingChannels {
	return &countingChannels{MemoryChannels: NewMemoryChannels()}
}

func draft() domain.OrderDraft {
	return domain.OrderDraft{Items: []domain.OrderItem{{ItemID: "a1", Quantity: 1}}}
}

func TestRequestCheckout_ApprovalPublishedDuringInitiation(t *testing.T) {
	ch := newChannels()
	var subscribedAtInitiation int
	init := initiatorFunc(func(ctx context.Context, id string, _ domain.OrderDraft) (string, error) {
		subscribedAtInitiation = ch.Approvals.Subscribers(id) + ch.Errors.Subscribers(id)
		// The backend answers before the initiation call even returns.
		ch.Approvals.Publish(id, approval(id, "a123"))
		return id, nil
	})

	resp, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	require.NoError(t, err)

	assert.Equal(t, 2, subscribedAtInitiation, "both channels subscribed before initiation")
	assert.Equal(t, txID, resp.TransactionID)
	assert.Equal(t, "a123", resp.Token)
	assert.Len(t, resp.ApprovalOrder.Items, 1)
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_ApprovalAfterInitiation(t *testing.T) {
	ch := newChannels()
	go func() {
		for ch.Approvals.Subscribers(txID) == 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(5 * time.Millisecond)
		ch.Approvals.Publish(txID, approval(txID, "a123"))
	}()

	resp, err := New(echo(txID), ch).RequestCheckout(context.Background(), txID, draft())
	require.NoError(t, err)
	assert.Equal(t, "a123", resp.Token)
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_LaterEventsAreInert(t *testing.T) {
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Approvals.Publish(id, approval(id, "a123"))
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	require.NoError(t, err)

	assert.Equal(t, 0, ch.Approvals.Publish(txID, approval(txID, "again")))
	assert.Equal(t, 0, ch.Errors.Publish(txID, contracts.ErrorEvent{TransactionID: txID}))
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_BothChannelsFireSettlesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		ch := newChannels()
		init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
			ch.Approvals.Publish(id, approval(id, "a123"))
			ch.Errors.Publish(id, contracts.ErrorEvent{TransactionID: id, ErrorKind: domain.ErrorKindInternal})
			ch.Approvals.Publish(id, approval(id, "a456"))
			return id, nil
		})

		resp, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
		if err != nil {
			assert.True(t, domain.IsCode(err, domain.ErrCodeBackendRejected))
			assert.Empty(t, resp.Token)
		} else {
			assert.Equal(t, "a123", resp.Token, "first approval wins over the second")
		}
		ch.assertReleasedOnce(t)
	}
}

func TestRequestCheckout_InitiationMismatch(t *testing.T) {
	ch := newChannels()

	_, err := New(echo("other-tx"), ch).RequestCheckout(context.Background(), txID, draft())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInitiationMismatch))
	assert.Contains(t, err.Error(), "other-tx")
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_InitiationFails(t *testing.T) {
	ch := newChannels()
	boom := errors.New("connection refused")
	init := initiatorFunc(func(context.Context, string, domain.OrderDraft) (string, error) { return "", boom })

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	assert.True(t, domain.IsCode(err, domain.ErrCodeRPC))
	assert.ErrorIs(t, err, boom)
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_ApprovalMismatchRejects(t *testing.T) {
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		// Keyed for us, but the payload names another transaction.
		ch.Approvals.Publish(id, approval("9999-0000", "x"))
		ch.Approvals.Publish(id, approval(id, "a123"))
		return id, nil
	})

	resp, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeEventMismatch))
	assert.Contains(t, err.Error(), "9999-0000")
	assert.Empty(t, resp.Token)
	ch.assertReleasedOnce(t)

	// A fresh call is unaffected by the failed one.
	ch2 := newChannels()
	init2 := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch2.Approvals.Publish(id, approval(id, "a123"))
		return id, nil
	})
	resp, err = New(init2, ch2).RequestCheckout(context.Background(), txID, draft())
	require.NoError(t, err)
	assert.Equal(t, "a123", resp.Token)
}

func TestRequestCheckout_ErrorEvent(t *testing.T) {
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Errors.Publish(id, contracts.ErrorEvent{TransactionID: id, ErrorKind: domain.ErrorKindOutOfStock})
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeBackendRejected))
	assert.Contains(t, err.Error(), domain.ErrorKindOutOfStock.Describe())
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_ErrorEventMismatchSaysSo(t *testing.T) {
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Errors.Publish(id, contracts.ErrorEvent{TransactionID: "other", ErrorKind: domain.ErrorKindInternal})
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	assert.True(t, domain.IsCode(err, domain.ErrCodeEventMismatch))
	assert.Contains(t, err.Error(), `error event for transaction "other"`)
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_TransportError(t *testing.T) {
	ch := newChannels()
	lost := errors.New("socket closed")
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Approvals.Fail(id, lost)
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	assert.True(t, domain.IsCode(err, domain.ErrCodeTransport))
	assert.ErrorIs(t, err, lost)
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_MissingToken(t *testing.T) {
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Approvals.Publish(id, approval(id, ""))
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidState))
	ch.assertReleasedOnce(t)
}

func TestRequestCheckout_ErrorChannelSubscribeFails(t *testing.T) {
	ch := newChannels()
	ch.failErrors = errors.New("no broker")
	called := false
	init := initiatorFunc(func(context.Context, string, domain.OrderDraft) (string, error) {
		called = true
		return txID, nil
	})

	_, err := New(init, ch).RequestCheckout(context.Background(), txID, draft())
	assert.True(t, domain.IsCode(err, domain.ErrCodeTransport))
	assert.False(t, called, "initiation must not be issued without both channels")
	assert.EqualValues(t, 1, ch.approvalCloses.Load())
	assert.Equal(t, 0, ch.Approvals.Subscribers(txID))
}

func TestRequestCheckout_ContextCancelled(t *testing.T) {
	ch := newChannels()
	ctx, cancel := context.WithCancel(context.Background())
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		cancel()
		return id, nil
	})

	_, err := New(init, ch).RequestCheckout(ctx, txID, draft())
	assert.ErrorIs(t, err, context.Canceled)
	ch.assertReleasedOnce(t)
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveSettlement(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestRequestCheckout_ObserverSeesOutcome(t *testing.T) {
	obs := &recordingObserver{}
	ch := newChannels()
	init := initiatorFunc(func(_ context.Context, id string, _ domain.OrderDraft) (string, error) {
		ch.Approvals.Publish(id, approval(id, "a123"))
		return id, nil
	})
	c := New(init, ch, WithObserver(obs))

	_, err := c.RequestCheckout(context.Background(), txID, draft())
	require.NoError(t, err)
	_, err = New(echo("x"), newChannels(), WithObserver(obs)).RequestCheckout(context.Background(), txID, draft())
	require.Error(t, err)

	assert.Equal(t, []string{"approved", "TX_MISMATCH_INITIATION"}, obs.outcomes)
}
