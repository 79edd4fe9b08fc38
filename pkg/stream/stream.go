// Package stream holds the push-channel primitives used by checkout:
// typed subscriptions, a first-terminal-event race over two of them, and an
// in-memory broker.
package stream

import (
	"context"
	"errors"
)

// ErrClosed is delivered when a subscription's channel closes before any
// message arrived.
var ErrClosed = errors.New("stream: subscription closed")

// Message is one delivery on a subscription: an event, or a transport error.
type Message[T any] struct {
	Event T
	Err   error
}

// Subscription is a live, filtered event stream.
//
// Close releases the subscription. After Close returns no further messages
// are delivered. Close is idempotent.
type Subscription[T any] interface {
	C() <-chan Message[T]
	Close() error
}

// First waits for the first message on either subscription, releases both,
// and only then hands that message to its decide function.
//
// Every message is terminal: whichever arrives first settles the race, and
// the loser cannot deliver anything afterwards because it is already
// closed. A closed channel counts as a transport error (ErrClosed).
// Cancelling ctx releases both subscriptions and returns ctx.Err().
func First[A, B, R any](
	ctx context.Context,
	a Subscription[A], decideA func(Message[A]) (R, error),
	b Subscription[B], decideB func(Message[B]) (R, error),
) (R, error) {
	var zero R
	select {
	case msg, ok := <-a.C():
		closeAll(a, b)
		if !ok {
			msg = Message[A]{Err: ErrClosed}
		}
		return decideA(msg)
	case msg, ok := <-b.C():
		closeAll(a, b)
		if !ok {
			msg = Message[B]{Err: ErrClosed}
		}
		return decideB(msg)
	case <-ctx.Done():
		closeAll(a, b)
		return zero, ctx.Err()
	}
}

type closer interface {
	Close() error
}

func closeAll(cs ...closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

// Release closes every non-nil subscription. Used on paths that fail
// before the race starts.
func Release(cs ...closer) {
	closeAll(cs...)
}
