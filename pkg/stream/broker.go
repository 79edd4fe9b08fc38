package stream

import (
	"sync"
)

// DefaultBuffer is the per-subscriber buffer of a Broker.
const DefaultBuffer = 16

// Broker is an in-memory keyed pub/sub. Subscribers see only messages
// published under their key, in publish order.
//
// Each subscriber owns a buffered channel, so a message published between
// Subscribe and the first receive is kept rather than lost. Publishing to a
// full subscriber drops the message for that subscriber.
type Broker[T any] struct {
	mu      sync.Mutex
	buffer  int
	subs    map[string]map[*brokerSub[T]]struct{}
	dropped int
}

// NewBroker creates a broker with the given per-subscriber buffer.
// A buffer <= 0 uses DefaultBuffer.
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{
		buffer: buffer,
		subs:   make(map[string]map[*brokerSub[T]]struct{}),
	}
}

// Subscribe registers a subscriber for key. The subscription is live when
// Subscribe returns.
func (b *Broker[T]) Subscribe(key string) Subscription[T] {
	s := &brokerSub[T]{
		broker: b,
		key:    key,
		ch:     make(chan Message[T], b.buffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[*brokerSub[T]]struct{})
		b.subs[key] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber of key and returns how many
// subscribers received it.
func (b *Broker[T]) Publish(key string, ev T) int {
	return b.deliver(key, Message[T]{Event: ev})
}

// Fail delivers a transport error to every subscriber of key.
func (b *Broker[T]) Fail(key string, err error) int {
	return b.deliver(key, Message[T]{Err: err})
}

// Subscribers returns the number of live subscribers for key.
func (b *Broker[T]) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Dropped returns how many deliveries were dropped on full buffers.
func (b *Broker[T]) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Broker[T]) deliver(key string, msg Message[T]) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.subs[key] {
		select {
		case s.ch <- msg:
			n++
		default:
			b.dropped++
		}
	}
	return n
}

func (b *Broker[T]) remove(s *brokerSub[T]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.key]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.key)
	}
	// Closed under the broker lock so deliver never sends on a closed channel.
	close(s.ch)
	return true
}

type brokerSub[T any] struct {
	broker *Broker[T]
	key    string
	ch     chan Message[T]
}

func (s *brokerSub[T]) C() <-chan Message[T] {
	return s.ch
}

func (s *brokerSub[T]) Close() error {
	s.broker.remove(s)
	return nil
}
