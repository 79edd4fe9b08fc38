package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/stream"
)

// Channels serves the approval and error channels from Kafka. A
// subscription reads only the partition its key hashes to, starting at the
// partition's end offset as of Subscribe, so an event published after
// Subscribe returns is never missed.
type Channels struct {
	client         *Client
	approvalsTopic string
	errorsTopic    string
}

func NewChannels(c *Client) *Channels {
	return &Channels{client: c, approvalsTopic: contracts.TopicApprovals, errorsTopic: contracts.TopicErrors}
}

func (ch *Channels) SubscribeApprovals(ctx context.Context, txID string) (stream.Subscription[contracts.ApprovalEvent], error) {
	s, err := subscribe[contracts.ApprovalEvent](ctx, ch.client, ch.approvalsTopic, txID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (ch *Channels) SubscribeErrors(ctx context.Context, txID string) (stream.Subscription[contracts.ErrorEvent], error) {
	s, err := subscribe[contracts.ErrorEvent](ctx, ch.client, ch.errorsTopic, txID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Publisher puts checkout events on their topics.
type Publisher struct {
	producer *Producer
}

func NewPublisher(p *Producer) *Publisher {
	return &Publisher{producer: p}
}

func (p *Publisher) PublishApproval(ctx context.Context, ev contracts.ApprovalEvent) error {
	return p.publish(ctx, contracts.TopicApprovals, ev.TransactionID, ev)
}

func (p *Publisher) PublishError(ctx context.Context, ev contracts.ErrorEvent) error {
	return p.publish(ctx, contracts.TopicErrors, ev.TransactionID, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, ev any) error {
	return p.producer.PublishJSON(ctx, topic, key, ev)
}

// PartitionFor returns the partition the hash balancer assigns key to.
func PartitionFor(key string, partitions []int) int {
	ids := append([]int(nil), partitions...)
	sort.Ints(ids)
	return (&kafka.Hash{}).Balance(kafka.Message{Key: []byte(key)}, ids...)
}

// Decode unmarshals a message value into T.
func Decode[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decode event: %w", err)
	}
	return v, nil
}

// tail finds the partition of key on topic and its current end offset.
func (c *Client) tail(ctx context.Context, topic, key string) (int, int64, error) {
	if !c.Enabled() {
		return 0, 0, ErrDisabled
	}
	conn, err := c.Dialer.DialContext(ctx, "tcp", c.Brokers[0])
	if err != nil {
		return 0, 0, fmt.Errorf("dial %s: %w", c.Brokers[0], err)
	}
	parts, err := conn.ReadPartitions(topic)
	_ = conn.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("read partitions of %s: %w", topic, err)
	}
	if len(parts) == 0 {
		return 0, 0, fmt.Errorf("topic %s has no partitions", topic)
	}
	ids := make([]int, len(parts))
	for i, p := range parts {
		ids[i] = p.ID
	}
	partition := PartitionFor(key, ids)

	leader, err := c.Dialer.DialLeader(ctx, "tcp", c.Brokers[0], topic, partition)
	if err != nil {
		return 0, 0, fmt.Errorf("dial leader of %s/%d: %w", topic, partition, err)
	}
	defer leader.Close()
	offset, err := leader.ReadLastOffset()
	if err != nil {
		return 0, 0, fmt.Errorf("read last offset of %s/%d: %w", topic, partition, err)
	}
	return partition, offset, nil
}

type subscription[T any] struct {
	key    string
	reader *kafka.Reader
	ch     chan stream.Message[T]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func subscribe[T any](ctx context.Context, c *Client, topic, key string) (*subscription[T], error) {
	partition, offset, err := c.tail(ctx, topic, key)
	if err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.Brokers,
		Topic:     topic,
		Partition: partition,
		Dialer:    c.Dialer,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   250 * time.Millisecond,
	})
	if err := reader.SetOffset(offset); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("set offset of %s/%d: %w", topic, partition, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription[T]{
		key:    key,
		reader: reader,
		ch:     make(chan stream.Message[T], 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

func (s *subscription[T]) C() <-chan stream.Message[T] {
	return s.ch
}

func (s *subscription[T]) run(ctx context.Context) {
	defer close(s.done)
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			s.deliver(ctx, stream.Message[T]{Err: err})
			return
		}
		if string(m.Key) != s.key {
			continue
		}
		ev, err := Decode[T](m.Value)
		if !s.deliver(ctx, stream.Message[T]{Event: ev, Err: err}) {
			return
		}
	}
}

func (s *subscription[T]) deliver(ctx context.Context, msg stream.Message[T]) bool {
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops the reader. No message is delivered after Close returns.
func (s *subscription[T]) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.reader.Close()
	})
	return err
}
