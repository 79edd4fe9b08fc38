// Package kafka carries checkout events over Kafka topics keyed by
// transaction id.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers []string
	Dialer  *kafka.Dialer
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{
		Brokers: brokers,
		Dialer:  &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewReader returns a consumer-group reader.
func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// PublishJSON writes payload as JSON, keyed by key, to the writer's topic.
func PublishJSON(ctx context.Context, writer *kafka.Writer, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %T: %w", payload, err)
	}
	if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}); err != nil {
		return fmt.Errorf("write %s: %w", writer.Topic, err)
	}
	return nil
}

// Producer writes raw payloads to any topic, one writer per topic.
type Producer struct {
	client *Client

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewProducer(c *Client) *Producer {
	return &Producer{client: c, writers: make(map[string]*kafka.Writer)}
}

// Send writes value keyed by key to topic.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	if !p.client.Enabled() {
		return ErrDisabled
	}
	w := p.writer(topic)
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()}); err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	return nil
}

// PublishJSON writes payload as JSON to topic.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, payload any) error {
	if !p.client.Enabled() {
		return ErrDisabled
	}
	return PublishJSON(ctx, p.writer(topic), key, payload)
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.client.NewWriter(topic)
		p.writers[topic] = w
	}
	return w
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
