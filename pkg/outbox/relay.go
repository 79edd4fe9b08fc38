package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// Sender is satisfied by *kafka.Producer.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// Relay moves pending outbox records to Kafka in id order. A record that
// fails to send stops the batch so per-key order is kept.
type Relay struct {
	Store     Store
	Sender    Sender
	Service   string
	BatchSize int
}

// RunOnce relays one batch and returns how many records were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	recs, err := r.Store.FetchPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	sent := 0
	for _, rec := range recs {
		if err := r.Sender.Send(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			return sent, fmt.Errorf("send %s: %w", rec.EventID, err)
		}
		if err := r.Store.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("mark %s sent: %w", rec.EventID, err)
		}
		logging.Log(logging.Fields{Service: r.Service, TxID: rec.Key, EventID: rec.EventID, Step: "outbox_relay", Status: "sent", Message: rec.Topic})
		sent++
	}
	return sent, nil
}

// Run calls RunOnce every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Error(logging.Fields{Service: r.Service, Step: "outbox_relay", Status: "error", Message: err.Error()})
			}
		}
	}
}
