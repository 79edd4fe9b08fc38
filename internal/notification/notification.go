// Package notification records checkout outcomes consumed from the event
// topics, once per Kafka message.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

type Notification struct {
	EventID string
	TxID    string
	Type    string
	Payload json.RawMessage
}

// FromMessage builds the notification for a message read at
// topic/partition/offset. The position is the event id, so a redelivered
// message maps to the same notification.
func FromMessage(topic string, partition int, offset int64, value []byte) (Notification, error) {
	typ := contracts.TopicEventType(topic)
	if typ == "" {
		return Notification{}, fmt.Errorf("unexpected topic %q", topic)
	}
	var head struct {
		TransactionID string             `json:"transactionId"`
		ErrorKind     checkout.ErrorKind `json:"errorKind"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return Notification{}, fmt.Errorf("decode %s event: %w", topic, err)
	}
	if head.TransactionID == "" {
		return Notification{}, fmt.Errorf("%s event without transactionId", topic)
	}
	if head.ErrorKind == checkout.ErrorKindExpired {
		typ = contracts.EventCheckoutExpired
	}
	return Notification{
		EventID: fmt.Sprintf("%s/%d/%d", topic, partition, offset),
		TxID:    head.TransactionID,
		Type:    typ,
		Payload: value,
	}, nil
}

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Save records n unless its event id was seen before. It reports whether n
// was new.
func Save(ctx context.Context, db Execer, n Notification) (bool, error) {
	tag, err := db.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, n.EventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = db.Exec(ctx, `INSERT INTO notifications(event_id, txid, type, payload)
		VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`, n.EventID, n.TxID, n.Type, []byte(n.Payload))
	return err == nil, err
}
