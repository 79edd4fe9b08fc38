// Package outbox stores checkout events in Postgres in the same database as
// the transactions and relays them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewRecord builds an unsent record with a fresh event id.
func NewRecord(topic, key string, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, err
	}
	return Record{EventID: uuid.NewString(), Topic: topic, Key: key, Payload: data}, nil
}

func Insert(ctx context.Context, db DB, rec Record) error {
	_, err := db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		rec.EventID, rec.Topic, rec.Key, []byte(rec.Payload))
	return err
}

func MarkSent(ctx context.Context, db DB, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, db DB, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Publisher writes checkout events to the outbox table instead of Kafka.
type Publisher struct {
	DB DB
}

func (p *Publisher) PublishApproval(ctx context.Context, ev contracts.ApprovalEvent) error {
	return p.insert(ctx, contracts.TopicApprovals, ev.TransactionID, ev)
}

func (p *Publisher) PublishError(ctx context.Context, ev contracts.ErrorEvent) error {
	return p.insert(ctx, contracts.TopicErrors, ev.TransactionID, ev)
}

func (p *Publisher) insert(ctx context.Context, topic, key string, ev any) error {
	rec, err := NewRecord(topic, key, ev)
	if err != nil {
		return err
	}
	return Insert(ctx, p.DB, rec)
}

// Postgres adapts a DB to the relay's Store.
type Postgres struct {
	DB DB
}

func (p Postgres) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, p.DB, limit)
}

func (p Postgres) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, p.DB, id)
}
