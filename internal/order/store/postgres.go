package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/coordinator"
)

// Schema creates every table the order and notification services use.
const Schema = `
CREATE TABLE IF NOT EXISTS checkout_transactions (
	id                text PRIMARY KEY,
	status            text NOT NULL,
	token             text NOT NULL DEFAULT '',
	draft             jsonb NOT NULL,
	approval_order    jsonb,
	error_kind        text NOT NULL DEFAULT '',
	idempotency_key   text UNIQUE,
	last_heartbeat_at timestamptz,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS twopc_tx_log (
	txid         text PRIMARY KEY,
	status       text NOT NULL,
	participants jsonb NOT NULL,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS outbox (
	id         bigserial PRIMARY KEY,
	event_id   text UNIQUE NOT NULL,
	topic      text NOT NULL,
	key        text NOT NULL,
	payload    jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	sent_at    timestamptz
);
CREATE TABLE IF NOT EXISTS inbox (
	event_id    text PRIMARY KEY,
	received_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS notifications (
	event_id   text PRIMARY KEY,
	txid       text NOT NULL,
	type       text NOT NULL,
	payload    jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}

// Postgres stores transactions in checkout_transactions.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const txColumns = `id, status, token, draft, approval_order, error_kind, coalesce(idempotency_key, ''), last_heartbeat_at, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, t domain.Transaction) (domain.Transaction, bool, error) {
	draft, err := json.Marshal(t.Draft)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	var idem *string
	if t.IdempotencyKey != "" {
		idem = &t.IdempotencyKey
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO checkout_transactions(id, status, draft, idempotency_key) VALUES($1, $2, $3, $4)`,
		string(t.ID), string(t.Status), draft, idem,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return domain.Transaction{}, false, err
		}
		existing, qerr := p.findReplay(ctx, t)
		if qerr != nil {
			return domain.Transaction{}, false, fmt.Errorf("%w: %v", ErrDuplicate, qerr)
		}
		return existing, false, nil
	}
	created, err := p.Get(ctx, t.ID)
	return created, err == nil, err
}

func (p *Postgres) findReplay(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if t.IdempotencyKey != "" {
		row := p.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM checkout_transactions WHERE idempotency_key=$1`, t.IdempotencyKey)
		if existing, err := scanTx(row); err == nil {
			return existing, nil
		}
	}
	return p.Get(ctx, t.ID)
}

func (p *Postgres) Get(ctx context.Context, id domain.TxID) (domain.Transaction, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM checkout_transactions WHERE id=$1`, string(id))
	t, err := scanTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// Update runs fn on the row locked FOR UPDATE and writes the result back.
func (p *Postgres) Update(ctx context.Context, id domain.TxID, fn Mutator) (domain.Transaction, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanTx(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM checkout_transactions WHERE id=$1 FOR UPDATE`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}

	var order []byte
	if next.ApprovalOrder != nil {
		if order, err = json.Marshal(next.ApprovalOrder); err != nil {
			return cur, err
		}
	}
	var heartbeat *time.Time
	if !next.LastHeartbeatAt.IsZero() {
		heartbeat = &next.LastHeartbeatAt
	}
	row := tx.QueryRow(ctx,
		`UPDATE checkout_transactions
		 SET status=$2, token=$3, approval_order=$4, error_kind=$5, last_heartbeat_at=$6, updated_at=now()
		 WHERE id=$1 RETURNING updated_at`,
		string(id), string(next.Status), next.Token, order, string(next.ErrorKind), heartbeat,
	)
	if err := row.Scan(&next.UpdatedAt); err != nil {
		return cur, err
	}
	if err := tx.Commit(ctx); err != nil {
		return cur, err
	}
	return next, nil
}

func (p *Postgres) ListStale(ctx context.Context, now time.Time, timeout time.Duration) ([]domain.TxID, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id FROM checkout_transactions
		 WHERE status=$1 AND coalesce(last_heartbeat_at, updated_at) < $2
		 ORDER BY created_at`,
		string(domain.StatusPrepared), now.Add(-timeout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TxID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.TxID(id))
	}
	return out, rows.Err()
}

func scanTx(row pgx.Row) (domain.Transaction, error) {
	var (
		t                domain.Transaction
		id, status, kind string
		draft, order     []byte
		lastHeartbeat    *time.Time
	)
	err := row.Scan(&id, &status, &t.Token, &draft, &order, &kind, &t.IdempotencyKey, &lastHeartbeat, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.ID = domain.TxID(id)
	t.Status = domain.Status(status)
	t.ErrorKind = checkout.ErrorKind(kind)
	if lastHeartbeat != nil {
		t.LastHeartbeatAt = *lastHeartbeat
	}
	if err := json.Unmarshal(draft, &t.Draft); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode draft: %w", err)
	}
	if len(order) > 0 {
		var ao checkout.ApprovalOrder
		if err := json.Unmarshal(order, &ao); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode approval order: %w", err)
		}
		t.ApprovalOrder = &ao
	}
	return t, nil
}

// PostgresLog is the approval protocol log in twopc_tx_log.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Create(ctx context.Context, txid common.TxID, participants []coordinator.ParticipantRef) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO twopc_tx_log(txid, status, participants) VALUES($1, $2, $3)`,
		string(txid), string(common.TxStarted), data,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", coordinator.ErrDuplicateTx, txid)
	}
	return err
}

func (l *PostgresLog) SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error {
	tag, err := l.pool.Exec(ctx, `UPDATE twopc_tx_log SET status=$2, updated_at=now() WHERE txid=$1`, string(txid), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", coordinator.ErrUnknownTx, txid)
	}
	return nil
}

func (l *PostgresLog) GetStatus(ctx context.Context, txid common.TxID) (common.TxStatus, error) {
	var status string
	err := l.pool.QueryRow(ctx, `SELECT status FROM twopc_tx_log WHERE txid=$1`, string(txid)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", coordinator.ErrUnknownTx, txid)
	}
	return common.TxStatus(status), err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
