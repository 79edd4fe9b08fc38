package domain

import (
	"time"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
)

type TxID string

// Status is the business status of a checkout transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPrepared  Status = "PREPARED"
	StatusCommitted Status = "COMMITTED"
	StatusAborted   Status = "ABORTED"
	StatusExpired   Status = "EXPIRED"
)

// Final reports whether the transaction can no longer change.
func (s Status) Final() bool {
	return s == StatusCommitted || s == StatusAborted || s == StatusExpired
}

// Transaction is one checkout attempt as the backend sees it. Token and
// ApprovalOrder are set once the transaction is PREPARED.
type Transaction struct {
	ID              TxID
	Status          Status
	Token           string
	Draft           checkout.OrderDraft
	ApprovalOrder   *checkout.ApprovalOrder
	ErrorKind       checkout.ErrorKind
	IdempotencyKey  string
	LastHeartbeatAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HeartbeatDeadline is when the transaction expires without another
// heartbeat. Before the first heartbeat, the last update counts.
func (t Transaction) HeartbeatDeadline(timeout time.Duration) common.Deadline {
	last := t.LastHeartbeatAt
	if last.IsZero() {
		last = t.UpdatedAt
	}
	return common.Deadline{At: last.Add(timeout)}
}

// Stale reports whether a PREPARED transaction missed its heartbeats for
// longer than timeout.
func (t Transaction) Stale(now time.Time, timeout time.Duration) bool {
	return t.Status == StatusPrepared && t.HeartbeatDeadline(timeout).Expired(now)
}
