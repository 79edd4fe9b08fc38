package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
)

type ParticipantRef struct {
	Name string `json:"name"` // inventory/shipping
	URL  string `json:"url,omitempty"`
}

type TxLogStore interface {
	Create(ctx context.Context, txid common.TxID, participants []ParticipantRef) error
	SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error
	GetStatus(ctx context.Context, txid common.TxID) (common.TxStatus, error)
}

var (
	ErrUnknownTx   = errors.New("unknown transaction")
	ErrDuplicateTx = errors.New("transaction already logged")
)

// MemoryLog is a TxLogStore kept in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[common.TxID]*logEntry
}

type logEntry struct {
	status       common.TxStatus
	participants []ParticipantRef
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[common.TxID]*logEntry)}
}

func (l *MemoryLog) Create(_ context.Context, txid common.TxID, participants []ParticipantRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[txid]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, txid)
	}
	l.entries[txid] = &logEntry{status: common.TxStarted, participants: participants}
	return nil
}

func (l *MemoryLog) SetStatus(_ context.Context, txid common.TxID, status common.TxStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[txid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTx, txid)
	}
	e.status = status
	return nil
}

func (l *MemoryLog) GetStatus(_ context.Context, txid common.TxID) (common.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[txid]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTx, txid)
	}
	return e.status, nil
}
