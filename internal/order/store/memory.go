package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/coordinator"
)

// Memory is a process-local transaction store. Log is its protocol log.
type Memory struct {
	Log *coordinator.MemoryLog

	mu    sync.Mutex
	txs   map[domain.TxID]domain.Transaction
	idem  map[string]domain.TxID
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		Log:   coordinator.NewMemoryLog(),
		txs:   make(map[domain.TxID]domain.Transaction),
		idem:  make(map[string]domain.TxID),
		clock: time.Now,
	}
}

// Create stores t unless a transaction with the same id or idempotency key
// exists; then that one is returned with created false.
func (m *Memory) Create(_ context.Context, t domain.Transaction) (domain.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IdempotencyKey != "" {
		if id, ok := m.idem[t.IdempotencyKey]; ok {
			return m.txs[id], false, nil
		}
	}
	if existing, ok := m.txs[t.ID]; ok {
		return existing, false, nil
	}
	now := m.clock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.txs[t.ID] = t
	if t.IdempotencyKey != "" {
		m.idem[t.IdempotencyKey] = t.ID
	}
	return t, true, nil
}

func (m *Memory) Get(_ context.Context, id domain.TxID) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *Memory) Update(_ context.Context, id domain.TxID, fn Mutator) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := t
	if err := fn(&next); err != nil {
		return t, err
	}
	next.UpdatedAt = m.clock()
	m.txs[id] = next
	return next, nil
}

// ListStale returns PREPARED transactions without a heartbeat for longer
// than timeout, oldest first.
func (m *Memory) ListStale(_ context.Context, now time.Time, timeout time.Duration) ([]domain.TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txs {
		if t.Stale(now, timeout) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	ids := make([]domain.TxID, len(out))
	for i, t := range out {
		ids[i] = t.ID
	}
	return ids, nil
}
