package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

func TestMemory_CreateReplay(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, created, err := m.Create(ctx, domain.Transaction{ID: "t1", Status: domain.StatusPending, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.CreatedAt.IsZero())

	again, created, err := m.Create(ctx, domain.Transaction{ID: "t2", Status: domain.StatusPending, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, created, "same idempotency key")
	assert.Equal(t, domain.TxID("t1"), again.ID)

	_, created, err = m.Create(ctx, domain.Transaction{ID: "t1", Status: domain.StatusPending})
	require.NoError(t, err)
	assert.False(t, created, "same id")

	_, err = m.Get(ctx, "t2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Update(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _, err := m.Create(ctx, domain.Transaction{ID: "t1", Status: domain.StatusPending})
	require.NoError(t, err)

	got, err := m.Update(ctx, "t1", func(tx *domain.Transaction) error {
		tx.Status = domain.StatusPrepared
		tx.Token = "a123"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPrepared, got.Status)

	boom := errors.New("boom")
	_, err = m.Update(ctx, "t1", func(tx *domain.Transaction) error {
		tx.Status = domain.StatusAborted
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := m.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPrepared, stored.Status, "failed mutation is discarded")
	assert.Equal(t, "a123", stored.Token)

	_, err = m.Update(ctx, "missing", func(*domain.Transaction) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListStale(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2023, 1, 2, 9, 0, 0, 0, time.UTC)

	seed := []domain.Transaction{
		{ID: "old", Status: domain.StatusPrepared, LastHeartbeatAt: now.Add(-time.Minute), CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "older", Status: domain.StatusPrepared, LastHeartbeatAt: now.Add(-time.Minute), CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "fresh", Status: domain.StatusPrepared, LastHeartbeatAt: now.Add(-10 * time.Second)},
		{ID: "done", Status: domain.StatusCommitted, LastHeartbeatAt: now.Add(-time.Hour)},
	}
	for _, tx := range seed {
		_, _, err := m.Create(ctx, tx)
		require.NoError(t, err)
	}

	ids, err := m.ListStale(ctx, now, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []domain.TxID{"older", "old"}, ids)
}
