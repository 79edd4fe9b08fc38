// Package store keeps checkout transactions and the approval protocol log,
// in memory or in Postgres.
package store

import (
	"errors"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("transaction already exists")
)

// Mutator changes a transaction in place inside Update. Returning an error
// leaves the stored transaction unchanged.
type Mutator func(t *domain.Transaction) error
