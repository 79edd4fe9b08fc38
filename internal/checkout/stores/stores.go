// Package stores persists the storefront's cart and checkout form draft in
// badger.
package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
)

var (
	keyCart = []byte("cart:items")
	keyForm = []byte("checkout:form")
)

// Open opens the badger database at path. An empty path opens an in-memory
// database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	return db, nil
}

// CartStore holds the cart lines. The checkout session only reads it and
// clears it after an approved checkout.
type CartStore struct {
	db *badger.DB
	mu sync.Mutex
}

func NewCartStore(db *badger.DB) *CartStore {
	return &CartStore{db: db}
}

func (s *CartStore) CartItems() ([]domain.CartItem, error) {
	var items []domain.CartItem
	_, err := get(s.db, keyCart, &items)
	return items, err
}

// AddToCart adds quantity of an item, merging with an existing line.
func (s *CartStore) AddToCart(item domain.CartItem) error {
	if item.ItemID == "" || item.Quantity <= 0 {
		return fmt.Errorf("add to cart: invalid line %+v", item)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.CartItems()
	if err != nil {
		return err
	}
	merged := false
	for i := range items {
		if items[i].ItemID == item.ItemID {
			items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		items = append(items, item)
	}
	return put(s.db, keyCart, items)
}

func (s *CartStore) RemoveAllFromCart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyCart)
	})
}

type FormStore struct {
	db *badger.DB
}

func NewFormStore(db *badger.DB) *FormStore {
	return &FormStore{db: db}
}

// CheckoutFormData returns the saved draft; ok is false if none was saved.
func (s *FormStore) CheckoutFormData() (domain.CheckoutFormData, bool, error) {
	var data domain.CheckoutFormData
	ok, err := get(s.db, keyForm, &data)
	return data, ok, err
}

func (s *FormStore) SaveCheckoutFormData(data domain.CheckoutFormData) error {
	return put(s.db, keyForm, data)
}

func get(db *badger.DB, key []byte, out any) (bool, error) {
	found := false
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return found, nil
}

func put(db *badger.DB, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}
