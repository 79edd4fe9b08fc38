// Package participants holds the in-process voters of a checkout
// transaction: the inventory and the shipping quote.
package participants

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/stores"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

// Stock is a catalog item with the quantity on hand.
type Stock struct {
	Item     checkout.Item
	Quantity int
}

// FromCatalog converts seeded catalog entries to stock.
func FromCatalog(entries []stores.CatalogEntry) []Stock {
	out := make([]Stock, 0, len(entries))
	for _, e := range entries {
		out = append(out, Stock{Item: e.Item, Quantity: e.Stock})
	}
	return out
}

// Inventory validates order lines against the catalog and holds the ordered
// quantity from prepare until commit or abort.
type Inventory struct {
	mu       sync.Mutex
	items    map[string]checkout.Item
	onHand   map[string]int
	reserved map[string]map[string]int // txID -> itemID -> quantity
}

func NewInventory(stock []Stock) *Inventory {
	inv := &Inventory{
		items:    make(map[string]checkout.Item, len(stock)),
		onHand:   make(map[string]int, len(stock)),
		reserved: make(map[string]map[string]int),
	}
	for _, s := range stock {
		inv.items[s.Item.ID] = s.Item
		inv.onHand[s.Item.ID] = s.Quantity
	}
	return inv
}

// Lookup returns the catalog item with id.
func (i *Inventory) Lookup(id string) (checkout.Item, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.items[id]
	return it, ok
}

// Available returns the quantity on hand that is not reserved.
func (i *Inventory) Available(id string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.onHand[id]
}

func (i *Inventory) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	var payload protocol.CheckItemsPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return protocol.PrepareResponse{}, fmt.Errorf("decode check items payload: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	wanted := make(map[string]int)
	var order []string
	var invalid []string
	for _, line := range payload.Items {
		if _, ok := i.items[line.ItemID]; !ok || line.Quantity <= 0 {
			invalid = append(invalid, line.ItemID)
			continue
		}
		if _, seen := wanted[line.ItemID]; !seen {
			order = append(order, line.ItemID)
		}
		wanted[line.ItemID] += line.Quantity
	}
	if len(invalid) > 0 {
		return protocol.No(string(checkout.ErrorKindInvalidItems), "unknown items: "+strings.Join(invalid, ", ")), nil
	}

	if _, again := i.reserved[req.TxID]; !again {
		for _, id := range order {
			if i.onHand[id] < wanted[id] {
				return protocol.No(string(checkout.ErrorKindOutOfStock),
					fmt.Sprintf("%s: %d wanted, %d on hand", id, wanted[id], i.onHand[id])), nil
			}
		}
		for _, id := range order {
			i.onHand[id] -= wanted[id]
		}
		i.reserved[req.TxID] = wanted
	}

	result := checkout.CheckItemsResult{HasValidItems: true, InvalidItemIDs: []string{}}
	for _, id := range order {
		result.CheckedItems = append(result.CheckedItems, i.items[id])
	}
	return protocol.Yes(result)
}

// Commit keeps the reserved quantity taken.
func (i *Inventory) Commit(_ context.Context, req protocol.CommitRequest) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.reserved, req.TxID)
	return nil
}

// Abort puts the reserved quantity back on hand.
func (i *Inventory) Abort(_ context.Context, req protocol.AbortRequest) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, n := range i.reserved[req.TxID] {
		i.onHand[id] += n
	}
	delete(i.reserved, req.TxID)
	return nil
}
