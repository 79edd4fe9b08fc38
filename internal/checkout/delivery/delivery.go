// Package delivery builds the grouped, priced shipment view of an approval
// order.
package delivery

import (
	"fmt"
	"sort"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/pricing"
)

// Line is an item with the quantity ordered.
type Line struct {
	Item     domain.Item `json:"item"`
	Quantity int         `json:"quantity"`
}

// Group is every line shipped on one delivery date.
type Group struct {
	DeliveryDate      string `json:"deliveryDate"`
	DeliveryDelayDays int    `json:"deliveryDelayDays"`
	// DelayKnown is false when the delivery date could not be read as a
	// calendar date; DeliveryDelayDays is then zero.
	DelayKnown bool   `json:"delayKnown"`
	Items      []Line `json:"items"`
}

// Order is the read-only delivery view of an approval order. Build a new one
// for every settled response instead of changing an existing one.
type Order struct {
	Groups []Group `json:"groups"`

	ItemsTotalCents    int64 `json:"itemsTotalCents"`
	ShippingTotalCents int64 `json:"shippingTotalCents"`
	TotalCents         int64 `json:"totalCents"`

	ItemsTotal    string `json:"itemsTotal"`
	ShippingTotal string `json:"shippingTotal"`
	Total         string `json:"total"`
}

// IntegrityError reports an item id that is missing one of its cross
// references in the approval order.
type IntegrityError struct {
	ItemID  string
	Missing string // "quantity", "item" or "delivery date"
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("delivery: missing %s for item %q", e.Missing, e.ItemID)
}

// Build groups the order's items by delivery date, ascending, and prices
// them. Any item without a quantity or a checked item record fails the whole
// build; no partial view is returned. An unreadable delivery date only
// leaves that group's delay unknown.
func Build(order domain.ApprovalOrder, locale string, now time.Time) (Order, error) {
	quantities := make(map[string]int, len(order.Items))
	for _, it := range order.Items {
		quantities[it.ItemID] = it.Quantity
	}

	items := make(map[string]domain.Item, len(order.CheckItemsResult.CheckedItems))
	for _, it := range order.CheckItemsResult.CheckedItems {
		items[it.ID] = it
	}

	byDate := make(map[string][]string)
	for _, d := range order.ShippingResult.DeliveryDateItems {
		byDate[d.DeliveryDate] = append(byDate[d.DeliveryDate], d.ItemID)
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	// ISO-8601 dates sort lexicographically.
	sort.Strings(dates)

	for _, it := range order.Items {
		if _, ok := items[it.ItemID]; !ok {
			return Order{}, &IntegrityError{ItemID: it.ItemID, Missing: "item"}
		}
	}

	groups := make([]Group, 0, len(dates))
	var priced []pricing.Line
	for _, date := range dates {
		ids := byDate[date]
		lines := make([]Line, 0, len(ids))
		for _, id := range ids {
			qty, ok := quantities[id]
			if !ok {
				return Order{}, &IntegrityError{ItemID: id, Missing: "quantity"}
			}
			item, ok := items[id]
			if !ok {
				return Order{}, &IntegrityError{ItemID: id, Missing: "item"}
			}
			lines = append(lines, Line{Item: item, Quantity: qty})
			priced = append(priced, pricing.Line{Price: item.Price, Quantity: qty})
		}
		delay, err := pricing.DeliveryDelayDays(now, date)
		groups = append(groups, Group{DeliveryDate: date, DeliveryDelayDays: delay, DelayKnown: err == nil, Items: lines})
	}

	if err := checkAllScheduled(order, byDate); err != nil {
		return Order{}, err
	}

	itemsTotal := pricing.ItemsTotal(priced)
	shipping := order.ShippingResult.ShippingPrices.EUR
	total := pricing.Total(itemsTotal, shipping)

	return Order{
		Groups:             groups,
		ItemsTotalCents:    itemsTotal,
		ShippingTotalCents: shipping,
		TotalCents:         total,
		ItemsTotal:         pricing.Format(itemsTotal, locale),
		ShippingTotal:      pricing.Format(shipping, locale),
		Total:              pricing.Format(total, locale),
	}, nil
}

// checkAllScheduled fails when an ordered item has no delivery date.
func checkAllScheduled(order domain.ApprovalOrder, byDate map[string][]string) error {
	scheduled := make(map[string]struct{})
	for _, ids := range byDate {
		for _, id := range ids {
			scheduled[id] = struct{}{}
		}
	}
	for _, it := range order.Items {
		if _, ok := scheduled[it.ItemID]; !ok {
			return &IntegrityError{ItemID: it.ItemID, Missing: "delivery date"}
		}
	}
	return nil
}
