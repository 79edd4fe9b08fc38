package domain

// Item is a catalog item as validated by the backend. Price is in euro cents.
type Item struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Price        int64  `json:"price" yaml:"price"`
	DeliveryDays int    `json:"deliveryDays,omitempty" yaml:"deliveryDays,omitempty"`
}

type OrderItem struct {
	ItemID   string `json:"itemId" yaml:"itemId"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

// CartItem is what the cart store holds; same shape as an order line.
type CartItem = OrderItem

// CheckoutFormData is the contact and delivery draft entered before checkout.
type CheckoutFormData struct {
	Email      string `json:"email" yaml:"email"`
	Phone      string `json:"phone,omitempty" yaml:"phone,omitempty"`
	FirstName  string `json:"firstName" yaml:"firstName"`
	LastName   string `json:"lastName" yaml:"lastName"`
	Address    string `json:"address" yaml:"address"`
	PostalCode string `json:"postalCode" yaml:"postalCode"`
	City       string `json:"city" yaml:"city"`
	Country    string `json:"country" yaml:"country"`
}

// OrderDraft is sent with the initiation call.
type OrderDraft struct {
	CheckoutFormData
	Items []OrderItem `json:"items"`
}

type CheckItemsResult struct {
	HasValidItems  bool     `json:"hasValidItems"`
	InvalidItemIDs []string `json:"invalidItemIds"`
	CheckedItems   []Item   `json:"checkedItems"`
}

type ShippingPrices struct {
	EUR int64 `json:"EUR"`
}

type DeliveryDateItem struct {
	ItemID       string `json:"itemId"`
	DeliveryDate string `json:"deliveryDate"`
}

type ShippingResult struct {
	ShippingPrices    ShippingPrices     `json:"shippingPrices"`
	DeliveryDateItems []DeliveryDateItem `json:"deliveryDateItems"`
}

// ApprovalOrder is the order as the backend prepared it for approval.
//
// Every ItemID in Items must have a matching entry in
// CheckItemsResult.CheckedItems and in ShippingResult.DeliveryDateItems.
type ApprovalOrder struct {
	CheckoutFormData
	Items            []OrderItem      `json:"items"`
	CheckItemsResult CheckItemsResult `json:"checkItemsResult"`
	ShippingResult   ShippingResult   `json:"shippingResult"`
}

// CheckoutResponse is the settled result of a checkout request.
type CheckoutResponse struct {
	TransactionID string        `json:"transactionId"`
	Token         string        `json:"token"`
	ApprovalOrder ApprovalOrder `json:"approvalOrder"`
}

// TokenRequest is the payload of approve, reject and heartbeat calls.
type TokenRequest struct {
	TransactionID string `json:"transactionId"`
	Token         string `json:"token"`
}

// NewOrderDraft assembles the initiation payload from the cart and form stores.
func NewOrderDraft(form CheckoutFormData, cart []CartItem) OrderDraft {
	items := make([]OrderItem, len(cart))
	copy(items, cart)
	return OrderDraft{CheckoutFormData: form, Items: items}
}
