package protocol

type LineItem struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// CheckItemsPayload asks the inventory to validate and reserve the lines.
type CheckItemsPayload struct {
	Items []LineItem `json:"items"`
}

// QuoteShippingPayload asks for delivery dates and the shipping price.
type QuoteShippingPayload struct {
	Items   []LineItem `json:"items"`
	Country string     `json:"country"`
}
