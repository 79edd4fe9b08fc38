package participants

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/pricing"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

// DefaultShipmentPrice is charged per distinct delivery date, in cents.
const DefaultShipmentPrice int64 = 499

type ItemLookup interface {
	Lookup(id string) (checkout.Item, bool)
}

// Shipping quotes a delivery date per item and the shipping price.
type Shipping struct {
	catalog       ItemLookup
	now           func() time.Time
	shipmentPrice int64
	countries     map[string]bool

	mu     sync.Mutex
	quotes map[string]checkout.ShippingResult
}

type ShippingOption func(*Shipping)

// ShipTo limits delivery to the given ISO country codes.
func ShipTo(countries ...string) ShippingOption {
	return func(s *Shipping) {
		for _, c := range countries {
			if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
				s.countries[c] = true
			}
		}
	}
}

func WithShipmentPrice(cents int64) ShippingOption {
	return func(s *Shipping) { s.shipmentPrice = cents }
}

func WithClock(now func() time.Time) ShippingOption {
	return func(s *Shipping) { s.now = now }
}

func NewShipping(catalog ItemLookup, opts ...ShippingOption) *Shipping {
	s := &Shipping{
		catalog:       catalog,
		now:           time.Now,
		shipmentPrice: DefaultShipmentPrice,
		countries:     make(map[string]bool),
		quotes:        make(map[string]checkout.ShippingResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Shipping) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	var payload protocol.QuoteShippingPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return protocol.PrepareResponse{}, fmt.Errorf("decode shipping payload: %w", err)
	}
	country := strings.ToUpper(strings.TrimSpace(payload.Country))
	if len(s.countries) > 0 && !s.countries[country] {
		return protocol.No(string(checkout.ErrorKindShippingUnavailable), fmt.Sprintf("no delivery to %q", payload.Country)), nil
	}

	now := s.now()
	dates := make(map[string]bool)
	result := checkout.ShippingResult{}
	seen := make(map[string]bool)
	for _, line := range payload.Items {
		if seen[line.ItemID] {
			continue
		}
		seen[line.ItemID] = true
		item, ok := s.catalog.Lookup(line.ItemID)
		if !ok {
			return protocol.No(string(checkout.ErrorKindInvalidItems), "no shipping data for "+line.ItemID), nil
		}
		date := pricing.DeliveryDate(now, item.DeliveryDays)
		dates[date] = true
		result.DeliveryDateItems = append(result.DeliveryDateItems, checkout.DeliveryDateItem{ItemID: line.ItemID, DeliveryDate: date})
	}
	result.ShippingPrices.EUR = int64(len(dates)) * s.shipmentPrice

	s.mu.Lock()
	s.quotes[req.TxID] = result
	s.mu.Unlock()
	return protocol.Yes(result)
}

func (s *Shipping) Commit(_ context.Context, req protocol.CommitRequest) error {
	s.forget(req.TxID)
	return nil
}

func (s *Shipping) Abort(_ context.Context, req protocol.AbortRequest) error {
	s.forget(req.TxID)
	return nil
}

// Quote returns the quote held for txID until commit or abort.
func (s *Shipping) Quote(txID string) (checkout.ShippingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[txID]
	return q, ok
}

func (s *Shipping) forget(txID string) {
	s.mu.Lock()
	delete(s.quotes, txID)
	s.mu.Unlock()
}
