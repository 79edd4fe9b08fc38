package stores

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
)

// CatalogEntry is a seeded catalog item with its stock level.
type CatalogEntry struct {
	domain.Item `yaml:",inline"`
	Stock       int `yaml:"stock"`
}

// Seed is the YAML file that prepares a storefront run:
//
//	catalog:
//	  - {id: a1, name: Lamp, price: 1000, deliveryDays: 3, stock: 10}
//	cart:
//	  - {itemId: a1, quantity: 1}
//	form:
//	  email: jane@example.com
type Seed struct {
	Catalog []CatalogEntry           `yaml:"catalog"`
	Cart    []domain.CartItem        `yaml:"cart"`
	Form    *domain.CheckoutFormData `yaml:"form"`
}

func LoadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return s, nil
}

func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, err
	}
	defer f.Close()
	return LoadSeed(f)
}

// Apply writes the seeded cart lines and form draft into the stores.
func (s Seed) Apply(cart *CartStore, form *FormStore) error {
	for _, it := range s.Cart {
		if err := cart.AddToCart(it); err != nil {
			return err
		}
	}
	if s.Form != nil {
		if err := form.SaveCheckoutFormData(*s.Form); err != nil {
			return err
		}
	}
	return nil
}
