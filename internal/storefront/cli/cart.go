package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront"
)

func NewCartCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show or change the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(root, func(cart cartStore) error {
				items, err := cart.CartItems()
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "cart is empty")
					return nil
				}
				for _, it := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "%s x%d\n", it.ItemID, it.Quantity)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <item-id> <quantity>",
		Short: "Add an item to the cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty <= 0 {
				return fmt.Errorf("quantity must be a positive integer, got %q", args[1])
			}
			return withCart(root, func(cart cartStore) error {
				return cart.AddToCart(domain.CartItem{ItemID: args[0], Quantity: qty})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCart(root, func(cart cartStore) error {
				return cart.RemoveAllFromCart()
			})
		},
	})
	return cmd
}

type cartStore interface {
	CartItems() ([]domain.CartItem, error)
	AddToCart(item domain.CartItem) error
	RemoveAllFromCart() error
}

func withCart(root *RootOptions, fn func(cartStore) error) error {
	db, cart, _, err := storefront.OpenStores(root.DBPath, root.SeedFile)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cart)
}
