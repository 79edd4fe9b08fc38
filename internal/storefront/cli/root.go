// Package cli is the storefront command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/nazeru/storefront-checkout-go/pkg/config"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	DBPath   string
	SeedFile string
	LogFile  string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cfg := config.New(map[string]any{
		"storefront.db":   "",
		"storefront.seed": "configs/seed.yaml",
	})

	cmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront cart and checkout",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("db") {
				opts.DBPath = cfg.String("storefront.db")
			}
			if !cmd.Flags().Changed("seed") {
				opts.SeedFile = cfg.String("storefront.seed")
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "badger directory for cart and form (empty: in memory) [STOREFRONT_DB]")
	cmd.PersistentFlags().StringVar(&opts.SeedFile, "seed", "", "YAML seed applied to an empty cart [STOREFRONT_SEED]")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write JSON logs here instead of stderr")

	cmd.AddCommand(NewCheckoutCommand(opts, cfg))
	cmd.AddCommand(NewCartCommand(opts))
	return cmd
}
