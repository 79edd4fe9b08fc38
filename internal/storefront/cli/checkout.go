package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/session"
	"github.com/nazeru/storefront-checkout-go/internal/storefront"
	"github.com/nazeru/storefront-checkout-go/pkg/config"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

type CheckoutOptions struct {
	*RootOptions
	BackendURL   string
	KafkaBrokers string
	Demo         bool
	Auto         string
	Locale       string
	Liveness     time.Duration
	RecordFile   string
	Timeout      time.Duration
}

func NewCheckoutCommand(root *RootOptions, cfg *config.Config) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out the cart",
		Long: `Request a checkout for the current cart and form, then approve or reject
the prepared order.

Example:
  storefront checkout --demo
  storefront checkout --demo --auto approve
  storefront checkout --backend http://localhost:8080 --kafka-brokers localhost:9092`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("backend") {
				opts.BackendURL = cfg.String("order.base.url")
			}
			if !cmd.Flags().Changed("kafka-brokers") {
				opts.KafkaBrokers = cfg.String("kafka.brokers")
			}
			if opts.Auto != "" && opts.Auto != storefront.ActionApprove && opts.Auto != storefront.ActionReject {
				return fmt.Errorf("invalid --auto %q: must be approve or reject", opts.Auto)
			}
			if !opts.Demo && opts.BackendURL == "" {
				return errors.New("--backend is required outside demo mode")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.BackendURL, "backend", "", "checkout backend base URL [ORDER_BASE_URL]")
	cmd.Flags().StringVar(&opts.KafkaBrokers, "kafka-brokers", "", "comma separated brokers for the event channels [KAFKA_BROKERS]")
	cmd.Flags().BoolVar(&opts.Demo, "demo", false, "run the checkout backend in-process")
	cmd.Flags().StringVar(&opts.Auto, "auto", "", "skip the TUI and approve or reject the order")
	cmd.Flags().StringVar(&opts.Locale, "locale", "en", "locale for prices")
	cmd.Flags().DurationVar(&opts.Liveness, "liveness", session.DefaultLivenessTimeout, "backend liveness timeout; heartbeats run at 80% of it")
	cmd.Flags().StringVar(&opts.RecordFile, "record", "", "append RPC traffic as JSON lines to this file")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "give up waiting for the order after this long (--auto only)")

	return cmd
}

func runCheckout(cmd *cobra.Command, opts *CheckoutOptions) error {
	closeLog, err := redirectLogs(opts.LogFile, opts.Auto == "")
	if err != nil {
		return err
	}
	defer closeLog()

	var record io.Writer
	if opts.RecordFile != "" {
		f, err := os.OpenFile(opts.RecordFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		record = f
	}

	var tui *storefront.TUI
	appOpts := storefront.Options{
		BackendURL:   opts.BackendURL,
		KafkaBrokers: opts.KafkaBrokers,
		DBPath:       opts.DBPath,
		SeedFile:     opts.SeedFile,
		Demo:         opts.Demo,
		Locale:       opts.Locale,
		Liveness:     opts.Liveness,
		RecordTo:     record,
	}
	if opts.Auto == "" {
		appOpts.Navigate = func(path string) {
			if tui != nil {
				tui.Navigate(path)
			}
		}
	} else {
		appOpts.Navigate = func(path string) {
			fmt.Fprintf(cmd.OutOrStdout(), "-> %s\n", path)
		}
	}

	app, err := storefront.Open(appOpts)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.Auto != "" {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		_, err := storefront.RunAuto(ctx, app.Session, opts.Auto, cmd.OutOrStdout())
		return err
	}

	tui = storefront.NewTUI(app.Session)
	unsubscribe := app.Session.Subscribe(tui.Observe)
	defer unsubscribe()
	home, err := tui.Run()
	if err != nil {
		return err
	}
	if home {
		fmt.Fprintln(cmd.OutOrStdout(), "back to cart")
	}
	return nil
}

// redirectLogs sends logs to path. With no path, the TUI discards them so
// they do not draw over the screen.
func redirectLogs(path string, tui bool) (func(), error) {
	if path == "" {
		if tui {
			logging.SetOutput(io.Discard)
		}
		return func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logging.SetOutput(f)
	return func() {
		logging.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}
