// Package storefront wires a checkout session to its collaborators: the
// badger-backed cart and form, the RPC client, the event channels and, in
// demo mode, an in-process backend.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/coordinator"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/rpc"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/session"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/stores"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

const serviceName = "storefront"

type Options struct {
	// BackendURL is the checkout backend; ignored in demo mode.
	BackendURL   string
	KafkaBrokers string
	// DBPath is the badger directory; empty keeps the cart in memory.
	DBPath   string
	SeedFile string
	Demo     bool
	Locale   string
	Liveness time.Duration
	// RecordTo receives a JSON line per RPC request, response and error.
	RecordTo io.Writer
	Registry prometheus.Registerer
	// Navigate is told where the session sends the user.
	Navigate func(path string)
}

type App struct {
	Session *session.Session
	Cart    *stores.CartStore
	Form    *stores.FormStore
	Metrics *metrics.CheckoutMetrics
	// Demo is the in-process backend; nil outside demo mode.
	Demo *DemoBackend

	closers []func() error
}

// NavigatorFunc adapts a function to session.Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) NavigateTo(path string) { f(path) }

// Locale is a fixed session.LocaleProvider.
type Locale string

func (l Locale) CurrentLocale() string { return string(l) }

// OpenStores opens the cart and form stores at path and applies the seed
// file, if any, when the cart is still empty.
func OpenStores(path, seedFile string) (*badger.DB, *stores.CartStore, *stores.FormStore, error) {
	db, err := stores.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	cart, form := stores.NewCartStore(db), stores.NewFormStore(db)
	if seedFile == "" {
		return db, cart, form, nil
	}
	items, err := cart.CartItems()
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	if len(items) > 0 {
		return db, cart, form, nil
	}
	seed, err := stores.LoadSeedFile(seedFile)
	if err == nil {
		err = seed.Apply(cart, form)
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return db, cart, form, nil
}

func Open(opts Options) (*App, error) {
	if opts.Liveness <= 0 {
		opts.Liveness = session.DefaultLivenessTimeout
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Navigate == nil {
		opts.Navigate = func(string) {}
	}

	db, cart, form, err := OpenStores(opts.DBPath, opts.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	app := &App{Cart: cart, Form: form, Metrics: metrics.NewCheckoutMetrics(opts.Registry)}
	app.closers = append(app.closers, db.Close)

	backendURL := opts.BackendURL
	var channels coordinator.Channels
	if opts.Demo {
		seed, err := stores.LoadSeedFile(opts.SeedFile)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		demo, err := StartDemoBackend(seed, opts.Liveness, app.Metrics)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("start demo backend: %w", err)
		}
		app.closers = append(app.closers, demo.Close)
		app.Demo = demo
		backendURL, channels = demo.URL, demo.Channels
	} else {
		kc := kafka.NewClient(opts.KafkaBrokers)
		if !kc.Enabled() {
			_ = app.Close()
			return nil, errors.New("kafka brokers are required outside demo mode")
		}
		channels = kafka.NewChannels(kc)
	}

	rpcOpts := []rpc.Option{rpc.WithRetry(3, 200*time.Millisecond)}
	if opts.RecordTo != nil {
		rpcOpts = append(rpcOpts, rpc.WithRecorder(NewJournal(opts.RecordTo)))
	}
	client := rpc.New(backendURL, rpcOpts...)

	app.Session = session.New(session.Deps{
		Requester: coordinator.New(client, channels, coordinator.WithObserver(app.Metrics)),
		Backend:   client,
		Cart:      cart,
		Form:      form,
		Reporter:  &Reporter{Service: serviceName, Count: app.Metrics.CountReported},
		Navigator: NavigatorFunc(opts.Navigate),
		Locale:    Locale(opts.Locale),
	},
		session.WithLivenessTimeout(opts.Liveness),
		session.WithHeartbeatObserver(app.Metrics.ObserveHeartbeat),
	)
	return app, nil
}

// Close ends the session, then releases what Open acquired in reverse.
func (a *App) Close() error {
	var errs []error
	if a.Session != nil {
		errs = append(errs, a.Session.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// WaitSettled blocks until the session leaves Loading.
func WaitSettled(ctx context.Context, s *session.Session) (session.State, error) {
	states := make(chan session.State, 32)
	cancel := s.Subscribe(func(st session.State) { states <- st })
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		case st := <-states:
			if !st.IsLoading() {
				return st, nil
			}
		}
	}
}
