package storefront

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/coordinator"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/stores"
	"github.com/nazeru/storefront-checkout-go/internal/order/api"
	"github.com/nazeru/storefront-checkout-go/internal/order/participants"
	"github.com/nazeru/storefront-checkout-go/internal/order/service"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/order/tx/twopc"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

// DemoBackend is the checkout backend served on a loopback port, publishing
// on in-memory channels.
type DemoBackend struct {
	URL      string
	Channels *coordinator.MemoryChannels
	Service  *service.Service

	srv    *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

func StartDemoBackend(seed stores.Seed, liveness time.Duration, obs service.Observer) (*DemoBackend, error) {
	inv := participants.NewInventory(participants.FromCatalog(seed.Catalog))
	mem := store.NewMemory()
	engine := twopc.NewEngine(mem.Log, twopc.ParticipantDeps{
		InventoryClient: inv,
		ShippingClient:  participants.NewShipping(inv),
	})
	channels := coordinator.NewMemoryChannels()
	svc := service.New(mem, engine, channels,
		service.WithLivenessTimeout(liveness),
		service.WithObserver(obs),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		svc.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &DemoBackend{
		URL:      "http://" + ln.Addr().String(),
		Channels: channels,
		Service:  svc,
		srv:      &http.Server{Handler: api.NewHandler(svc, nil), ReadHeaderTimeout: 5 * time.Second},
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go svc.RunSweeper(ctx, time.Second)
	go func() {
		defer close(d.done)
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(logging.Fields{Service: "demo-backend", Step: "serve", Status: "error", Message: err.Error()})
		}
	}()
	return d, nil
}

func (d *DemoBackend) Close() error {
	d.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.srv.Shutdown(ctx)
	<-d.done
	d.Service.Close()
	return err
}
