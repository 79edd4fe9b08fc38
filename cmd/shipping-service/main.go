package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/stores"
	"github.com/nazeru/storefront-checkout-go/internal/order/participants"
	"github.com/nazeru/storefront-checkout-go/pkg/config"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/participant"
)

const serviceName = "shipping-service"

func main() {
	c := config.New(map[string]any{
		"port":                 "8080",
		"seed.file":            "configs/seed.yaml",
		"shipping.countries":   "",
		"shipping.price.cents": participants.DefaultShipmentPrice,
	})
	if err := c.ReadFile(c.String("config.file")); err != nil {
		log.Fatalf("config error: %v", err)
	}
	seed, err := stores.LoadSeedFile(c.String("seed.file"))
	if err != nil {
		log.Fatalf("seed error: %v", err)
	}

	ship := participants.NewShipping(
		participants.NewInventory(participants.FromCatalog(seed.Catalog)),
		participants.ShipTo(c.Strings("shipping.countries")...),
		participants.WithShipmentPrice(int64(c.Int("shipping.price.cents"))),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	participant.Register(mux, serviceName, ship, metrics.NewServerMetrics(prometheus.DefaultRegisterer, "shipping_service"))
	mux.Handle("/metrics", metrics.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port := c.String("port")
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{Service: serviceName, Step: "listen", Status: "ok", Message: ":" + port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
