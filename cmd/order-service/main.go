package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/stores"
	"github.com/nazeru/storefront-checkout-go/internal/order/api"
	"github.com/nazeru/storefront-checkout-go/internal/order/participants"
	"github.com/nazeru/storefront-checkout-go/internal/order/service"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/order/tx/twopc"
	"github.com/nazeru/storefront-checkout-go/pkg/config"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/outbox"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/coordinator"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/participant"
)

const serviceName = "order-service"

type cfg struct {
	Port            string
	DatabaseURL     string
	KafkaBrokers    string
	SeedFile        string
	ShippingBaseURL string
	ShipTo          []string
	RequestTimeout  time.Duration
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	RelayInterval   time.Duration
}

func readCfg() (cfg, error) {
	c := config.New(map[string]any{
		"port":               "8080",
		"seed.file":          "configs/seed.yaml",
		"request.timeout":    "2500ms",
		"liveness.timeout":   "30s",
		"sweep.interval":     "5s",
		"outbox.interval":    "500ms",
		"shipping.countries": "",
	})
	if err := c.ReadFile(c.String("config.file")); err != nil {
		return cfg{}, err
	}
	out := cfg{
		Port:            c.String("port"),
		DatabaseURL:     c.String("database.url"),
		KafkaBrokers:    c.String("kafka.brokers"),
		SeedFile:        c.String("seed.file"),
		ShippingBaseURL: c.String("shipping.base.url"),
		ShipTo:          c.Strings("shipping.countries"),
		RequestTimeout:  c.Duration("request.timeout"),
		LivenessTimeout: c.Duration("liveness.timeout"),
		SweepInterval:   c.Duration("sweep.interval"),
		RelayInterval:   c.Duration("outbox.interval"),
	}
	if out.DatabaseURL == "" && out.KafkaBrokers == "" {
		return cfg{}, errors.New("DATABASE_URL or KAFKA_BROKERS is required")
	}
	return out, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed, err := stores.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		log.Fatalf("seed error: %v", err)
	}
	inv := participants.NewInventory(participants.FromCatalog(seed.Catalog))

	var shipping common.ParticipantClient = participants.NewShipping(inv, participants.ShipTo(cfg.ShipTo...))
	if cfg.ShippingBaseURL != "" {
		shipping = participant.NewClient(cfg.ShippingBaseURL, cfg.RequestTimeout)
	}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	producer := kafka.NewProducer(kafkaClient)
	defer producer.Close()

	var (
		st     service.Store
		txLog  coordinator.TxLogStore
		pub    service.Publisher = kafka.NewPublisher(producer)
		health                   = func(context.Context) error { return nil }
	)
	if cfg.DatabaseURL != "" {
		pool, err := connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		st, txLog = store.NewPostgres(pool), store.NewPostgresLog(pool)
		pub = &outbox.Publisher{DB: pool}
		health = pool.Ping
		if kafkaClient.Enabled() {
			relay := &outbox.Relay{Store: outbox.Postgres{DB: pool}, Sender: producer, Service: serviceName}
			go relay.Run(ctx, cfg.RelayInterval)
		}
	} else {
		mem := store.NewMemory()
		st, txLog = mem, mem.Log
	}

	engine := twopc.NewEngine(txLog, twopc.ParticipantDeps{
		InventoryClient: inv,
		ShippingClient:  shipping,
		ShippingURL:     cfg.ShippingBaseURL,
	})
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)
	svc := service.New(st, engine, pub,
		service.WithLivenessTimeout(cfg.LivenessTimeout),
		service.WithObserver(checkoutMetrics),
	)
	defer svc.Close()
	go svc.RunSweeper(ctx, cfg.SweepInterval)

	h := api.NewHandler(svc, metrics.NewServerMetrics(prometheus.DefaultRegisterer, "order_service"))
	mux := h.Mux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			http.Error(w, `{"status":"db_error"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{Service: serviceName, Step: "listen", Status: "ok", Message: ":" + cfg.Port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
