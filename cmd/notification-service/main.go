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
	kafkago "github.com/segmentio/kafka-go"

	"github.com/nazeru/storefront-checkout-go/internal/notification"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/pkg/config"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

const serviceName = "notification-service"

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	GroupID      string
}

func readCfg() (cfg, error) {
	c := config.New(map[string]any{
		"port":           "8080",
		"kafka.group.id": serviceName,
	})
	if err := c.ReadFile(c.String("config.file")); err != nil {
		return cfg{}, err
	}
	if err := c.Require("database.url", "kafka.brokers"); err != nil {
		return cfg{}, err
	}
	return cfg{
		Port:         c.String("port"),
		DatabaseURL:  c.String("database.url"),
		KafkaBrokers: c.String("kafka.brokers"),
		GroupID:      c.String("kafka.group.id"),
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err == nil {
		err = store.EnsureSchema(connectCtx, pool)
	}
	cancel()
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	srvMetrics := metrics.NewServerMetrics(prometheus.DefaultRegisterer, "notification_service")
	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	for _, topic := range []string{contracts.TopicApprovals, contracts.TopicErrors} {
		go consume(ctx, pool, kafkaClient.NewReader(topic, cfg.GroupID))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"db_error"}`))
			srvMetrics.Observe("health", http.StatusServiceUnavailable, start)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		srvMetrics.Observe("health", http.StatusOK, start)
	})
	mux.Handle("/metrics", metrics.Handler())

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

func consume(ctx context.Context, pool *pgxpool.Pool, r *kafkago.Reader) {
	defer r.Close()
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error(logging.Fields{Service: serviceName, Step: "kafka_read", Status: "error", Message: err.Error()})
			time.Sleep(2 * time.Second)
			continue
		}
		n, err := notification.FromMessage(msg.Topic, msg.Partition, msg.Offset, msg.Value)
		if err != nil {
			logging.Error(logging.Fields{Service: serviceName, Step: "decode", Status: "error", Message: err.Error()})
			continue
		}
		fresh, err := notification.Save(ctx, pool, n)
		if err != nil {
			logging.Error(logging.Fields{Service: serviceName, TxID: n.TxID, EventID: n.EventID, Step: "save", Status: "error", Message: err.Error()})
			continue
		}
		status := "emitted"
		if !fresh {
			status = "duplicate"
		}
		logging.Log(logging.Fields{Service: serviceName, TxID: n.TxID, EventID: n.EventID, Step: n.Type, Status: status})
	}
}
