package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bodhipep/storefront/internal/audit"
	"github.com/bodhipep/storefront/internal/config"
	"github.com/bodhipep/storefront/internal/forward"
	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/postgres"
	"github.com/bodhipep/storefront/internal/sweep"
	"github.com/bodhipep/storefront/internal/telemetry"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024)
	prod.Start()

	sweeper := &sweep.Sweeper{
		Store:       &orders.PostgresStore{DB: db},
		Ledger:      &ledger.Postgres{DB: db},
		Audit:       &audit.Postgres{DB: db},
		Events:      prod,
		TTL:         cfg.ReservationTTL,
		Interval:    cfg.SweepInterval,
		ServiceName: cfg.ServiceName + "-worker",
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(ctx) })

	if cfg.ForwardURL != "" {
		group := getenv("FORWARD_GROUP", "order-forwarder")
		workers := mustAtoi(os.Getenv("FORWARD_WORKERS"), "4")
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderEvents, workers)
		fwd := forward.New(cfg.ForwardURL, cfg.ServiceName+"-worker")
		g.Go(func() error {
			log.Printf("forwarder started: group=%s topic=%s workers=%d", group, orders.TopicOrderEvents, workers)
			return cons.Start(ctx, fwd.Handle)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("worker exit: %v", err)
	}
	prod.Close()
	prod.WaitClosed()
}
