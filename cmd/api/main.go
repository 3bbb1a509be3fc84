package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bodhipep/storefront/internal/audit"
	"github.com/bodhipep/storefront/internal/catalog"
	"github.com/bodhipep/storefront/internal/checkout"
	"github.com/bodhipep/storefront/internal/config"
	"github.com/bodhipep/storefront/internal/httpx"
	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/paylink"
	"github.com/bodhipep/storefront/internal/postgres"
	"github.com/bodhipep/storefront/internal/redisx"
	"github.com/bodhipep/storefront/internal/settlement"
	"github.com/bodhipep/storefront/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for order lifecycle events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024)
	prod.Start()

	// Wiring
	source := &catalog.PostgresSource{DB: db}
	stock := &ledger.Postgres{DB: db}
	store := &orders.PostgresStore{DB: db}
	auditLog := &audit.Postgres{DB: db}
	square := paylink.NewSquare(cfg.SquareAccessToken, cfg.SquareLocationID, cfg.SquareEnv)

	svc := &checkout.Service{
		Pricer: &catalog.Pricer{
			Source:                 source,
			FreeShipThresholdCents: cfg.FreeShipThresholdCents,
			FlatShipFeeCents:       cfg.FlatShipFeeCents,
		},
		Ledger:      stock,
		Store:       store,
		Audit:       auditLog,
		Links:       square,
		Events:      prod,
		Redis:       rdb,
		BaseURL:     cfg.BaseURL,
		Currency:    cfg.Currency,
		ServiceName: cfg.ServiceName,
	}

	proc := &settlement.Processor{
		Provider:    square,
		Store:       store,
		Ledger:      stock,
		Audit:       auditLog,
		Events:      prod,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Checkout:   svc,
		Settlement: proc,
		Catalog:    source,
		Store:      store,
		Audit:      auditLog,
		Links:      square,
		Manual: paylink.ManualDirectory{
			VenmoHandle:   cfg.VenmoHandle,
			CashAppHandle: cfg.CashAppHandle,
			BTCAddress:    cfg.BTCAddress,
			ETHAddress:    cfg.ETHAddress,
		},
		Redis:        rdb,
		SignatureKey: cfg.SquareWebhookKey,
		WebhookURL:   cfg.WebhookURL,
		AdminKey:     cfg.AdminKey,
		BaseURL:      cfg.BaseURL,
		Currency:     cfg.Currency,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	prod.WaitClosed()
}
