package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rentloop/rental-core/internal/config"
	kafkax "github.com/rentloop/rental-core/internal/kafka"
	"github.com/rentloop/rental-core/internal/payments"
	"github.com/rentloop/rental-core/internal/postgres"
	"github.com/rentloop/rental-core/internal/redisx"
	"github.com/rentloop/rental-core/internal/rental"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, rental.TopicOrderConfirmed, 1024)
	prod.Start(ctx)

	svc := &payments.Service{
		Svc:         &rental.Service{Store: &rental.PGStore{DB: db}},
		Redis:       rdb,
		Producer:    prod,
		ServiceName: cfg.ServiceName + "-payments",
	}

	group := getenv("PAYMENTS_GROUP", "payments-worker")
	workers := mustAtoi(os.Getenv("PAYMENTS_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, rental.TopicPaymentAuthorized, workers)

	go func() {
		log.Printf("payments consumer started: group=%s topic=%s workers=%d", group, rental.TopicPaymentAuthorized, workers)
		if err := cons.Start(ctx, svc.HandlePaymentAuthorized); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.WaitClosed()
}

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
