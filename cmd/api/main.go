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

	"github.com/rentloop/rental-core/internal/config"
	"github.com/rentloop/rental-core/internal/httpx"
	kafkax "github.com/rentloop/rental-core/internal/kafka"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, rental.TopicOrderCommitted, 1024)
	prod.Start(ctx)

	svc := &rental.Service{Store: &rental.PGStore{DB: db}}
	router := httpx.NewRouter()
	rh := &httpx.RentalHandler{
		Svc:      svc,
		Redis:    rdb,
		Producer: prod,
		Service:  cfg.ServiceName,
	}
	rh.Register(router)

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
	prod.Close() // flush remaining events
	cancel()
	prod.WaitClosed()
}
