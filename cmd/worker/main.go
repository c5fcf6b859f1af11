package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"storeops/internal/action"
	"storeops/internal/bulk"
	"storeops/internal/config"
	"storeops/internal/draft"
	"storeops/internal/kv"
	"storeops/internal/orders"
	"storeops/internal/queue"
	"storeops/internal/telemetry"
	workerproc "storeops/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	gateway, err := orders.NewPostgres(ctx, cfg.PostgresDSN, cfg.LookupChunk)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer gateway.Close()

	if err := gateway.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := kv.New(client)

	uploader, err := action.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init export uploader: %v", err)
	}

	q := queue.NewRedisQueue(client, cfg.JobVisibility)
	engine := bulk.New(cfg, gateway, draft.New(store, cfg.DraftTTL), action.NewRegistry(gateway, uploader), store, q)
	processor := workerproc.NewProcessor(cfg, q, engine)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s poll=%s", cfg.JobVisibility, cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
