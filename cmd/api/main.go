package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"storeops/internal/action"
	"storeops/internal/api"
	"storeops/internal/bulk"
	"storeops/internal/config"
	"storeops/internal/draft"
	"storeops/internal/kv"
	"storeops/internal/orders"
	"storeops/internal/queue"
	"storeops/internal/ratelimit"
	"storeops/internal/selection"
	"storeops/internal/single"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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

	drafts := draft.New(store, cfg.DraftTTL)
	registry := action.NewRegistry(gateway, uploader)
	q := queue.NewRedisQueue(client, cfg.JobVisibility)
	engine := bulk.New(cfg, gateway, drafts, registry, store, q)
	limiter := ratelimit.New(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, engine, selection.New(gateway, cfg.BatchMax), single.New(gateway, drafts), drafts, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
