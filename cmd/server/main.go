package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/appscale/certhub/internal/blobstore"
	"github.com/appscale/certhub/internal/certify"
	"github.com/appscale/certhub/internal/config"
	"github.com/appscale/certhub/internal/database"
	"github.com/appscale/certhub/internal/identity"
	"github.com/appscale/certhub/internal/mailer"
	"github.com/appscale/certhub/internal/queue"
	"github.com/appscale/certhub/internal/repository"
	"github.com/appscale/certhub/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewSubmissionRepository(pool)

	store, err := blobstore.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	mail := mailer.New(cfg)
	pipeline := certify.NewPipeline(repo, store, mail)
	users := identity.NewHeaderService(cfg.LoginURL, cfg.LogoutURL)

	srv, err := web.NewServer(cfg, repo, store, queue.NewDispatcher(client), pipeline, users)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
