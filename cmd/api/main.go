package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relay/api/internal/app"
	"relay/api/internal/authpw"
	"relay/api/internal/config"
	"relay/api/internal/email"
	"relay/api/internal/knowledge"
	"relay/api/internal/promptrepo"
	"relay/api/internal/session"
	"relay/api/internal/store"
	"relay/api/internal/webcapture"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.PromptReposDir, 0o755); err != nil {
		log.Fatalf("failed to create prompt repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	prompts := promptrepo.New(cfg.PromptReposDir)

	// Knowledge pipeline: object storage is the hard requirement for
	// uploads, search and embedding degrade independently.
	var objects knowledge.Objects
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objectStore, err := knowledge.NewObjectStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		objects = objectStore
	} else {
		log.Printf("MINIO_ENDPOINT not set, document uploads disabled")
	}

	var index knowledge.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		indexer := knowledge.NewIndexer(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer indexer.Close()
		index = indexer
	}

	var embedder knowledge.Embedder
	if strings.TrimSpace(cfg.EmbedderURL) != "" {
		embedder = knowledge.NewEmbedderClient(cfg.EmbedderURL, cfg.EmbedderToken)
	}

	knowledgeService := knowledge.NewService(dataStore, objects, index, embedder)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, verification and invite tokens are returned in API responses")
	}

	deps := app.Deps{
		Prompts:   prompts,
		Knowledge: knowledgeService,
		Email:     mailer,
		AuthPW:    authpw.NewService(dataStore),
		Capture:   webcapture.New(),
	}

	// Refresh tokens live in Redis when available, PostgreSQL otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, falling back to PostgreSQL refresh sessions: %v", err)
		} else {
			defer redisStore.Close()
			deps.Sessions = redisStore
		}
	}

	service := app.New(cfg, dataStore, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Relay API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
