package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/catalogkit/storefront-scraper/internal/api"
	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/config"
	"github.com/catalogkit/storefront-scraper/internal/crawler"
	"github.com/catalogkit/storefront-scraper/internal/database"
	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/fetcher"
	"github.com/catalogkit/storefront-scraper/internal/jobs"
	"github.com/catalogkit/storefront-scraper/internal/parser"
	"github.com/catalogkit/storefront-scraper/internal/pipeline"
	"github.com/catalogkit/storefront-scraper/internal/publish"
	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
	"github.com/catalogkit/storefront-scraper/internal/session"
	"github.com/catalogkit/storefront-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logg := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logg.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logg.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	outputDir := "output"
	store, err := artifacts.NewStore(outputDir)
	if err != nil {
		logg.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}
	status, err := dataset.NewStatusStore(filepath.Join(outputDir, "detail_status.json"))
	if err != nil {
		logg.Error("failed to open status store", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.Fetcher.MaxConcurrency, cfg.Fetcher.MinInterval)
	sessions := session.NewManager(session.Config{
		BaseURL:    cfg.Site.BaseURL,
		LoginURL:   cfg.Site.LoginURL(),
		Timeout:    cfg.Fetcher.Timeout,
		UserAgents: cfg.Fetcher.UserAgents,
	}, limiter, logg)

	httpFetcher := fetcher.New(limiter, fetcher.Options{
		Timeout:    cfg.Fetcher.Timeout,
		MaxRetries: cfg.Fetcher.MaxRetries,
		RetryDelay: cfg.Fetcher.RetryDelay,
		UserAgents: cfg.Fetcher.UserAgents,
	}, logg)

	structural := parser.New()
	pipe := pipeline.New(
		crawler.NewPagination(httpFetcher, structural, store, sessions, cfg.Site, logg),
		crawler.NewDetailCrawler(httpFetcher, store, status, sessions, cfg.Fetcher.MaxConcurrency, logg),
		structural, store, logg,
	)

	products := database.NewProductRepository(db)
	jobManager := jobs.NewManager(db, products, logg)
	publisher := publish.New(redisClient, cfg.Redis.Stream, logg)

	var creds *session.Credentials
	if cfg.Auth.Username != "" {
		creds = &session.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
	}

	worker := jobs.NewWorker(jobManager, pipe, sessions, creds, publisher, outputDir, logg)
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			logg.Error("job worker stopped with error", "error", err)
		}
	}()

	handlers := api.NewHandlers(jobManager, logg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/crawl", handlers.CreateCrawl)
		r.Get("/jobs", handlers.ListJobs)
		r.Get("/jobs/{jobID}", handlers.GetJob)
		r.Get("/stats", handlers.GetStats)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logg.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error("server shutdown failed", "error", err)
		}
	}()

	logg.Info("server listening", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error("server failed", "error", err)
		os.Exit(1)
	}
}
