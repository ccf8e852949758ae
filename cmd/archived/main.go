package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookstore/services/archive/internal/api"
	"github.com/bookstore/services/archive/internal/config"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/events"
	grpcserver "github.com/bookstore/services/archive/internal/grpc"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/bookstore/services/archive/internal/repo"
	"github.com/bookstore/services/archive/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	policy, _ := repo.ParseReprocessPolicy(cfg.ReprocessPolicy)

	log.Info("Archive service starting",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("reprocess_policy", policy.String()),
	)

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(db.Options{Driver: cfg.DBDriver, DSN: cfg.DSN()})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(log)

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	seed, err := db.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatal("Failed to load seed data", zap.Error(err))
	}
	if err := db.Seed(database, seed, log); err != nil {
		log.Fatal("Failed to seed lookup tables", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize repositories
	catalogRepo := repo.NewCatalogRepository(database, log, m)
	stores := api.Stores{
		Publications: repo.NewPublicationRepository(database, log, m),
		Lookups:      repo.NewLookupRepository(database, log, m),
		Requests:     repo.NewRequestRepository(database, log, m, policy),
		Transfers:    repo.NewTransferRepository(database, log, m),
		Catalog:      catalogRepo,
	}
	registry.MustRegister(metrics.NewCatalogCollector(catalogRepo.Snapshot, log))

	// Connect to RabbitMQ. Events are best effort, so the service runs
	// without a broker and logs them instead.
	var notifier events.Notifier
	log.Info("Connecting to RabbitMQ")
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, events will only be logged", zap.Error(err))
		notifier = events.NewLogNotifier(log)
	} else {
		notifier = publisher
	}
	defer notifier.Close()

	// Create gRPC server
	grpcServer := grpcserver.NewServer(grpcserver.NewHealthServer(database, notifier, log), log)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	go func() {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	// Start HTTP server
	handler := api.New(stores, notifier, database, log, api.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.RequestRateLimit,
		RateBurst:      cfg.RequestRateBurst,
		NotifyTimeout:  cfg.NotifyTimeout,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let pending event notifications finish before the broker closes
	handler.Wait()

	// Stop gRPC server
	grpcServer.GracefulStop()

	log.Info("Server stopped")
}
