package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/vanir/internal"
	"github.com/dukerupert/vanir/internal/handler"
	"github.com/dukerupert/vanir/internal/middleware"
	"github.com/dukerupert/vanir/internal/postgres"
	"github.com/dukerupert/vanir/internal/pricing"
	"github.com/dukerupert/vanir/internal/router"
	"github.com/dukerupert/vanir/internal/service"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize store
	store := postgres.NewStore(pool)

	// Parse company ID for company-scoped services
	companyID, err := uuid.Parse(cfg.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to parse company ID: %w", err)
	}

	// Initialize pricing engine
	engineMetrics := pricing.NewMetrics("vanir", prometheus.DefaultRegisterer)
	engine := pricing.NewEngine(store, logger, engineMetrics)

	// Initialize pricing service
	pricingService, err := service.NewPricingService(
		engine,
		store,
		store,
		store,
		companyID,
		logger,
		service.Config{
			PreviewLimit: cfg.Pricing.PreviewLimit,
			BatchWorkers: cfg.Pricing.BatchWorkers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize pricing service: %w", err)
	}
	logger.Info("Pricing service initialized", "company_id", cfg.CompanyID)

	// Initialize handlers
	pricingHandler := handler.NewPricingHandler(pricingService, logger)

	// Initialize middleware
	httpMetrics := middleware.NewMetrics("vanir", prometheus.DefaultRegisterer)

	// Create router and register routes
	r := router.New(
		middleware.RequestID,
		httpMetrics.Middleware,
		middleware.WithRequestLogger(logger),
	)

	// Metrics endpoint (should be protected in production via firewall)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		httpMetrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Pricing API
	r.Post("/api/v1/prices/calculate", pricingHandler.HandleCalculate)
	r.Post("/api/v1/prices/simulate", pricingHandler.HandleSimulate)
	r.Post("/api/v1/prices/bulk-update", pricingHandler.HandleBulkUpdate)
	r.Post("/api/v1/prices/compare", pricingHandler.HandleCompare)
	r.Get("/api/v1/prices/report", pricingHandler.HandleReport)
	r.Get("/api/v1/items/{id}/prices", pricingHandler.HandleItemPrices)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting pricing server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
