package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"maintdesk/backend/internal/api"
	"maintdesk/backend/internal/config"
	"maintdesk/backend/internal/logging"
	"maintdesk/backend/internal/mcp"
	"maintdesk/backend/internal/metrics"
	"maintdesk/backend/internal/repository"
	"maintdesk/backend/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}
	logger.Info("Starting Maintdesk Workflow Service", "environment", cfg.Environment)

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return err
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		return err
	}
	logger.Info("Database connected")

	// Repository layer
	store := repository.NewPostgresWorkflowStore(dbPool)
	entities := repository.NewPostgresEntityStore(dbPool)
	roles := repository.NewPostgresRoleProvider(dbPool)

	// Service layer
	var engineMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		if engineMetrics, err = metrics.New(); err != nil {
			logger.Error("Failed to register metrics", "error", err)
			return err
		}
	}
	engine := services.NewWorkflowService(store, entities, roles, logger, engineMetrics)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if cfg.Metrics.Enabled {
		e.Use(otelecho.Middleware("maintdesk-workflow"))
	}

	e.GET("/healthz", api.HandleHealth)

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	apiServer := api.NewServer(engine, logger)
	api.RegisterRoutes(apiGroup, apiServer)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(engine)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}
