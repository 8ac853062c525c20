package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"code-evolver/internal/api"
	"code-evolver/internal/auth"
	"code-evolver/internal/config"
	"code-evolver/internal/logging"
	"code-evolver/internal/mcp"
	"code-evolver/internal/repository"
	"code-evolver/internal/services"
	"code-evolver/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	resetSchema := flag.Bool("reset-schema", false, "Drop and recreate the artifacts table on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting Code Evolver Registry",
		"environment", cfg.Environment,
		"embedding_url", cfg.Embedding.URL,
		"tool_runner_url", cfg.ToolRunner.URL,
	)

	// Initialize database connection
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	dbPool, err := repository.NewPool(ctx, connStr)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	// Initialize repository layer
	store := repository.NewPostgresArtifactStore(dbPool, logger)
	if err := store.EnsureSchema(ctx, *resetSchema, cfg.Embedding.Dim); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		log.Fatalf("Schema initialization failed: %v", err)
	}

	logger.Info("Database connected")

	// Initialize service layer
	embedder := services.NewHTTPEmbeddingClient(cfg.Embedding.URL)
	executor := services.NewHTTPToolRunner(cfg.ToolRunner.URL, cfg.ToolRunner.TimeoutMs)

	artifacts := services.NewArtifactService(store, embedder, logger)
	ledger := services.NewFailureLedger(store, embedder, cfg.Ranker.DemotionSimilarity, cfg.Ranker.DemotionPerFailure, logger)
	quality := services.NewQualityTracker(store, ledger, logger)
	ranker := services.NewToolRanker(store, embedder, ledger, cfg.Ranker.MaxCandidates, cfg.Ranker.DuplicateThreshold, logger)
	invoker := services.NewResilientInvoker(ranker, quality, store, executor, cfg.Invoker.MaxAttempts, logger)
	fixes := services.NewFixPatternService(artifacts, logger)
	pins := services.NewPinService(services.NewFilePinStore(cfg.Pins.Path), artifacts, store, logger)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("code-evolver"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Health endpoints stay unauthenticated
	health := api.NewHandler(store)
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
	e.GET("/ready", echo.WrapHandler(http.HandlerFunc(health.HandleReady)))

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, &api.Server{
		Artifacts: artifacts,
		Ranker:    ranker,
		Quality:   quality,
		Ledger:    ledger,
		Invoker:   invoker,
		Fixes:     fixes,
		Pins:      pins,
	})

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(artifacts, ranker, quality, invoker, fixes, pins)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(http.HandlerFunc(api.SpecHandler(cfg.Auth.OktaDomain))))
	e.GET("/docs", echo.WrapHandler(http.HandlerFunc(api.SwaggerHandler(cfg.Auth.SwaggerClientID))))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}
