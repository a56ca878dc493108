package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hdx/bridge/internal/config"
	"github.com/hdx/bridge/internal/domain/callbacks"
	"github.com/hdx/bridge/internal/domain/consent"
	"github.com/hdx/bridge/internal/domain/dataflow"
	"github.com/hdx/bridge/internal/domain/facility"
	"github.com/hdx/bridge/internal/domain/identity"
	"github.com/hdx/bridge/internal/domain/ledger"
	"github.com/hdx/bridge/internal/domain/linking"
	"github.com/hdx/bridge/internal/domain/records"
	"github.com/hdx/bridge/internal/platform/cache"
	"github.com/hdx/bridge/internal/platform/callback"
	"github.com/hdx/bridge/internal/platform/db"
	"github.com/hdx/bridge/internal/platform/gateway"
	"github.com/hdx/bridge/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hdx-bridge",
		Short: "Health data exchange bridge",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Correlation cache. Holds gateway session tokens, deferred link
	// batches, OTP sessions, and active share tokens.
	store := cache.NewInMemoryStore()
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	store.StartCleanup(cleanupCtx, time.Minute)

	// Exchange gateway client
	gwClient := gateway.NewClient(cfg, store, logger)
	gw := gateway.NewService(gwClient, cfg)

	// Domain wiring, dependency order
	ledgerSvc := ledger.NewService(ledger.NewRepoPG(pool), logger)
	facilitySvc := facility.NewService(facility.NewRepoPG(pool), logger)
	identitySvc := identity.NewService(identity.NewRepoPG(pool), logger)
	recordsSvc := records.NewService(records.NewRepoPG(pool), logger)
	consentSvc := consent.NewService(consent.NewRepoPG(pool), gw, facilitySvc, identitySvc, logger)
	linkingSvc := linking.NewService(linking.NewRepoPG(pool), store, gw, identitySvc,
		facilitySvc, ledgerSvc, nil, logger)
	dataflowSvc := dataflow.NewService(dataflow.NewRepoPG(pool), consentSvc, gw, facilitySvc,
		recordsSvc, ledgerSvc, cfg.DataPushURL(), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("5M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.Audit(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "REQUEST-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))

	// Facility-facing API
	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	facility.NewHandler(facilitySvc).RegisterRoutes(api)
	identity.NewHandler(identitySvc, gw).RegisterRoutes(api)
	consent.NewHandler(consentSvc).RegisterRoutes(api)
	linking.NewHandler(linkingSvc).RegisterRoutes(api)
	records.NewHandler(recordsSvc).RegisterRoutes(api)
	ledger.NewHandler(ledgerSvc).RegisterRoutes(api)

	// The data push route lives on the callback prefix but stays outside the
	// JWKS middleware: counterpart providers POST to it directly.
	push := e.Group("/api/v3")
	dataflow.NewHandler(dataflowSvc).RegisterRoutes(api, push)

	// Gateway-facing callbacks, verified against the exchange's JWKS
	cb := e.Group("/api/v3")
	cb.Use(callback.Auth(cfg.CertsURL(), logger))
	callbacks.NewHandler(linkingSvc, consentSvc, dataflowSvc, identitySvc, facilitySvc,
		gw, ledgerSvc, store, cfg.CurrentDomain, logger).RegisterRoutes(cb)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server started")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
