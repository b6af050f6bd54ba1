package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/rxledger/internal/config"
	"github.com/ehr/rxledger/internal/domain/billing"
	"github.com/ehr/rxledger/internal/domain/catalog"
	"github.com/ehr/rxledger/internal/domain/identity"
	"github.com/ehr/rxledger/internal/domain/prescription"
	"github.com/ehr/rxledger/internal/platform/auth"
	"github.com/ehr/rxledger/internal/platform/db"
	"github.com/ehr/rxledger/internal/platform/fieldcipher"
	"github.com/ehr/rxledger/internal/platform/middleware"
	"github.com/ehr/rxledger/internal/platform/snapshot"
	"github.com/ehr/rxledger/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rx-server",
		Short:        "Encrypted prescription ledger API server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prescription ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh Base64 FIELD_ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fieldcipher.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger("")
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS, logger))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// newLogger writes JSON, or console output in development.
func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// newEcho builds the HTTP server: global middleware, auth, audit and the
// /api/v1 routes of every registrar.
func newEcho(cfg *config.Config, logger zerolog.Logger, health echo.HandlerFunc, registrars ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", health)

	apiV1 := e.Group("/api/v1")
	if cfg.ResolvedAuthMode() == "development" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.Audit(logger))

	for _, r := range registrars {
		r.RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = newLogger(cfg.Env)
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("DevAuthMiddleware is active: requests without identity headers get admin access; do not use in production")
	}

	decryptPolicy, err := fieldcipher.ParsePolicy(cfg.DecryptPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid decrypt policy")
	}
	transitionPolicy, err := prescription.ParseTransitionPolicy(cfg.TransitionPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid transition policy")
	}
	ciphers, err := fieldcipher.NewSet(cfg.FieldEncryptionKey, cfg.SnapshotPassphrase, decryptPolicy, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise ciphers")
	}
	hasher, err := snapshot.NewHasher(ciphers.Snapshot, cfg.SnapshotHashSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise snapshot hasher")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	txm := db.NewTxManager(pool)

	// Catalog, optionally behind Redis
	checks := map[string]db.Check{}
	catalogRepo := catalog.NewRepoPG(pool)
	var catalogLookup catalog.Catalog = catalogRepo
	var invalidator catalog.Invalidator
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		cached := catalog.NewCachedCatalog(catalogRepo, client, cfg.CatalogCacheTTL, logger)
		catalogLookup, invalidator = cached, cached
		checks["redis"] = cached.Ping
		logger.Info().Dur("ttl", cfg.CatalogCacheTTL).Msg("catalog cache enabled")
	}

	identityRepo := identity.NewRepoPG(pool)
	prescriptionRepo := prescription.NewRepoPG(pool, ciphers.Field)

	identitySvc := identity.NewService(identityRepo, logger)
	catalogSvc := catalog.NewService(catalogRepo, invalidator, logger)
	prescriptionSvc := prescription.NewService(prescriptionRepo, identityRepo, hasher, txm, transitionPolicy, logger)
	billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool, ciphers.Field), prescriptionRepo, catalogLookup, txm, logger)

	e := newEcho(cfg, logger, db.HealthHandler(pool, checks),
		identity.NewHandler(identitySvc),
		catalog.NewHandler(catalogSvc),
		prescription.NewHandler(prescriptionSvc),
		billing.NewHandler(billingSvc),
	)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
