package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/eczane/eczane/internal/config"
	"github.com/eczane/eczane/internal/domain/account"
	"github.com/eczane/eczane/internal/domain/catalog"
	"github.com/eczane/eczane/internal/domain/order"
	"github.com/eczane/eczane/internal/domain/pharmacy"
	"github.com/eczane/eczane/internal/domain/prescription"
	"github.com/eczane/eczane/internal/domain/stock"
	"github.com/eczane/eczane/internal/platform/auth"
	"github.com/eczane/eczane/internal/platform/db"
	"github.com/eczane/eczane/internal/platform/idempotency"
	"github.com/eczane/eczane/internal/platform/middleware"
	"github.com/eczane/eczane/internal/platform/notification"
	"github.com/eczane/eczane/internal/platform/telemetry"
	"github.com/eczane/eczane/migrations"
)

const (
	version       = "0.1.0"
	relayGroupID  = "eczane-notification-relay"
	shutdownGrace = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "eczane-server",
		Short:        "Online pharmacy ordering API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(relayCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
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

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Move notifications from Kafka into user inboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required for the relay")
			}
			logger := newLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.NotificationTopic).Msg("starting notification relay")
			relay := notification.NewRelay(cfg.KafkaBrokers, relayGroupID, cfg.NotificationTopic, notification.NewStore(pool), logger)
			return relay.Run(ctx)
		},
	}
}

// migrationSource is the embedded migration set, or dir when given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// notificationSink publishes to Kafka when brokers are configured and
// otherwise writes straight to the inbox table.
func notificationSink(cfg *config.Config, inbox *notification.Store) (notification.Sink, func() error) {
	if len(cfg.KafkaBrokers) > 0 {
		p := notification.NewPublisher(cfg.KafkaBrokers, cfg.NotificationTopic)
		return p, p.Close
	}
	return inbox, func() error { return nil }
}

// idempotencyStore uses Redis when REDIS_URL is set. The in-memory store only
// deduplicates retries that reach the same process.
func idempotencyStore(cfg *config.Config, logger zerolog.Logger) (idempotency.Store, func() error, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, idempotency keys are kept in memory")
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL), func() error { return nil }, nil
	}
	rdb, err := idempotency.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL), rdb.Close, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tx := db.NewTransactor(pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})

	// Notifications
	inbox := notification.NewStore(pool)
	sink, closeSink := notificationSink(cfg, inbox)
	dispatcher := notification.NewDispatcher(sink, cfg.NotifyTimeout, logger)

	idem, closeIdem, err := idempotencyStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Domain services
	accountSvc := account.NewService(account.NewRepoPG(pool))
	catalogSvc := catalog.NewService(catalog.NewRepoPG(pool))
	pharmacyDir := pharmacy.NewDirectory(pharmacy.NewRepoPG(pool))
	ledger := stock.NewLedger(stock.NewRepoPG(pool), logger)
	gate := prescription.NewGate(prescription.NewRepoPG(pool), catalogSvc, tx, cfg.PrescriptionValidityDays, logger)

	orderSvc := order.NewService(
		order.NewRepoPG(pool),
		pharmacyDir,
		ledger,
		gate,
		accountSvc,
		tx,
		dispatcher,
		logger,
	)
	orderSvc.SetNumberAttempts(cfg.OrderNumberAttempts)
	orderSvc.SetStrictLineTotals(cfg.StrictLineTotals)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware(otel.GetTracerProvider()))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, order.IdempotencyKeyHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool,
		func() *db.PoolStats { return db.GetPoolStats(pool) },
		db.NewMigrator(pool, migrations.FS)))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, identities are taken from X-Dev-User/X-Dev-Role")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	api := e.Group("/api/v1",
		authMW,
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
		middleware.Audit(logger),
	)

	account.NewHandler(accountSvc).RegisterRoutes(api)
	catalog.NewHandler(catalogSvc).RegisterRoutes(api)
	pharmacy.NewHandler(pharmacyDir).RegisterRoutes(api)
	stock.NewHandler(ledger, pharmacyDir).RegisterRoutes(api)
	prescription.NewHandler(gate, accountSvc).RegisterRoutes(api)
	order.NewHandler(orderSvc, accountSvc, idem).RegisterRoutes(api)
	notification.NewHandler(inbox).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// in-flight notifications still need the sink
	dispatcher.Wait()
	if err := closeSink(); err != nil {
		logger.Error().Err(err).Msg("close notification sink")
	}
	if err := closeIdem(); err != nil {
		logger.Error().Err(err).Msg("close idempotency store")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush traces")
	}
	logger.Info().Msg("server stopped")
	return nil
}
