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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pms/pms/internal/config"
	"github.com/pms/pms/internal/domain/key"
	"github.com/pms/pms/internal/domain/rotation"
	"github.com/pms/pms/internal/domain/token"
	"github.com/pms/pms/internal/platform/audit"
	"github.com/pms/pms/internal/platform/db"
	"github.com/pms/pms/internal/platform/kms"
	"github.com/pms/pms/internal/platform/metrics"
	"github.com/pms/pms/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pms-server",
		Short: "Practice management auth and key rotation server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(tokensCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
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
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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

// rotateCmd runs one rotation sweep and exits; useful from cron or when
// diagnosing why a policy did not fire.
func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Run one key rotation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			registry, err := kms.BuildRegistry(ctx, registryConfig(cfg), logger)
			if err != nil {
				return err
			}

			m := metrics.NewNop()
			recorder := audit.NewPGRecorder(pool)
			keyStore := key.NewPGStore(pool)
			keySvc := key.NewService(keyStore, registry, recorder, m, logger)
			policyStore := rotation.NewPGPolicyStore(pool)
			scheduler := rotation.NewScheduler(policyStore, keyStore, keySvc, recorder, m, logger, cfg.SweepInterval)

			results, err := scheduler.RunSweep(ctx)
			if err != nil {
				return err
			}

			for _, r := range results {
				fmt.Printf("policy %s: rotated=%d failed=%d status=%s\n",
					r.PolicyID, r.RotatedKeys, r.FailedKeys, r.Status)
			}
			if len(results) == 0 {
				fmt.Println("No policies were due.")
			}
			return nil
		},
	}
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Expire overdue tokens and purge old terminal ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := token.NewService(token.NewPGStore(pool), audit.NewPGRecorder(pool), metrics.NewNop(), logger)
			svc.SetCleanupRetention(cfg.CleanupRetention)

			deleted, err := svc.CleanupExpiredTokens(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d token(s).\n", deleted)
			return nil
		},
	})

	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	registry, err := kms.BuildRegistry(ctx, registryConfig(cfg), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build kms provider registry")
	}
	logger.Info().Strs("providers", registry.Names()).Msg("kms providers registered")

	m := metrics.New(prometheus.DefaultRegisterer)
	recorder := audit.NewPGRecorder(pool)

	// Domain services
	tokenSvc := token.NewService(token.NewPGStore(pool), recorder, m, logger)
	tokenSvc.SetCleanupRetention(cfg.CleanupRetention)

	keyStore := key.NewPGStore(pool)
	keySvc := key.NewService(keyStore, registry, recorder, m, logger)

	policyStore := rotation.NewPGPolicyStore(pool)
	scheduler := rotation.NewScheduler(policyStore, keyStore, keySvc, recorder, m, logger, cfg.SweepInterval)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	token.NewHandler(tokenSvc).RegisterRoutes(apiV1.Group("/tokens"))
	key.NewHandler(keySvc).RegisterRoutes(apiV1.Group("/keys"))
	rotation.NewHandler(scheduler).RegisterRoutes(apiV1.Group("/rotation-policies"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	scheduler.Start(ctx)

	// Serve until interrupted, then drain: HTTP first, scheduler second so an
	// in-flight sweep finishes before the process exits.
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		if cfg.TLSEnabled {
			errCh <- e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- e.Start(addr)
	}()
	logger.Info().Str("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		scheduler.Stop()
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	scheduler.Stop()

	logger.Info().Msg("server stopped")
	return nil
}

func registryConfig(cfg *config.Config) kms.RegistryConfig {
	return kms.RegistryConfig{
		AWSRegion:     cfg.AWSRegion,
		AzureVaultURL: cfg.AzureVaultURL,
		VaultAddr:     cfg.VaultAddr,
		VaultToken:    cfg.VaultToken,
		VaultMount:    cfg.VaultMount,
		Retry:         kms.DefaultRetryConfig(),
	}
}
