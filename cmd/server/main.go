// Package main is the entry point for the audit trail server binary. It
// dispatches subcommands (serve, migrate, seed, version) via a simple switch
// on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration
// on startup so freshly deployed containers never need a separate migration
// step.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // served only on the dedicated profiling port, never on the API listener
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/audit-trail/audit-trail/internal/api"
	"github.com/audit-trail/audit-trail/internal/api/admin"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "seed":
		return seed(cfg)
	case "version":
		fmt.Printf("Audit Trail v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, seed, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Logger first so all subsequent output uses the configured format.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production when JWT_SECRET is not set.
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database",
		"host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	// Seed the default action type vocabulary; existing codes are untouched.
	actionTypeRepo := repositories.NewActionTypeRepository(database)
	if n, err := actionTypeRepo.Seed(context.Background(), repositories.DefaultActionTypes()); err != nil {
		slog.Warn("failed to seed action types", "error", err)
	} else if n > 0 {
		slog.Info("seeded default action types", "inserted", n)
	}

	// First-run bootstrap token: generated once, printed once, stored only
	// as a bcrypt hash.
	if err := handleBootstrapToken(repositories.NewSettingsRepository(database)); err != nil {
		slog.Warn("bootstrap token handling failed", "error", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable, dedup and rate limiting fall back to local paths",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			slog.Info("connected to redis", "addr", cfg.Redis.Addr)
		}
		cancel()
	}

	// Prometheus metrics live on a dedicated port so the scrape path never
	// crosses the public API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers on http.DefaultServeMux at init time.
			srv := &http.Server{
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, database, rdb)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server ready", "addr", cfg.Server.GetAddress())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return err
	}
	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return err
	}
	fmt.Printf("Migration complete. Schema version: %d (dirty: %v)\n", v, dirty)
	return nil
}

// seed inserts the default action type vocabulary without starting the
// server. Useful for provisioning pipelines.
func seed(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := repositories.NewActionTypeRepository(database)
	types := repositories.DefaultActionTypes()
	n, err := repo.Seed(context.Background(), types)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d action types (%d already present)\n", n, len(types)-n)
	return nil
}

// handleBootstrapToken generates the first-run bootstrap token when no admin
// path exists yet. The raw token is printed to the log; only the bcrypt hash
// is stored. Exchanging the token (POST /api/v1/admin/bootstrap) yields a
// short-lived SuperAdmin JWT and burns the token.
func handleBootstrapToken(settings *repositories.SettingsRepository) error {
	ctx := context.Background()

	value, err := settings.Get(ctx, admin.BootstrapTokenSetting)
	if err == nil {
		if value == admin.BootstrapCompletedValue {
			slog.Debug("bootstrap already completed")
			return nil
		}
		log.Println("A bootstrap token was previously generated. If you lost it,")
		log.Println("delete bootstrap_token_hash from system_settings and restart.")
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to check bootstrap token: %w", err)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return fmt.Errorf("failed to generate bootstrap token: %w", err)
	}
	rawToken := "audit_bootstrap_" + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawToken), 12)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap token: %w", err)
	}
	if err := settings.Set(ctx, admin.BootstrapTokenSetting, string(hash)); err != nil {
		return fmt.Errorf("failed to store bootstrap token hash: %w", err)
	}

	separator := strings.Repeat("═", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  INITIAL BOOTSTRAP REQUIRED")
	log.Println("")
	log.Printf("  Bootstrap Token: %s", rawToken)
	log.Println("")
	log.Println("  Exchange it for a one-hour SuperAdmin token via:")
	log.Println("    POST /api/v1/admin/bootstrap  {\"token\": \"<token>\"}")
	log.Println("")
	log.Println("  This token is single-use and invalidated by the exchange.")
	log.Println(separator)
	log.Println("")
	return nil
}
