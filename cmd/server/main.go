// Package main is the entry point for the Cadogy backend binary. It dispatches four
// subcommands (serve, migrate, worker, version) via a switch on os.Args. serve applies
// pending migrations on startup so a fresh container needs no separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cadogy/cadogy-backend/internal/api"
	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/db"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
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
	if command == "version" {
		fmt.Printf("Cadogy backend v%s\n", version)
		return nil
	}

	cfg, v, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	config.Watch(v, func(next *config.Config) {
		telemetry.SetLogLevel(next.Logging.Level)
	})

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|version>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "worker":
		return runWorker(cfg)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, worker, version", command)
	}
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)
	return database, nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := connectDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	// A nil interface, not a typed nil, keeps the router on its in-memory fallbacks.
	var rdb redis.UniversalClient
	if cfg.Redis.Enabled() {
		client, err := db.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		rdb = client
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bg, err := api.NewRouter(cfg, database, rdb, version)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	bg.Start(bgCtx)

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"base_url", cfg.Server.BaseURL,
			"environment", cfg.Server.Environment,
			"storage", cfg.Storage.DefaultBackend,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			bg.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		bg.Shutdown()
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bg.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// serveMetrics exposes /metrics on its own port so the scrape path stays off the public
// ingress and outside the rate limiter.
func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connectDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if direction != "version" {
		slog.Info("running migrations", "direction", direction)
		if err := db.RunMigrations(database, direction); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Printf("Current schema version: %d (dirty: %v)\n", v, dirty)
	return nil
}

// runWorker consumes the email topic and delivers messages over SMTP. It lets the web
// tier run with email.queue.consume_in_process=false.
func runWorker(cfg *config.Config) error {
	if !cfg.Email.Queue.Enabled {
		return errors.New("worker requires email.queue.enabled=true")
	}

	var sender email.Sender = email.LogSender{}
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(cfg.Email.SMTP)
	}
	consumer := email.NewConsumer(cfg.Email.Queue, sender)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	slog.Info("email worker started", "topic", cfg.Email.Queue.Topic, "group", cfg.Email.Queue.GroupID)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("email worker failed: %w", err)
	}
	slog.Info("email worker stopped")
	return nil
}
