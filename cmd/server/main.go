package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tripshare/dispatch/internal/config"
	"github.com/tripshare/dispatch/internal/dispatch"
	"github.com/tripshare/dispatch/internal/geo"
	httpapi "github.com/tripshare/dispatch/internal/http"
	"github.com/tripshare/dispatch/internal/ingest"
	"github.com/tripshare/dispatch/internal/logging"
	"github.com/tripshare/dispatch/internal/payments"
	"github.com/tripshare/dispatch/internal/presence"
	"github.com/tripshare/dispatch/internal/pricing"
	"github.com/tripshare/dispatch/internal/realtime"
	"github.com/tripshare/dispatch/internal/routing"
	"github.com/tripshare/dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewComponentLogger(cfg.LogLevel, "server")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Storage: Postgres when configured, otherwise the in-memory store for
	// local development. Both enforce the same conditional transitions.
	var store storage.RideStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if err := runMigrations(pg); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set; using in-memory ride store")
		store = storage.NewMemoryStore()
	}

	reg := presence.NewRegistry(logger)
	hub := realtime.NewHub(logger)

	engine := &dispatch.Engine{
		Store:  store,
		Routes: routing.NewOSRMClient(cfg.OSRMBaseURL, cfg.RouteTimeout),
		Rates: pricing.Rates{
			BaseFare: cfg.BaseFare,
			PerKm:    cfg.PerKmRate,
			PerMin:   cfg.PerMinRate,
			Currency: cfg.Currency,
		},
		Drivers: reg,
		Status:  hub,
		Logger:  logger,
	}
	if cfg.StripeAPIKey != "" {
		engine.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("payments enabled")
	}

	srv := httpapi.NewServer(engine, reg, hub, logger)
	if cfg.RedisAddr != "" {
		srv.Geo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		srv.Kafka = producer
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch api listening",
			"addr", cfg.HTTPAddr,
			"osrm", cfg.OSRMBaseURL,
			"base_fare", cfg.BaseFare,
			"per_km", cfg.PerKmRate,
			"per_min", cfg.PerMinRate)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(pg *storage.PostgresStore) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = pg.DB().Exec(string(b))
	return err
}
