package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/cash-exchange/internal/config"
	"github.com/example/cash-exchange/internal/geo"
	httpapi "github.com/example/cash-exchange/internal/http"
	"github.com/example/cash-exchange/internal/ingest"
	"github.com/example/cash-exchange/internal/logging"
	"github.com/example/cash-exchange/internal/matching"
	"github.com/example/cash-exchange/internal/notify"
	"github.com/example/cash-exchange/internal/payments"
	"github.com/example/cash-exchange/internal/realtime"
	"github.com/example/cash-exchange/internal/routing"
	"github.com/example/cash-exchange/internal/storage"

	"github.com/example/cash-exchange/internal/auth"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	registry := realtime.NewRegistry(logger)

	var sink notify.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		sink = kp
	}
	dispatcher := notify.NewDispatcher(registry, sink, logger)

	svc := matching.NewService(store, dispatcher, logger)
	if cfg.RedisAddr != "" {
		idx := geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer idx.Close()
		svc.Index = idx
	}
	if cfg.StripeAPIKey != "" {
		svc.Escrow = payments.NewStripeEscrow(cfg.StripeAPIKey)
	}

	var provider routing.Provider
	if cfg.GraphHopperKey != "" {
		provider = routing.NewGraphHopperClient(cfg.GraphHopperEndpoint, cfg.GraphHopperKey)
	}

	authn := auth.NewJWTAuthenticator(cfg.JWTSecret)
	srv := httpapi.NewServer(svc, store, registry, authn, provider,
		routing.NewCache(cfg.RouteCacheTTL), cfg.DefaultRadiusKm, cfg.RecentWindowMinute, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("cash-exchange listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	svc.ReleaseHolds(shutdownCtx)
}
