package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/api"
	"github.com/lzjever/ledgerseal/internal/backend"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/signals"
)

func main() {
	var cfg api.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	// Replace global logger
	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "ledger-api", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup failed", zap.Error(err))
	}

	st, closeStore, err := backend.OpenStore(ctx, backend.StoreOptions{
		Driver:     cfg.StoreDriver,
		DSN:        cfg.DBDSN,
		SQLitePath: cfg.SQLitePath,
		MaxConns:   cfg.DBMaxConns,
		Migrate:    cfg.AutoMigrate,
	}, log)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer closeStore()

	sealer, closeSealer, err := backend.OpenSealer(backend.SealerOptions{
		Addr:      cfg.SealerAddr,
		Timeout:   cfg.SealerTimeout,
		HMACKeys:  cfg.HMACKeys,
		HMACKey:   cfg.HMACKey,
		HMACKeyID: cfg.HMACKeyID,
	})
	if err != nil {
		log.Fatal("sealer setup failed", zap.Error(err))
	}
	defer closeSealer()

	// Main API server
	apiHandler := api.NewAPI(st, sealer, signals.Sources(cfg.Config, st), log, api.WithMaxBodyBytes(cfg.MaxBodyBytes))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiHandler.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("remote_sealer", cfg.SealerAddr != ""),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down API server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)

	log.Info("API server stopped")
}
