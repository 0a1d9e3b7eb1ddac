package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/backend"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/signals"
	"github.com/lzjever/ledgerseal/internal/worker"
)

func main() {
	var cfg worker.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "ledger-worker", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	st, closeStore, err := backend.OpenStore(ctx, backend.StoreOptions{
		Driver:     cfg.StoreDriver,
		DSN:        cfg.DBDSN,
		SQLitePath: cfg.SQLitePath,
		MaxConns:   cfg.DBMaxConns,
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

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	w := worker.New(st, sealer, signals.Sources(cfg.Config, st), cfg, log)
	w.Run(ctx)
}
