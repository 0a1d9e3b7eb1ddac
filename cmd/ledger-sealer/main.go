package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/seal"
	"github.com/lzjever/ledgerseal/internal/sealer"
)

func main() {
	var cfg sealer.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ring, err := seal.KeyringFromConfig(cfg.HMACKeys, cfg.HMACKey, cfg.HMACKeyID)
	if err != nil {
		log.Fatal("keyring setup failed", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "ledger-sealer", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("tracing setup failed", zap.Error(err))
	}

	// Metrics HTTP server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	// gRPC server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(sealer.MetricsInterceptor),
		grpc.MaxRecvMsgSize(cfg.MaxPayloadBytes*2),
	)
	sealer.RegisterSealerServiceServer(srv, sealer.NewServer(cfg, ring, log))

	go func() {
		log.Info("gRPC server starting",
			zap.String("addr", cfg.GRPCAddr),
			zap.String("active_key_id", ring.ActiveKeyID()),
			zap.Strings("key_ids", ring.KeyIDs()),
		)
		if err := srv.Serve(lis); err != nil {
			log.Fatal("grpc serve failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down sealer")

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		srv.Stop()
	}
	_ = shutdownTracing(context.Background())
}
