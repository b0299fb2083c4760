package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"relaychat/internal/config"
	"relaychat/internal/logging"
	"relaychat/internal/metrics"
	"relaychat/internal/server"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort), "TCP address to listen on")
	dataDir := flag.String("data", cfg.StorageDir, "directory for persistent storage")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "address to serve Prometheus metrics on")
	flag.Parse()

	logging.Configure(cfg.LogLevel)

	m := metrics.New()
	srv, err := server.New(*dataDir, m)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	go serveMetrics(*metricsAddr, m)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down...")
		cancel()
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
