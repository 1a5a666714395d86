package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/udp-audio-relay/internal/config"
	"github.com/skypro1111/udp-audio-relay/internal/logging"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "udp-audio-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	host := flag.String("host", "", "Override the relay bind host")
	port := flag.Int("port", 0, "Override the relay UDP port")
	flag.Parse()

	// The default path is optional so the relay runs out of the box
	cfg, err := config.Load(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Server.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid server configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("udp_address", cfg.Server.Address()),
		slog.Int("buffer_size", cfg.Server.BufferSize),
		slog.Int("queue_capacity", cfg.Server.QueueCapacity),
		slog.String("queue_policy", cfg.Server.QueuePolicy),
		slog.Duration("broadcast_interval", cfg.Server.GetBroadcastInterval()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	relay, err := server.NewRelay(&cfg.Server, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, relay, appMetrics, registry)
	}

	if err := relay.Start(); err != nil {
		logger.Error("Failed to start relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", relay.LocalAddr().String()),
	)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-relay.Err():
		logger.Error("Relay failed", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	if err := relay.Stop(); err != nil {
		logger.Error("Error stopping relay", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
	os.Exit(exitCode)
}
