package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/udp-audio-relay/internal/audio"
	"github.com/skypro1111/udp-audio-relay/internal/config"
	"github.com/skypro1111/udp-audio-relay/internal/logging"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/worker"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	sourceFile := flag.String("sourcefile", "", "Raw PCM file streamed by the source worker (default from config, ./input/source.raw)")
	sinkFile := flag.String("sinkfile", "", "Raw PCM file streamed by the sink worker, None disables it (default from config, ./input/sink.raw)")
	outputDir := flag.String("output-dir", "", "Directory for the recorded WAV files (default from config, ./output)")
	relayAddr := flag.String("server", "", "Relay address host:port (default from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *sourceFile != "" {
		cfg.Worker.SourceFile = *sourceFile
	}
	if *sinkFile != "" {
		cfg.Worker.SinkFile = *sinkFile
	}
	if *outputDir != "" {
		cfg.Worker.OutputDir = *outputDir
	}
	address := cfg.Server.Address()
	if *relayAddr != "" {
		address = *relayAddr
	}

	logger := logging.New(cfg.Logging)

	if err := os.MkdirAll(cfg.Worker.OutputDir, 0755); err != nil {
		logger.Error("Failed to create output directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	format := audio.Format{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitDepth,
	}

	sinkSource := ""
	if cfg.Worker.SinkEnabled() {
		sinkSource = cfg.Worker.SinkFile
	}

	workerConfigs := []worker.Config{
		{
			Name:         "source",
			RelayAddress: address,
			SourcePath:   cfg.Worker.SourceFile,
			OutputPath:   filepath.Join(cfg.Worker.OutputDir, "source.wav"),
			BufferSize:   cfg.Server.BufferSize,
			Format:       format,
		},
		{
			Name:         "sink",
			RelayAddress: address,
			SourcePath:   sinkSource,
			OutputPath:   filepath.Join(cfg.Worker.OutputDir, "sink.wav"),
			BufferSize:   cfg.Server.BufferSize,
			Format:       format,
		},
	}

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry)

	workers := make([]*worker.Worker, 0, len(workerConfigs))
	for _, wc := range workerConfigs {
		w, err := worker.New(wc, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create worker",
				slog.String("worker", wc.Name),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("Worker ready",
			slog.String("worker", wc.Name),
			slog.String("relay", address),
			slog.String("local_addr", w.LocalAddr().String()),
			slog.String("output", w.Writer().Path()),
		)
		workers = append(workers, w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, len(workers))
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				errCh <- err
				stop()
			}
		}(w)
	}

	wg.Wait()
	close(errCh)

	exitCode := 0
	for err := range errCh {
		logger.Error("Worker failed", slog.String("error", err.Error()))
		exitCode = 1
	}

	totals, err := metrics.CounterTotals(registry, "worker_")
	if err != nil {
		logger.Warn("Could not collect worker metrics", slog.String("error", err.Error()))
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]any, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.Float64(name, totals[name]))
	}
	logger.Info("Workers stopped", attrs...)
	os.Exit(exitCode)
}
