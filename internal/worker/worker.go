package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/skypro1111/udp-audio-relay/internal/audio"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
)

// Config describes one worker
type Config struct {
	Name         string
	RelayAddress string
	SourcePath   string // empty disables sending beyond registration
	OutputPath   string
	BufferSize   int
	Format       audio.Format
}

// Worker pairs a Reader and a Writer on one UDP socket bound to an ephemeral port,
// acting as a single relay client.
type Worker struct {
	name   string
	conn   *net.UDPConn
	reader *Reader
	writer *Writer
	logger *slog.Logger
}

// New binds the worker's socket and prepares its output file
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	relay, err := net.ResolveUDPAddr("udp", cfg.RelayAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay address: %w", err)
	}

	network := "udp6"
	if relay.IP == nil || relay.IP.To4() != nil {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}

	logger = logger.With(slog.String("worker", cfg.Name))

	writer, err := NewWriter(conn, cfg.OutputPath, cfg.Format, cfg.BufferSize, logger, m)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Worker{
		name:   cfg.Name,
		conn:   conn,
		reader: NewReader(conn, relay, cfg.SourcePath, cfg.BufferSize, logger, m),
		writer: writer,
		logger: logger,
	}, nil
}

// LocalAddr returns the worker's socket address
func (w *Worker) LocalAddr() *net.UDPAddr {
	return w.conn.LocalAddr().(*net.UDPAddr)
}

// Writer returns the worker's writer
func (w *Worker) Writer() *Writer {
	return w.writer
}

// Run starts the writer, runs the reader to completion, then keeps writing until
// ctx is done. The socket is closed on return.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerErr := make(chan error, 1)
	go func() {
		writerErr <- w.writer.Run(ctx)
	}()

	// Unblock the writer's receive once ctx is done
	go func() {
		<-ctx.Done()
		w.conn.Close()
	}()

	stats, err := w.reader.Run(ctx)
	if err != nil {
		cancel()
		<-writerErr
		return fmt.Errorf("worker %s reader: %w", w.name, err)
	}

	w.logger.Info("Reader finished",
		slog.Int("chunks", stats.Chunks),
		slog.Int("bytes", stats.Bytes),
		slog.Bool("skipped", stats.Skipped),
	)

	select {
	case err := <-writerErr:
		if err != nil {
			return fmt.Errorf("worker %s writer: %w", w.name, err)
		}
		return nil
	case <-ctx.Done():
		<-writerErr
		w.logStopped()
		return nil
	}
}

func (w *Worker) logStopped() {
	attrs := []any{
		slog.String("output", w.writer.Path()),
		slog.Int("datagrams", w.writer.Datagrams()),
		slog.Int("frames", w.writer.Frames()),
	}

	info, err := audio.ReadWAVInfo(w.writer.Path())
	if err != nil {
		w.logger.Warn("Could not inspect output file", slog.String("error", err.Error()))
	} else {
		attrs = append(attrs, slog.Float64("duration_seconds", info.Duration))
	}

	w.logger.Info("Writer stopped", attrs...)
}
