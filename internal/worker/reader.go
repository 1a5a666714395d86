package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"github.com/skypro1111/udp-audio-relay/internal/audio"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/protocol"
)

// Reader registers with the relay and streams a source file to it
type Reader struct {
	conn       *net.UDPConn
	relay      *net.UDPAddr
	sourcePath string
	chunkSize  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// ReadStats summarizes one Reader run
type ReadStats struct {
	Chunks  int  `json:"chunks"`
	Bytes   int  `json:"bytes"`
	Skipped bool `json:"skipped"` // no source file configured or found
}

// NewReader creates a reader. An empty sourcePath only registers.
func NewReader(conn *net.UDPConn, relay *net.UDPAddr, sourcePath string, chunkSize int,
	logger *slog.Logger, m *metrics.Metrics) *Reader {
	return &Reader{
		conn:       conn,
		relay:      relay,
		sourcePath: sourcePath,
		chunkSize:  chunkSize,
		logger:     logger,
		metrics:    m,
	}
}

// Run sends the registration payload, then the whole source file in order,
// one datagram per chunk and with no pacing. A missing source file is not an error.
func (r *Reader) Run(ctx context.Context) (ReadStats, error) {
	var stats ReadStats

	r.logger.Info("Now sending", slog.String("payload", protocol.RegistrationPayload))
	if _, err := r.conn.WriteToUDP([]byte(protocol.RegistrationPayload), r.relay); err != nil {
		return stats, fmt.Errorf("failed to send registration: %w", err)
	}

	if r.sourcePath == "" {
		stats.Skipped = true
		return stats, nil
	}

	data, err := os.ReadFile(r.sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("Source file not found, nothing to send", slog.String("path", r.sourcePath))
			stats.Skipped = true
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read source file %s: %w", r.sourcePath, err)
	}

	chunks, err := audio.Chunk(data, r.chunkSize)
	if err != nil {
		return stats, err
	}

	r.logger.Info("Reading source file",
		slog.String("path", r.sourcePath),
		slog.Int("bytes", len(data)),
		slog.Int("chunks", len(chunks)),
	)

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if _, err := r.conn.WriteToUDP(chunk, r.relay); err != nil {
			return stats, fmt.Errorf("failed to send chunk %d: %w", stats.Chunks, err)
		}

		stats.Chunks++
		stats.Bytes += len(chunk)
		r.metrics.RecordChunkSent()
	}

	return stats, nil
}
