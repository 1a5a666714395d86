package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/skypro1111/udp-audio-relay/internal/audio"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/protocol"
)

// Writer appends every datagram it receives to a WAV file as raw frames
type Writer struct {
	conn       *net.UDPConn
	outputPath string
	format     audio.Format
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	frames    atomic.Int64
	datagrams atomic.Int64
}

// WAVPath returns path with its extension replaced by .wav
func WAVPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
}

// NewWriter prepares a fresh, empty WAV container at outputPath (extension forced to .wav),
// replacing any existing file.
func NewWriter(conn *net.UDPConn, outputPath string, format audio.Format, bufferSize int,
	logger *slog.Logger, m *metrics.Metrics) (*Writer, error) {

	path := WAVPath(outputPath)
	if err := audio.CreateWAV(path, format); err != nil {
		return nil, fmt.Errorf("failed to prepare output file: %w", err)
	}

	return &Writer{
		conn:       conn,
		outputPath: path,
		format:     format,
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Path returns the output file path
func (w *Writer) Path() string {
	return w.outputPath
}

// Frames returns the number of frames in the output file
func (w *Writer) Frames() int {
	return int(w.frames.Load())
}

// Datagrams returns the number of datagrams written
func (w *Writer) Datagrams() int {
	return int(w.datagrams.Load())
}

// Run receives datagrams until the socket is closed. Closing the socket after
// ctx is done ends the loop cleanly; any other receive or write error is returned.
func (w *Writer) Run(ctx context.Context) error {
	buffer := make([]byte, w.bufferSize)

	for {
		n, addr, err := w.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive datagram: %w", err)
		}

		if err := w.handle(buffer[:n], addr); err != nil {
			return err
		}
	}
}

func (w *Writer) handle(data []byte, addr *net.UDPAddr) error {
	w.logger.Debug("Received",
		slog.String("remote_addr", addr.String()),
		slog.String("preview", fmt.Sprintf("%q", protocol.Truncate(data, protocol.ReceivePreviewSize))),
	)

	// Diagnostic only: the decoded samples are not kept
	if _, shape, err := audio.DecodePCM16(data, w.format.Channels); err != nil {
		w.metrics.RecordDecodeError()
		w.logger.Warn("Could not decode datagram as PCM",
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
	} else {
		w.logger.Debug("Converted to audio", slog.String("shape", shape.String()))
	}

	before := w.Frames()
	frames, err := audio.AppendFrames(w.outputPath, data)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", w.outputPath, err)
	}

	w.frames.Store(int64(frames))
	w.datagrams.Add(1)
	w.metrics.RecordFramesWritten(frames - before)

	return nil
}
