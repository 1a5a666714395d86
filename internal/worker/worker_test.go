package worker

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/udp-audio-relay/internal/audio"
	"github.com/skypro1111/udp-audio-relay/internal/config"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/protocol"
	"github.com/skypro1111/udp-audio-relay/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to open socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collect reads datagrams until none arrives within idle
func collect(t *testing.T, conn *net.UDPConn, idle time.Duration) [][]byte {
	t.Helper()

	var got [][]byte
	buffer := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(idle))
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			return got
		}
		got = append(got, append([]byte(nil), buffer[:n]...))
	}
}

func writeSource(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), "source.raw")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write source file: %v", err)
	}
	return path, data
}

func TestReaderSendsRegistrationThenChunks(t *testing.T) {
	relay := listenLoopback(t)
	conn := listenLoopback(t)

	path, data := writeSource(t, 5000)

	reader := NewReader(conn, relay.LocalAddr().(*net.UDPAddr), path, 2048, testLogger(), testMetrics())
	stats, err := reader.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Chunks != 3 || stats.Bytes != 5000 || stats.Skipped {
		t.Errorf("Unexpected stats %+v", stats)
	}

	got := collect(t, relay, 200*time.Millisecond)
	if len(got) != 4 {
		t.Fatalf("Expected 4 datagrams, got %d", len(got))
	}

	if !protocol.IsRegistration(got[0]) {
		t.Errorf("Expected registration first, got %q", got[0])
	}

	expectedSizes := []int{2048, 2048, 904}
	offset := 0
	for i, size := range expectedSizes {
		chunk := got[i+1]
		if len(chunk) != size {
			t.Errorf("Chunk %d: expected %d bytes, got %d", i, size, len(chunk))
			continue
		}
		if !bytes.Equal(chunk, data[offset:offset+size]) {
			t.Errorf("Chunk %d content mismatch", i)
		}
		offset += size
	}
}

func TestReaderWithoutSourceOnlyRegisters(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "no source configured", path: ""},
		{name: "missing source file", path: filepath.Join(t.TempDir(), "missing.raw")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := listenLoopback(t)
			conn := listenLoopback(t)

			reader := NewReader(conn, relay.LocalAddr().(*net.UDPAddr), tt.path, 2048, testLogger(), testMetrics())
			stats, err := reader.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !stats.Skipped || stats.Chunks != 0 {
				t.Errorf("Unexpected stats %+v", stats)
			}

			got := collect(t, relay, 200*time.Millisecond)
			if len(got) != 1 || !protocol.IsRegistration(got[0]) {
				t.Errorf("Expected only the registration datagram, got %d datagrams", len(got))
			}
		})
	}
}

func TestWAVPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "output/source.wav", want: "output/source.wav"},
		{in: "output/source.raw", want: "output/source.wav"},
		{in: "output/sink", want: "output/sink.wav"},
	}

	for _, tt := range tests {
		if got := WAVPath(tt.in); got != tt.want {
			t.Errorf("WAVPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriterAppendsDatagrams(t *testing.T) {
	conn := listenLoopback(t)
	sender := listenLoopback(t)

	output := filepath.Join(t.TempDir(), "sink.raw")
	writer, err := NewWriter(conn, output, audio.DefaultFormat, 2048, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if filepath.Ext(writer.Path()) != ".wav" {
		t.Errorf("Expected .wav output, got %s", writer.Path())
	}

	info, err := audio.ReadWAVInfo(writer.Path())
	if err != nil {
		t.Fatalf("Fresh output is not a valid WAV: %v", err)
	}
	if info.NumFrames != 0 {
		t.Errorf("Expected empty container, got %d frames", info.NumFrames)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- writer.Run(ctx) }()

	first := bytes.Repeat([]byte{0x01, 0x00}, 512)
	second := bytes.Repeat([]byte{0x02, 0x00}, 300)
	for _, chunk := range [][]byte{first, second} {
		if _, err := sender.WriteToUDP(chunk, conn.LocalAddr().(*net.UDPAddr)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for writer.Datagrams() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	conn.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	expectedFrames := (len(first) + len(second)) / 2
	if writer.Frames() != expectedFrames {
		t.Errorf("Expected %d frames, got %d", expectedFrames, writer.Frames())
	}

	info, err = audio.ReadWAVInfo(writer.Path())
	if err != nil {
		t.Fatalf("Output is not a valid WAV: %v", err)
	}
	if info.NumFrames != expectedFrames || info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("Unexpected output info %+v", info)
	}
}

func TestWorkersThroughRelay(t *testing.T) {
	serverCfg := config.Default().Server
	serverCfg.Host = "127.0.0.1"
	serverCfg.Port = 0

	relay, err := server.NewRelay(&serverCfg, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	if err := relay.Start(); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() { relay.Stop() })

	dir := t.TempDir()
	sourcePath, _ := writeSource(t, 5000)
	m := testMetrics()

	sink, err := New(Config{
		Name:         "sink",
		RelayAddress: relay.LocalAddr().String(),
		OutputPath:   filepath.Join(dir, "sink.wav"),
		BufferSize:   2048,
		Format:       audio.DefaultFormat,
	}, testLogger(), m)
	if err != nil {
		t.Fatalf("Failed to create sink worker: %v", err)
	}

	source, err := New(Config{
		Name:         "source",
		RelayAddress: relay.LocalAddr().String(),
		SourcePath:   sourcePath,
		OutputPath:   filepath.Join(dir, "source.wav"),
		BufferSize:   2048,
		Format:       audio.DefaultFormat,
	}, testLogger(), m)
	if err != nil {
		t.Fatalf("Failed to create source worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinkDone := make(chan error, 1)
	go func() { sinkDone <- sink.Run(ctx) }()

	// The sink must be a member before the source starts streaming
	deadline := time.Now().Add(2 * time.Second)
	for len(relay.Members()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(relay.Members()) != 1 {
		t.Fatal("Sink worker did not register")
	}

	sourceDone := make(chan error, 1)
	go func() { sourceDone <- source.Run(ctx) }()

	deadline = time.Now().Add(3 * time.Second)
	for sink.Writer().Frames() < 2500 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-sinkDone; err != nil {
		t.Errorf("Sink worker failed: %v", err)
	}
	if err := <-sourceDone; err != nil {
		t.Errorf("Source worker failed: %v", err)
	}

	if sink.Writer().Frames() != 2500 {
		t.Errorf("Expected sink to record 2500 frames, got %d", sink.Writer().Frames())
	}
	if source.Writer().Frames() != 0 {
		t.Errorf("Expected source to record nothing of its own, got %d frames", source.Writer().Frames())
	}
}
