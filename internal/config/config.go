package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Queue overflow policies
const (
	PolicyDropOldest = "drop_oldest"
	PolicyBlock      = "block"
)

// Config represents the complete relay and worker configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Audio   AudioConfig   `yaml:"audio"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP relay configuration
type ServerConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	BufferSize        int    `yaml:"buffer_size"`        // max datagram size in bytes
	QueueCapacity     int    `yaml:"queue_capacity"`     // delivery queue slots
	QueuePolicy       string `yaml:"queue_policy"`       // drop_oldest or block
	BroadcastInterval int    `yaml:"broadcast_interval"` // microseconds between broadcasts, 0 disables
}

// HTTPConfig contains HTTP monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains the format of the worker's output container
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// WorkerConfig contains worker file locations
type WorkerConfig struct {
	SourceFile string `yaml:"source_file"`
	SinkFile   string `yaml:"sink_file"` // "None" or empty disables the sink input
	OutputDir  string `yaml:"output_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration the relay runs with when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              2205,
			BufferSize:        2048,
			QueueCapacity:     1024,
			QueuePolicy:       PolicyDropOldest,
			BroadcastInterval: 100,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Audio: AudioConfig{
			SampleRate: 8000,
			Channels:   1,
			BitDepth:   16,
		},
		Worker: WorkerConfig{
			SourceFile: "./input/source.raw",
			SinkFile:   "./input/sink.raw",
			OutputDir:  "./output",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, layering it over Default().
// When allowMissing is set and the file does not exist the defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.BufferSize < 512 || s.BufferSize > 65507 {
		return fmt.Errorf("buffer_size must be between 512 and 65507 bytes, got %d", s.BufferSize)
	}

	if s.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", s.QueueCapacity)
	}

	if s.QueuePolicy != PolicyDropOldest && s.QueuePolicy != PolicyBlock {
		return fmt.Errorf("queue_policy must be '%s' or '%s', got '%s'", PolicyDropOldest, PolicyBlock, s.QueuePolicy)
	}

	if s.BroadcastInterval < 0 {
		return fmt.Errorf("broadcast_interval cannot be negative, got %d", s.BroadcastInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration. The output container format is fixed.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Address returns the relay's host:port
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GetBroadcastInterval returns the broadcast throttle as a time.Duration
func (s *ServerConfig) GetBroadcastInterval() time.Duration {
	return time.Duration(s.BroadcastInterval) * time.Microsecond
}

// SinkEnabled reports whether the sink worker has an input file
func (w *WorkerConfig) SinkEnabled() bool {
	return w.SinkFile != "" && w.SinkFile != "None"
}
