package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if cfg.Server.Address() != "localhost:2205" {
		t.Errorf("Expected default address localhost:2205, got %s", cfg.Server.Address())
	}

	if cfg.Server.BufferSize != 2048 {
		t.Errorf("Expected default buffer size 2048, got %d", cfg.Server.BufferSize)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			modify:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "invalid queue policy",
			modify:      func(c *Config) { c.Server.QueuePolicy = "drop_newest" },
			expectError: true,
			errorMsg:    "queue_policy must be",
		},
		{
			name:        "zero queue capacity",
			modify:      func(c *Config) { c.Server.QueueCapacity = 0 },
			expectError: true,
			errorMsg:    "queue_capacity must be at least 1",
		},
		{
			name:        "invalid audio sample rate",
			modify:      func(c *Config) { c.Audio.SampleRate = 16000 },
			expectError: true,
			errorMsg:    "sample_rate must be 8000 Hz",
		},
		{
			name:        "stereo audio",
			modify:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
			errorMsg:    "channels must be 1",
		},
		{
			name: "http enabled without address",
			modify: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Address = ""
			},
			expectError: true,
			errorMsg:    "http address cannot be empty",
		},
		{
			name:        "negative broadcast interval",
			modify:      func(c *Config) { c.Server.BroadcastInterval = -1 },
			expectError: true,
			errorMsg:    "broadcast_interval cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	validYAML := `
server:
  host: "127.0.0.1"
  port: 3305
  queue_capacity: 64
  queue_policy: "block"
http:
  enabled: true
  port: 9090
  address: "0.0.0.0"
logging:
  level: "debug"
  format: "json"
`
	validPath := filepath.Join(tempDir, "valid.yaml")
	if err := os.WriteFile(validPath, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(validPath, false)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if cfg.Server.Address() != "127.0.0.1:3305" {
		t.Errorf("Expected address 127.0.0.1:3305, got %s", cfg.Server.Address())
	}

	if cfg.Server.QueuePolicy != PolicyBlock {
		t.Errorf("Expected queue policy %s, got %s", PolicyBlock, cfg.Server.QueuePolicy)
	}

	// Fields absent from the file keep their defaults
	if cfg.Server.BufferSize != 2048 {
		t.Errorf("Expected default buffer size 2048, got %d", cfg.Server.BufferSize)
	}

	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("Expected default sample rate 8000, got %d", cfg.Audio.SampleRate)
	}

	invalidPath := filepath.Join(tempDir, "invalid.yaml")
	if err := os.WriteFile(invalidPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(invalidPath, false); err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Expected parse error, got: %v", err)
	}

	badValuePath := filepath.Join(tempDir, "bad_value.yaml")
	if err := os.WriteFile(badValuePath, []byte("audio:\n  bit_depth: 24\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(badValuePath, false); err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml", false)
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}

	cfg, err := Load("nonexistent.yaml", true)
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Server.Port != 2205 {
		t.Errorf("Expected default port 2205, got %d", cfg.Server.Port)
	}
}

func TestHelpers(t *testing.T) {
	server := ServerConfig{BroadcastInterval: 250}
	if server.GetBroadcastInterval() != 250*time.Microsecond {
		t.Errorf("Expected 250µs, got %v", server.GetBroadcastInterval())
	}

	tests := []struct {
		sink    string
		enabled bool
	}{
		{"./input/sink.raw", true},
		{"None", false},
		{"", false},
	}

	for _, tt := range tests {
		w := WorkerConfig{SinkFile: tt.sink}
		if w.SinkEnabled() != tt.enabled {
			t.Errorf("SinkEnabled(%q): expected %v", tt.sink, tt.enabled)
		}
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to stderr",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"), false)
	if err != nil {
		t.Fatalf("Shipped config failed to load: %v", err)
	}

	if cfg.Server.Address() != "localhost:2205" {
		t.Errorf("Expected localhost:2205, got %s", cfg.Server.Address())
	}
	if !cfg.HTTP.Enabled {
		t.Error("Expected the HTTP API enabled in the shipped config")
	}
	if !cfg.Worker.SinkEnabled() {
		t.Error("Expected the sink input enabled in the shipped config")
	}
}
