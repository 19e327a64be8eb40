// ABOUTME: Configuration types and defaults for cvdmirror
// ABOUTME: Covers the metadata store, logging, tracing, transport, and daemon integrations

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
)

const appName = "cvdmirror"

// Config holds the complete configuration for cvdmirror.
type Config struct {
	// State selects where mirror metadata lives.
	State state.Config `yaml:"state"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Tracing configuration.
	Tracing observability.TracingConfig `yaml:"tracing"`

	// HTTP client used against the mirror.
	HTTP HTTPClientConfig `yaml:"http_client"`

	// DNS version probe.
	DNS DNSConfig `yaml:"dns"`

	// Daemon scheduling and API.
	Daemon DaemonConfig `yaml:"daemon"`

	// Redis distributed lock and status. Disabled when no address is set.
	Redis RedisConfig `yaml:"redis"`

	// NATS events. Disabled when URL is empty.
	NATS NATSConfig `yaml:"nats"`

	// GCS artifact publishing. Disabled when Destination is empty.
	GCS GCSConfig `yaml:"gcs"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File also writes logs to a dated file in the metadata LogDir.
	File bool `yaml:"file"`
}

// HTTPClientConfig holds mirror HTTP settings.
type HTTPClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DNSConfig holds DNS probe settings.
type DNSConfig struct {
	// RecordName is the TXT record carrying current versions.
	RecordName string `yaml:"record_name"`

	// Nameserver overrides the stored nameserver when set.
	Nameserver string `yaml:"nameserver"`

	Timeout time.Duration `yaml:"timeout"`

	// BreakerFailures opens the DNS circuit breaker after this many
	// consecutive failed cycles.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// NATSConfig holds NATS settings.
type NATSConfig struct {
	URL            string `yaml:"url"`
	UpdatedSubject string `yaml:"updated_subject"`
	RequestSubject string `yaml:"request_subject"`
	Queue          string `yaml:"queue"`
}

// GCSConfig holds GCS publishing settings.
type GCSConfig struct {
	// Destination is a gs://bucket/prefix URI.
	Destination     string `yaml:"destination"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	EmulatorHost    string `yaml:"emulator_host"`
}

// DefaultConfig returns a Config with default values.
// All external integrations (Redis, NATS, GCS, tracing) are disabled by
// default for standalone operation.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		State: state.Config{
			Backend: state.BackendFile,
			Path:    filepath.Join(dataDir, "state.yaml"),
			BaseDir: dataDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.TracingConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		HTTP: HTTPClientConfig{
			Timeout: transport.DefaultTimeout,
		},
		DNS: DNSConfig{
			RecordName:      transport.DefaultVersionRecord,
			Timeout:         5 * time.Second,
			BreakerFailures: 3,
			BreakerTimeout:  time.Hour,
		},
		Daemon: DefaultDaemonConfig(),
		Redis: RedisConfig{
			Prefix:    "cvdmirror:",
			LockTTL:   30 * time.Minute,
			StatusTTL: 7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			UpdatedSubject: "cvdmirror.database.updated",
			RequestSubject: "cvdmirror.update.request",
			Queue:          "cvdmirror",
		},
	}
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/" + appName
	}
	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/" + appName + "/config.yaml"
	}
	return filepath.Join(home, ".config", appName, "config.yaml")
}
