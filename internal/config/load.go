// ABOUTME: Loads configuration from YAML, .env files, and CVDMIRROR_* variables
// ABOUTME: Environment variables win over the file, the file wins over defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CVDMIRROR_"

// LoadDotEnv loads variables from .env files without overriding variables
// already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file at path on top of the defaults and applies
// environment overrides. An empty path uses DefaultConfigPath and tolerates
// the file being absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from CVDMIRROR_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("STATE_BACKEND", &c.State.Backend)
	str("STATE_PATH", &c.State.Path)
	str("DATA_DIR", &c.State.BaseDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("NAMESERVER", &c.DNS.Nameserver)
	str("DNS_RECORD", &c.DNS.RecordName)
	str("HTTP_ADDR", &c.Daemon.Addr)
	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("NATS_URL", &c.NATS.URL)
	str("GCS_DESTINATION", &c.GCS.Destination)
	str("OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup(EnvPrefix + "TRACING"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sTRACING: %w", EnvPrefix, err)
		}
		c.Tracing.Enabled = enabled
	}

	if err := dur("INTERVAL", &c.Daemon.Interval); err != nil {
		return err
	}
	if err := dur("HTTP_TIMEOUT", &c.HTTP.Timeout); err != nil {
		return err
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Daemon.Interval <= 0 {
		errs = append(errs, errors.New("daemon.interval must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http_client.timeout must be positive"))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.GCS.Destination != "" && !strings.HasPrefix(c.GCS.Destination, "gs://") {
		errs = append(errs, fmt.Errorf("gcs.destination %q must be a gs:// URI", c.GCS.Destination))
	}
	return errors.Join(errs...)
}
