// Package config loads VoiceWire service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MarloweLabs/VoiceWire/collector"
)

// Defaults applied by Load when a field is absent.
const (
	DefaultListenAddr  = ":8080"
	DefaultMetricsAddr = ":9090"
	DefaultRateLimit   = 10
	DefaultRateBurst   = 20
)

// Config is the root service configuration.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CollectorConfig tunes the turn-completion windows.
type CollectorConfig struct {
	// IdleWindow is the quiet period after which a turn with no text is
	// considered finished.
	IdleWindow time.Duration `yaml:"idle_window"`
	// DrainWindow bounds how long the collector keeps reading after the
	// first text arrives.
	DrainWindow time.Duration `yaml:"drain_window"`
}

// EndpointConfig locates the remote voice endpoint.
type EndpointConfig struct {
	// URL is the websocket endpoint (required).
	URL string `yaml:"url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// MaxRetries caps dial attempts.
	MaxRetries int `yaml:"max_retries"`
}

// RedisConfig configures the turn log backend. When Addr is empty the
// in-memory store is used.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// StorageConfig selects and configures the audio blob backend.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`

	// BaseDir is the root directory for the local backend.
	BaseDir string `yaml:"base_dir"`

	// S3 settings, used when Backend is "s3".
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	S3Endpoint   string `yaml:"s3_endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr  string  `yaml:"listen_addr"`
	MetricsAddr string  `yaml:"metrics_addr"`
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector URL. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads a YAML config file, applies environment overrides and
// defaults, and validates the result. An empty path yields a default
// configuration driven entirely by environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the loaded values.
// Environment always wins over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("VOICEWIRE_ENDPOINT_URL"); v != "" {
		c.Endpoint.URL = v
	}
	if v := os.Getenv("VOICEWIRE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("VOICEWIRE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("VOICEWIRE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("VOICEWIRE_S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("VOICEWIRE_LISTEN_ADDR"); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv("VOICEWIRE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

func (c *Config) applyDefaults() {
	if c.Collector.IdleWindow <= 0 {
		c.Collector.IdleWindow = collector.DefaultIdleWindow
	}
	if c.Collector.DrainWindow <= 0 {
		c.Collector.DrainWindow = collector.DefaultDrainWindow
	}
	if c.Endpoint.APIKeyEnv == "" {
		c.Endpoint.APIKeyEnv = "VOICEWIRE_API_KEY"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "./data/audio"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = DefaultListenAddr
	}
	if c.API.MetricsAddr == "" {
		c.API.MetricsAddr = DefaultMetricsAddr
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = DefaultRateLimit
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = DefaultRateBurst
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "voicewire"
	}
}

// Validate checks cross-field consistency. Endpoint.URL is not required
// here: the read side of the API works without a live endpoint, and turn
// execution fails with a dial error when the URL is missing.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return errors.New("storage.base_dir is required for the local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// APIKey resolves the endpoint API key from the configured environment
// variable. Empty when unset.
func (c *Config) APIKey() string {
	return os.Getenv(c.Endpoint.APIKeyEnv)
}
