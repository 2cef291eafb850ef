package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "/etc/bluestard/config.yaml"
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultRefreshSeconds = 30
	DefaultRequestsPerSec = 5.0
	DefaultCatalogTTLSecs = 30
	DefaultSessionPath    = "/var/lib/bluestard/session.json"
	DefaultSessionPrefix  = "bluestard/session"
)

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bluestar BluestarConfig `yaml:"bluestar"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BluestarConfig holds the vendor account and polling settings.
type BluestarConfig struct {
	BaseURL                string  `yaml:"base_url"`
	Phone                  string  `yaml:"phone"`
	PasswordFile           string  `yaml:"password_file"`
	RefreshIntervalSeconds int     `yaml:"refresh_interval_seconds"`
	RequestsPerSecond      float64 `yaml:"requests_per_second"`
	CatalogTTLSeconds      int     `yaml:"catalog_ttl_seconds"`
}

// SessionConfig controls where the session snapshot is persisted.
// When BlobEndpoint is empty the snapshot is kept in StatePath only.
type SessionConfig struct {
	StatePath         string `yaml:"state_path"`
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobRegion        string `yaml:"blob_region"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Bluestar.RefreshIntervalSeconds <= 0 {
		cfg.Bluestar.RefreshIntervalSeconds = DefaultRefreshSeconds
	}
	if cfg.Bluestar.RequestsPerSecond <= 0 {
		cfg.Bluestar.RequestsPerSecond = DefaultRequestsPerSec
	}
	if cfg.Bluestar.CatalogTTLSeconds <= 0 {
		cfg.Bluestar.CatalogTTLSeconds = DefaultCatalogTTLSecs
	}
	if cfg.Session.StatePath == "" {
		cfg.Session.StatePath = DefaultSessionPath
	}
	if cfg.Session.BlobPrefix == "" {
		cfg.Session.BlobPrefix = DefaultSessionPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Bluestar.Phone == "" {
		return fmt.Errorf("bluestar.phone is required")
	}
	if cfg.Bluestar.PasswordFile == "" {
		return fmt.Errorf("bluestar.password_file is required")
	}
	if cfg.Session.BlobEndpoint != "" {
		if cfg.Session.BlobBucket == "" {
			return fmt.Errorf("session.blob_bucket is required when blob_endpoint is set")
		}
		if cfg.Session.BlobAccessKeyFile == "" {
			return fmt.Errorf("session.blob_access_key_file is required when blob_endpoint is set")
		}
		if cfg.Session.BlobSecretKeyFile == "" {
			return fmt.Errorf("session.blob_secret_key_file is required when blob_endpoint is set")
		}
	}
	return nil
}

// RefreshInterval returns the catalog refresh interval as a duration.
func (c BluestarConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// CatalogTTL returns the device catalog cache TTL as a duration.
func (c BluestarConfig) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

// ReadSecretFile reads a secret value from a file, trimming whitespace.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
