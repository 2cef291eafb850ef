package bluestar

import (
	"fmt"
	"time"

	"github.com/KakatkarAkshay/bluestar-go/internal/config"
)

const defaultBaseURL = "https://n3on22cp53.execute-api.ap-south-1.amazonaws.com/prod"

// Config is the runtime plugin configuration.
type Config struct {
	BaseURL           string
	Phone             string
	Password          string
	RequestsPerSecond float64
	CatalogTTL        time.Duration
	RefreshInterval   time.Duration
}

// ConfigFromApp resolves the daemon config into a runtime plugin
// config, reading the password from its secret file.
func ConfigFromApp(app config.BluestarConfig) (Config, error) {
	if app.Phone == "" {
		return Config{}, fmt.Errorf("bluestar: phone is required")
	}
	password, err := config.ReadSecretFile(app.PasswordFile)
	if err != nil {
		return Config{}, fmt.Errorf("bluestar: read password: %w", err)
	}
	if password == "" {
		return Config{}, fmt.Errorf("bluestar: password file is empty")
	}

	cfg := Config{
		BaseURL:           app.BaseURL,
		Phone:             app.Phone,
		Password:          password,
		RequestsPerSecond: app.RequestsPerSecond,
		CatalogTTL:        app.CatalogTTL(),
		RefreshInterval:   app.RefreshInterval(),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = config.DefaultRequestsPerSec
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = time.Duration(config.DefaultCatalogTTLSecs) * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Duration(config.DefaultRefreshSeconds) * time.Second
	}
	return cfg, nil
}
