// Package config loads the dispatcher's environment configuration. Missing
// required variables surface as apperr.KindConfigError rather than a panic,
// so the caller can log and exit cleanly.
package config

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
)

// Environment distinguishes production from everything else for the
// loopback-URL acceptance rule in the offer transport.
type Environment string

// The two environment classes the offer transport cares about.
const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// Config holds every environment-derived setting the dispatcher needs.
type Config struct {
	Port int `envconfig:"PORT" default:"8080"`

	StoreURL string `envconfig:"STORE_URL" required:"true"`
	// StoreServiceKey and StoreAnonKey are carried for parity with the
	// store's env contract (a PostgREST-fronted deployment authenticates
	// with one of these instead of a bare connection string); the pgx
	// pool this dispatcher builds only needs StoreURL, so neither key is
	// read past Load.
	StoreServiceKey string `envconfig:"STORE_SERVICE_KEY" required:"true"`
	StoreAnonKey    string `envconfig:"STORE_ANON_KEY"`

	VendorWebhookSecret string `envconfig:"VENDOR_WEBHOOK_SECRET" required:"true"`
	OutboundBearerToken string `envconfig:"OUTBOUND_BEARER_TOKEN"`

	CustomerServiceToken string `envconfig:"CUSTOMER_SERVICE_TOKEN" required:"true"`

	Environment Environment `envconfig:"APP_ENV" default:"production"`
}

// IsProduction reports whether loopback vendor URLs must be rejected.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads configuration from the process environment, prefixed with
// SCRAPCO_, e.g. SCRAPCO_STORE_URL.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("scrapco", &cfg); err != nil {
		return Config{}, apperr.Wrap(apperr.KindConfigError, "load configuration", err)
	}
	return cfg, nil
}
