// Package api provides plain net/http handlers for the subscription
// backend: checkout initiation, payment verification, premium checks, the
// trial lifecycle, and the admin server-pool surface. Handlers are mounted
// by the caller, so any router works.
package api

import (
	"fmt"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/entitle"
	"github.com/jephshield/vpnsub/pkg/pricing"
)

// AdminConfig holds credentials for the admin surface. The password is
// stored as a bcrypt hash; plaintext never touches the config.
type AdminConfig struct {
	Username     string
	PasswordHash []byte

	// SessionTTL bounds how long an issued admin token stays valid
	// (default: 12h)
	SessionTTL int64
}

// Config holds configuration for the API handler.
type Config struct {
	// Manager is the entitlement manager (required)
	Manager *entitle.Manager

	// Provider is the payment provider used for checkout and
	// verification (required)
	Provider billing.Provider

	// Pricer computes localized checkout amounts (required)
	Pricer *pricing.Pricer

	// Geo resolves a payer country from the client IP. If nil, the
	// pricer's default country is used.
	Geo *pricing.GeoResolver

	// Admin enables the admin endpoints when credentials are set
	Admin AdminConfig

	// Logger is used for structured logging (default: entitle.NoopLogger)
	Logger entitle.Logger
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Provider == nil {
		return fmt.Errorf("billing provider is required")
	}
	if c.Pricer == nil {
		return fmt.Errorf("pricer is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}
	return &Handler{
		config:   config,
		logger:   logger,
		sessions: newSessionStore(config.Admin.SessionTTL),
	}, nil
}
