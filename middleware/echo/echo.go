// Package echo provides Echo middleware for premium access enforcement
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// EmailExtractor extracts the subscriber email from an Echo context
// Return empty string if the caller is not identified
type EmailExtractor func(c echo.Context) string

// DeviceIDExtractor extracts the device ID from an Echo context
// Return empty string when the deployment does not use device binding
type DeviceIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitle.Manager

	// GetEmail extracts the subscriber email from the context (required)
	GetEmail EmailExtractor

	// GetDeviceID extracts the device ID from the context
	// Default: DeviceIDFromHeader("X-Device-ID")
	GetDeviceID DeviceIDExtractor

	// AllowTrial also admits devices with an active trial
	AllowTrial bool

	// OnDenied is called when the caller has no premium entitlement
	// If nil, returns 403 JSON
	OnDenied func(c echo.Context) error

	// OnUnauthorized is called when no email could be extracted
	// If nil, returns 401 JSON
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits only premium
// subscribers, or trial devices when AllowTrial is set.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("vpnsub/echo: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("vpnsub/echo: Config.GetEmail is required")
	}
	if cfg.GetDeviceID == nil {
		cfg.GetDeviceID = DeviceIDFromHeader("X-Device-ID")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			email := cfg.GetEmail(c)
			if email == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			ctx := c.Request().Context()
			deviceID := cfg.GetDeviceID(c)

			premium, err := cfg.Manager.IsPremium(ctx, email, deviceID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !premium && cfg.AllowTrial && deviceID != "" {
				if status, err := cfg.Manager.TrialStatus(ctx, deviceID); err == nil {
					premium = status.State == entitle.TrialStateActive
				}
			}

			if !premium {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c)
				}
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Subscription required"})
			}

			return next(c)
		}
	}
}

// EmailFromContext returns an EmailExtractor that reads the email from an
// Echo context key, typically set by an auth middleware
func EmailFromContext(key string) EmailExtractor {
	return func(c echo.Context) string {
		if email, ok := c.Get(key).(string); ok {
			return email
		}
		return ""
	}
}

// EmailFromHeader returns an EmailExtractor that reads the email from a header
func EmailFromHeader(headerName string) EmailExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// DeviceIDFromHeader returns a DeviceIDExtractor that reads the device ID
// from a header
func DeviceIDFromHeader(headerName string) DeviceIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
