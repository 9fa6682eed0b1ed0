// Package gin provides Gin middleware for premium access enforcement
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// EmailExtractor extracts the subscriber email from a Gin context
// Return empty string if the caller is not identified
type EmailExtractor func(c *gongin.Context) string

// DeviceIDExtractor extracts the device ID from a Gin context
// Return empty string when the deployment does not use device binding
type DeviceIDExtractor func(c *gongin.Context) string

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
	OnDenied func(c *gongin.Context)

	// OnUnauthorized is called when no email could be extracted
	// If nil, returns 401 JSON
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only premium
// subscribers, or trial devices when AllowTrial is set.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("vpnsub/gin: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("vpnsub/gin: Config.GetEmail is required")
	}
	if cfg.GetDeviceID == nil {
		cfg.GetDeviceID = DeviceIDFromHeader("X-Device-ID")
	}

	return func(c *gongin.Context) {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		deviceID := cfg.GetDeviceID(c)

		premium, err := cfg.Manager.IsPremium(ctx, email, deviceID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if !premium && cfg.AllowTrial && deviceID != "" {
			if status, err := cfg.Manager.TrialStatus(ctx, deviceID); err == nil {
				premium = status.State == entitle.TrialStateActive
			}
		}

		if !premium {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c)
			} else {
				c.JSON(http.StatusForbidden, gongin.H{"error": "Subscription required"})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// EmailFromContext returns an EmailExtractor that reads the email from a
// Gin context key, typically set by an auth middleware
func EmailFromContext(key string) EmailExtractor {
	return func(c *gongin.Context) string {
		if email, ok := c.Get(key); ok {
			if s, ok := email.(string); ok {
				return s
			}
		}
		return ""
	}
}

// EmailFromHeader returns an EmailExtractor that reads the email from a header
func EmailFromHeader(headerName string) EmailExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// DeviceIDFromHeader returns a DeviceIDExtractor that reads the device ID
// from a header
func DeviceIDFromHeader(headerName string) DeviceIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
