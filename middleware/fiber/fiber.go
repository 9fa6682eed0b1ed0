// Package fiber provides Fiber middleware for premium access enforcement
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// EmailExtractor extracts the subscriber email from a Fiber context
// Return empty string if the caller is not identified
type EmailExtractor func(c *fiber.Ctx) string

// DeviceIDExtractor extracts the device ID from a Fiber context
// Return empty string when the deployment does not use device binding
type DeviceIDExtractor func(c *fiber.Ctx) string

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
	OnDenied func(c *fiber.Ctx) error

	// OnUnauthorized is called when no email could be extracted
	// If nil, returns 401 JSON
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only premium
// subscribers, or trial devices when AllowTrial is set.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("vpnsub/fiber: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("vpnsub/fiber: Config.GetEmail is required")
	}
	if cfg.GetDeviceID == nil {
		cfg.GetDeviceID = DeviceIDFromHeader("X-Device-ID")
	}

	return func(c *fiber.Ctx) error {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// Fiber wraps fasthttp, so context.Context comes from UserContext
		ctx := c.UserContext()
		deviceID := cfg.GetDeviceID(c)

		premium, err := cfg.Manager.IsPremium(ctx, email, deviceID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
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
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Subscription required"})
		}

		return c.Next()
	}
}

// EmailFromLocals returns an EmailExtractor that reads the email from
// Fiber locals, typically set by an auth middleware
func EmailFromLocals(key string) EmailExtractor {
	return func(c *fiber.Ctx) string {
		if email, ok := c.Locals(key).(string); ok {
			return email
		}
		return ""
	}
}

// EmailFromHeader returns an EmailExtractor that reads the email from a header
func EmailFromHeader(headerName string) EmailExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// DeviceIDFromHeader returns a DeviceIDExtractor that reads the device ID
// from a header
func DeviceIDFromHeader(headerName string) DeviceIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
