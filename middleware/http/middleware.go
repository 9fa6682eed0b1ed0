// Package http provides HTTP middleware for premium access enforcement
package http

import (
	"context"
	"net/http"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// EmailExtractor extracts the subscriber email from an HTTP request
// Return empty string if the caller is not identified
type EmailExtractor func(r *http.Request) string

// DeviceIDExtractor extracts the device ID from an HTTP request
// Return empty string when the deployment does not use device binding
type DeviceIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitle.Manager

	// GetEmail extracts the subscriber email from the request (required)
	GetEmail EmailExtractor

	// GetDeviceID extracts the device ID from the request
	// Default: DeviceIDFromHeader("X-Device-ID")
	GetDeviceID DeviceIDExtractor

	// AllowTrial also admits devices with an active trial
	AllowTrial bool

	// OnDenied is called when the caller has no premium entitlement
	// If nil, returns 403 Forbidden
	OnDenied func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when no email could be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only premium
// subscribers, or trial devices when AllowTrial is set.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetDeviceID == nil {
		config.GetDeviceID = DeviceIDFromHeader("X-Device-ID")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := config.GetEmail(r)
			if email == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			deviceID := config.GetDeviceID(r)

			premium, err := config.Manager.IsPremium(ctx, email, deviceID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !premium && config.AllowTrial && deviceID != "" {
				premium = trialActive(ctx, config.Manager, deviceID)
			}

			if !premium {
				if config.OnDenied != nil {
					config.OnDenied(w, r)
				} else {
					http.Error(w, "Forbidden", http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates the same middleware for http.HandlerFunc chains
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func trialActive(ctx context.Context, manager *entitle.Manager, deviceID string) bool {
	status, err := manager.TrialStatus(ctx, deviceID)
	if err != nil {
		return false
	}
	return status.State == entitle.TrialStateActive
}

// Common extractors for convenience

// ContextKey is a type for context keys
type ContextKey string

const (
	// EmailKey is the context key for the subscriber email
	EmailKey ContextKey = "vpnsub:email"
)

// EmailFromContext returns an EmailExtractor that reads the email from the
// request context
func EmailFromContext(key ContextKey) EmailExtractor {
	return func(r *http.Request) string {
		if email, ok := r.Context().Value(key).(string); ok {
			return email
		}
		return ""
	}
}

// EmailFromHeader returns an EmailExtractor that reads the email from a header
func EmailFromHeader(headerName string) EmailExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// EmailFromQuery returns an EmailExtractor that reads the email from a query
// parameter
func EmailFromQuery(param string) EmailExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

// DeviceIDFromHeader returns a DeviceIDExtractor that reads the device ID
// from a header
func DeviceIDFromHeader(headerName string) DeviceIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithEmail adds the subscriber email to the request context
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, EmailKey, email)
}
