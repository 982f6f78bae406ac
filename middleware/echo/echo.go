// Package echo provides Echo middleware that gates requests on subscription
// capabilities.
package echo

import (
	"net/http"

	goecho "github.com/labstack/echo/v4"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return zero if the user is not authenticated.
type UserIDExtractor func(c goecho.Context) int64

// Config holds middleware configuration.
type Config struct {
	// Manager evaluates capabilities (required).
	Manager *gorecurly.Manager

	// GetUserID extracts the user ID from the context (required).
	GetUserID UserIDExtractor

	// Capability is the capability the request must hold (required).
	Capability string

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 JSON.
	OnUnauthorized func(c goecho.Context) error

	// OnDenied is called when the user lacks the capability.
	// If nil, returns 403 JSON.
	OnDenied func(c goecho.Context) error

	// OnError is called when capability evaluation fails.
	// If nil, returns 500 JSON.
	OnError func(c goecho.Context, err error) error
}

// Middleware creates an Echo middleware that requires the configured
// capability.
func Middleware(config Config) goecho.MiddlewareFunc {
	return func(next goecho.HandlerFunc) goecho.HandlerFunc {
		return func(c goecho.Context) error {
			userID := config.GetUserID(c)
			if userID <= 0 {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			allowed, err := config.Manager.UserCan(c.Request().Context(), userID, config.Capability)
			if err != nil {
				if config.OnError != nil {
					return config.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
			if !allowed {
				if config.OnDenied != nil {
					return config.OnDenied(c)
				}
				return c.JSON(http.StatusForbidden, map[string]string{"error": "subscription required"})
			}

			return next(c)
		}
	}
}
