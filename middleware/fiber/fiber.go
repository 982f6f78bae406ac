// Package fiber provides Fiber middleware that gates requests on
// subscription capabilities.
package fiber

import (
	gofiber "github.com/gofiber/fiber/v2"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return zero if the user is not authenticated.
type UserIDExtractor func(c *gofiber.Ctx) int64

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
	OnUnauthorized func(c *gofiber.Ctx) error

	// OnDenied is called when the user lacks the capability.
	// If nil, returns 403 JSON.
	OnDenied func(c *gofiber.Ctx) error

	// OnError is called when capability evaluation fails.
	// If nil, returns 500 JSON.
	OnError func(c *gofiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that requires the configured
// capability.
func Middleware(config Config) gofiber.Handler {
	return func(c *gofiber.Ctx) error {
		userID := config.GetUserID(c)
		if userID <= 0 {
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c)
			}
			return c.Status(gofiber.StatusUnauthorized).JSON(gofiber.Map{"error": "unauthorized"})
		}

		allowed, err := config.Manager.UserCan(c.UserContext(), userID, config.Capability)
		if err != nil {
			if config.OnError != nil {
				return config.OnError(c, err)
			}
			return c.Status(gofiber.StatusInternalServerError).JSON(gofiber.Map{"error": "internal error"})
		}
		if !allowed {
			if config.OnDenied != nil {
				return config.OnDenied(c)
			}
			return c.Status(gofiber.StatusForbidden).JSON(gofiber.Map{"error": "subscription required"})
		}

		return c.Next()
	}
}
