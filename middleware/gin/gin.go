// Package gin provides Gin middleware that gates requests on subscription
// capabilities.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return zero if the user is not authenticated.
type UserIDExtractor func(c *gongin.Context) int64

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
	OnUnauthorized func(c *gongin.Context)

	// OnDenied is called when the user lacks the capability.
	// If nil, returns 403 JSON.
	OnDenied func(c *gongin.Context)

	// OnError is called when capability evaluation fails.
	// If nil, returns 500 JSON.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that requires the configured
// capability.
func Middleware(config Config) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		userID := config.GetUserID(c)
		if userID <= 0 {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			return
		}

		allowed, err := config.Manager.UserCan(c.Request.Context(), userID, config.Capability)
		if err != nil {
			if config.OnError != nil {
				config.OnError(c, err)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
			}
			return
		}
		if !allowed {
			if config.OnDenied != nil {
				config.OnDenied(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{"error": "subscription required"})
			}
			return
		}

		c.Next()
	}
}
