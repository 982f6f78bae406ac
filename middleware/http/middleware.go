// Package http provides HTTP middleware that gates requests on subscription
// capabilities.
package http

import (
	"net/http"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return zero if the user is not authenticated.
type UserIDExtractor func(r *http.Request) int64

// Config holds middleware configuration.
type Config struct {
	// Manager evaluates capabilities (required).
	Manager *gorecurly.Manager

	// GetUserID extracts the user ID from the request (required).
	GetUserID UserIDExtractor

	// Capability is the capability the request must hold, for example
	// gorecurly.CapSubscriber. Required.
	Capability string

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnDenied is called when the user lacks the capability.
	// If nil, returns 403 Forbidden.
	OnDenied func(w http.ResponseWriter, r *http.Request)

	// OnError is called when capability evaluation fails.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that requires the configured
// capability. Capabilities are evaluated fresh on every request.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID <= 0 {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			allowed, err := config.Manager.UserCan(r.Context(), userID, config.Capability)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !allowed {
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

// HandlerFunc creates the middleware in http.HandlerFunc form.
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}
