// Package auth resolves an inbound request's bearer token to a
// directory username. The core ticket engine only ever deals in
// usernames; this package is the host application's bridge from a
// bearer token to one.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ticketflow/internal/directory"
)

// Middleware is the gin authentication layer, resolving a bearer
// token to a directory username for every ticket-engine endpoint.
type Middleware struct {
	directory     directory.Client
	localMode     bool
	adminUsername string
}

// NewMiddleware builds a Middleware over the given Directory Client.
func NewMiddleware(dir directory.Client) *Middleware {
	return &Middleware{directory: dir}
}

// NewMiddlewareWithLocalMode builds a Middleware that, when localMode
// is true, skips authentication entirely and acts as adminUsername —
// convenient for local development against a single-user workflow.
func NewMiddlewareWithLocalMode(dir directory.Client, localMode bool, adminUsername string) *Middleware {
	return &Middleware{directory: dir, localMode: localMode, adminUsername: adminUsername}
}

// Authenticate resolves the request's Bearer token to a directory
// user and stores both the username and admin flag in gin's context.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.localMode {
			c.Set("username", m.adminUsername)
			c.Set("is_admin", true)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			c.Abort()
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			c.Abort()
			return
		}

		user, err := m.directory.UserByName(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("username", user.Username)
		c.Set("is_admin", user.IsAdmin)
		c.Next()
	}
}

// RequireAdmin ensures the authenticated user is an admin.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, exists := c.Get("is_admin")
		if !exists || !isAdmin.(bool) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UsernameFromContext extracts the authenticated username from the
// gin context.
func UsernameFromContext(c *gin.Context) (string, bool) {
	username, exists := c.Get("username")
	if !exists {
		return "", false
	}
	name, ok := username.(string)
	return name, ok
}
