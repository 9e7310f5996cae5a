// Package ginmw provides Gin HTTP middleware for the console's local UI
// server.
//
// All middleware functions accept an *opsdeck.Client and rule on its live
// session. Handlers downstream see the identity, never the token.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// Context keys for storing session data in gin.Context.
const (
	KeyIdentity = "opsdeck_identity"
	KeySnapshot = "opsdeck_snapshot"
)

// SessionOption configures Session middleware behavior.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip the session check (e.g. health
// checks, static assets).
func WithExcludedPaths(paths ...string) SessionOption {
	return func(cfg *sessionConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Session returns middleware that requires an established session. On
// success it stores the identity in the Gin context and the request
// context; otherwise it responds 401.
func Session(client *opsdeck.Client, opts ...SessionOption) gin.HandlerFunc {
	cfg := &sessionConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		snap := client.Snapshot()
		if !snap.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(KeyIdentity, snap.Identity)
		c.Set(KeySnapshot, snap)
		c.Request = c.Request.WithContext(opsdeck.WithIdentity(c.Request.Context(), snap.Identity))
		c.Next()
	}
}

// Route returns middleware that runs the navigation gate for the named
// route and redirects wherever the gate points when it does not allow.
func Route(client *opsdeck.Client, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := client.Guard(name)
		if !d.Allowed() {
			c.Redirect(http.StatusFound, "/"+d.Target)
			c.Abort()
			return
		}
		if id := client.Identity(); id != nil {
			c.Set(KeyIdentity, id)
			c.Request = c.Request.WithContext(opsdeck.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequireRole returns middleware that checks the session holds at least
// the role. Requires Session middleware to run first.
// Responds with 403 when the role is insufficient.
func RequireRole(client *opsdeck.Client, role opsdeck.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !id.SatisfiesRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// RequireCapability returns middleware that checks the session holds the
// capability. Requires Session middleware to run first.
// Responds with 403 when the capability is missing.
func RequireCapability(client *opsdeck.Client, cap opsdeck.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !id.HasCapability(cap) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// RequireAnyCapability returns middleware that passes when the session
// holds at least one of the capabilities.
func RequireAnyCapability(client *opsdeck.Client, caps ...opsdeck.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, cap := range caps {
			if id.HasCapability(cap) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	}
}

// --- Context helpers ---

// GetIdentity returns the session identity from the Gin context, falling
// back to the client's live session when Session middleware did not run.
func GetIdentity(c *gin.Context) *opsdeck.Identity {
	v, _ := c.Get(KeyIdentity)
	id, _ := v.(*opsdeck.Identity)
	if id != nil {
		return id
	}
	return opsdeck.IdentityFromContext(c.Request.Context())
}

// GetSnapshot returns the session snapshot from the Gin context.
func GetSnapshot(c *gin.Context) (opsdeck.Snapshot, bool) {
	v, ok := c.Get(KeySnapshot)
	if !ok {
		return opsdeck.Snapshot{}, false
	}
	snap, ok := v.(opsdeck.Snapshot)
	return snap, ok
}
