package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"beacon/internal/directory"
)

// ctxIdentityKey is where AuthRequired stashes the resolved identity.
const ctxIdentityKey = "beacon.identity"

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (directory.Identity, error)
}

// AuthRequired rejects requests without a valid bearer token and exposes the
// resolved identity to downstream handlers.
func AuthRequired(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
		ident, err := auth.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxIdentityKey, ident)
		c.Next()
	}
}

// identityFrom returns the identity AuthRequired stored on the context.
func identityFrom(c *gin.Context) directory.Identity {
	v, _ := c.Get(ctxIdentityKey)
	ident, _ := v.(directory.Identity)
	return ident
}
