package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RevocationCheck reports whether a token has been revoked (logout).
type RevocationCheck func(ctx context.Context, token string) (bool, error)

// ContextKey is where RequireUser stores the caller's claims.
const ContextKey = "claims"

// RequireUser enforces a valid session token, checking the session cookie
// first and the Authorization bearer header second, the way the original
// backend resolves credentials.
func RequireUser(signingKey, issuer string, revoked RevocationCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if cookie, err := c.Cookie("session_token"); err == nil && cookie != "" {
			token = cookie
		} else if authz := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		claims, err := Parse(token, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid session"})
			return
		}
		if revoked != nil {
			if gone, err := revoked(c.Request.Context(), token); err != nil || gone {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid session"})
				return
			}
		}

		c.Set(ContextKey, claims)
		c.Set("session_token", token)
		c.Next()
	}
}

// ClaimsFrom extracts the authenticated claims set by RequireUser.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
