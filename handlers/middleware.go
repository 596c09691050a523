package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
	"github.com/haiphandev/acadflow/services"
)

const principalKey = "principal"

// AuthMiddleware resolves the bearer token into an authz.Principal and
// stores it in the request context. Everything below this middleware can
// assume an authenticated principal.
type AuthMiddleware struct {
	Tokens *services.TokenService
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(tokens *services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{Tokens: tokens}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			c.Abort()
			return
		}

		token, err := m.Tokens.ExtractTokenFromHeader(header)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		principal, err := m.Tokens.ResolvePrincipal(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// principalFrom pulls the authenticated principal out of the gin context.
func principalFrom(c *gin.Context) (authz.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return authz.Principal{}, false
	}
	principal, ok := value.(authz.Principal)
	return principal, ok
}
