package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	FullNameKey   = "full_name"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// IdentityHook is invoked with the verified claims before the request proceeds.
// Returning an error aborts the request with 500.
type IdentityHook func(c *gin.Context, claims *jwt.Claims) error

// AuthMiddleware validates JWT tokens locally.
type AuthMiddleware struct {
	tokens *jwt.Manager
	hook   IdentityHook
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *jwt.Manager, hook IdentityHook) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		hook:   hook,
	}
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := m.tokens.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		if m.hook != nil {
			if err := m.hook(c, claims); err != nil {
				response.InternalError(c, "failed to resolve identity")
				c.Abort()
				return
			}
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(FullNameKey, claims.FullName)

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return ""
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(UsernameKey); exists {
		return username.(string)
	}
	return ""
}
