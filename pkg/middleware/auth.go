package middleware

import (
	"strings"

	"campusconnect/backend/pkg/errors"
	"campusconnect/backend/pkg/jwt"
	"campusconnect/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware
const (
	ClaimsKey   = "claims"
	UserIDKey   = "userId"
	UserRoleKey = "userRole"
)

// TokenValidator validates a bearer token
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context.
// Browsers cannot set headers on websocket upgrades, so a "token" query
// parameter is accepted as well.
func JWTAuthMiddleware(validator TokenValidator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID())
		c.Set(UserRoleKey, claims.Role)
		c.Request = c.Request.WithContext(logger.ContextWithUserID(c.Request.Context(), claims.UserID()))

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return strings.TrimSpace(header)
	}
	return c.Query("token")
}

// RequireAnyRole returns middleware that requires the user to have at least one of the specified roles
func RequireAnyRole(roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
			c.Abort()
			return
		}

		if !claims.HasRole(roles...) {
			c.Error(errors.NewForbiddenError(errors.CodeForbidden, "Your role does not allow this operation"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// Claims returns the claims stored by JWTAuthMiddleware
func Claims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

// UserID returns the authenticated user id, or "" for anonymous requests
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
