package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/threatflux/pluginsentinel/internal/auth"
)

// Authentication errors
var (
	ErrAuthHeaderMissing = errors.New("authorization header is required")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	ErrTokenVerification = errors.New("failed to verify token")
	ErrInsufficientRole  = errors.New("insufficient role permissions")
)

// RoleAdmin is the role required for administrative endpoints.
const RoleAdmin = "admin"

// AuthMiddleware provides JWT authentication for routes
type AuthMiddleware struct {
	authService auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService auth.Service) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireAuthentication middleware ensures that the request has a valid JWT token
func (m *AuthMiddleware) RequireAuthentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenDetails, err := m.extractAndValidateToken(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			c.Abort()
			return
		}

		c.Set("subject", tokenDetails.Subject)
		c.Set("roles", tokenDetails.Roles)
		c.Set("tokenDetails", tokenDetails)

		c.Next()
	}
}

// RequireRole middleware ensures that the caller has at least one of the required roles
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctxRoles, exists := c.Get("roles")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		callerRoles, ok := ctxRoles.([]string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "invalid role format in token",
			})
			c.Abort()
			return
		}

		for _, callerRole := range callerRoles {
			for _, requiredRole := range roles {
				if callerRole == requiredRole {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": fmt.Sprintf("access denied: requires one of these roles: %s", strings.Join(roles, ", ")),
		})
		c.Abort()
	}
}

// RequireAdmin middleware ensures that the caller has the admin role
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return m.RequireRole(RoleAdmin)
}

// extractAndValidateToken extracts the JWT token from the Authorization header and validates it
func (m *AuthMiddleware) extractAndValidateToken(c *gin.Context) (*auth.TokenDetails, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, ErrAuthHeaderMissing
	}

	headerParts := strings.Split(authHeader, " ")
	if len(headerParts) != 2 || headerParts[0] != "Bearer" {
		return nil, ErrInvalidAuthHeader
	}

	tokenDetails, err := m.authService.ValidateToken(headerParts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}

	return tokenDetails, nil
}

// GetSubject extracts the authenticated subject from the request context
func GetSubject(c *gin.Context) (string, error) {
	value, exists := c.Get("subject")
	if !exists {
		return "", errors.New("subject not found in context")
	}

	subject, ok := value.(string)
	if !ok {
		return "", errors.New("subject in context has invalid type")
	}

	return subject, nil
}

// GetRoles extracts the caller roles from the request context
func GetRoles(c *gin.Context) ([]string, error) {
	value, exists := c.Get("roles")
	if !exists {
		return nil, errors.New("roles not found in context")
	}

	roles, ok := value.([]string)
	if !ok {
		return nil, errors.New("roles in context have invalid type")
	}

	return roles, nil
}

// GetTokenDetails extracts the token details from the request context
func GetTokenDetails(c *gin.Context) (*auth.TokenDetails, error) {
	value, exists := c.Get("tokenDetails")
	if !exists {
		return nil, errors.New("token details not found in context")
	}

	tokenDetails, ok := value.(*auth.TokenDetails)
	if !ok {
		return nil, errors.New("token details in context have invalid type")
	}

	return tokenDetails, nil
}

// HasRole checks if the caller has a specific role
func HasRole(c *gin.Context, role string) (bool, error) {
	roles, err := GetRoles(c)
	if err != nil {
		return false, err
	}

	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}

	return false, nil
}

// IsAdmin checks if the caller is an admin
func IsAdmin(c *gin.Context) (bool, error) {
	return HasRole(c, RoleAdmin)
}
