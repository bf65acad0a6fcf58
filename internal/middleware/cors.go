package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. "*" allows any origin and
	// "*.example.com" allows any subdomain of example.com.
	AllowOrigins []string

	// AllowMethods lists methods advertised on preflight
	AllowMethods []string

	// AllowHeaders lists non-simple request headers the client may send
	AllowHeaders []string

	// ExposeHeaders lists response headers visible to browser scripts
	ExposeHeaders []string

	// AllowCredentials permits cookies and authorization headers
	AllowCredentials bool

	// MaxAge is how long browsers may cache a preflight answer
	MaxAge time.Duration
}

// DefaultCORSConfig allows any origin without credentials.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
}

// CORS returns the middleware with the default configuration.
func CORS() gin.HandlerFunc {
	return CORSWithConfig(DefaultCORSConfig())
}

// CORSWithConfig returns the CORS middleware for the given configuration.
func CORSWithConfig(config CORSConfig) gin.HandlerFunc {
	allowed := make([]string, 0, len(config.AllowOrigins))
	for _, origin := range config.AllowOrigins {
		allowed = append(allowed, strings.ToLower(origin))
	}
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	methods := strings.Join(config.AllowMethods, ", ")
	headers := strings.Join(config.AllowHeaders, ", ")
	expose := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(config.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" || !originAllowed(allowed, origin) {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		if config.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if expose != "" {
			c.Header("Access-Control-Expose-Headers", expose)
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	origin = strings.ToLower(origin)
	for _, candidate := range allowed {
		switch {
		case candidate == "*", candidate == origin:
			return true
		case strings.HasPrefix(candidate, "*."):
			if strings.HasSuffix(origin, candidate[1:]) {
				return true
			}
		}
	}
	return false
}
