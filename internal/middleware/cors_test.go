package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handler)
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return router
}

func doRequest(router *gin.Engine, method, origin string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCORSDefaultConfig(t *testing.T) {
	router := corsRouter(CORS())

	t.Run("simple request", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "http://example.com", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "pong", resp.Body.String())
		assert.Equal(t, "http://example.com", resp.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		resp := doRequest(router, http.MethodOptions, "http://example.com",
			map[string]string{"Access-Control-Request-Method": "GET"})
		assert.Equal(t, http.StatusNoContent, resp.Code)
		assert.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), "GET")
	})

	t.Run("no origin header", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSCustomConfig(t *testing.T) {
	router := corsRouter(CORSWithConfig(CORSConfig{
		AllowOrigins:     []string{"http://example.com", "https://example.org"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"X-Custom-Header"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}))

	t.Run("allowed origin", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "http://example.com", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "http://example.com", resp.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "X-Request-ID", resp.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "http://unauthorized.com", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		resp := doRequest(router, http.MethodOptions, "http://example.com", map[string]string{
			"Access-Control-Request-Method":  "GET",
			"Access-Control-Request-Headers": "X-Custom-Header",
		})
		assert.Equal(t, http.StatusNoContent, resp.Code)
		assert.Equal(t, "GET, POST", resp.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "X-Custom-Header", resp.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "3600", resp.Header().Get("Access-Control-Max-Age"))
	})
}

func TestCORSWildcardOrigin(t *testing.T) {
	router := corsRouter(CORSWithConfig(CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}))

	resp := doRequest(router, http.MethodGet, "http://any-domain.com", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "http://any-domain.com", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardSubdomain(t *testing.T) {
	router := corsRouter(CORSWithConfig(CORSConfig{
		AllowOrigins: []string{"*.example.com"},
		AllowMethods: []string{"GET"},
	}))

	t.Run("matching subdomain", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "https://sub.example.com", nil)
		assert.Equal(t, "https://sub.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other domain", func(t *testing.T) {
		resp := doRequest(router, http.MethodGet, "https://example.org", nil)
		assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOriginAllowedCaseInsensitive(t *testing.T) {
	assert.True(t, originAllowed([]string{"http://example.com"}, "HTTP://Example.COM"))
	assert.False(t, originAllowed([]string{"http://example.com"}, "http://example.org"))
}
