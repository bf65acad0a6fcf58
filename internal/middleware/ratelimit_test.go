package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := NewRateLimitMiddleware(1, 2, logger)

	router := gin.New()
	router.GET("/ping", m.Limit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	doRequest := func(ip string) int {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp.Code
	}

	// Burst of 2 passes, third request is rejected
	assert.Equal(t, http.StatusOK, doRequest("192.0.2.1"))
	assert.Equal(t, http.StatusOK, doRequest("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest("192.0.2.1"))

	// A different client has its own budget
	assert.Equal(t, http.StatusOK, doRequest("192.0.2.2"))
}
