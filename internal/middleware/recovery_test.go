package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoveryRouter(logger *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(NewRecoveryMiddleware(logger).Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("handler exploded")
	})
	router.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, "fine")
	})
	return router
}

func TestRecoveryConvertsPanicTo500(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	router := recoveryRouter(logger)

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)

	require.NotPanics(t, func() {
		router.ServeHTTP(resp, req)
	})

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "Internal Server Error")
	assert.Contains(t, resp.Body.String(), "request_id")
}

func TestRecoveryDoesNotTouchHealthyRequests(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	router := recoveryRouter(logger)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "fine", resp.Body.String())
}

func TestRecoveryLogsThePanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	router := recoveryRouter(logger)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/panic", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "handler exploded", entry.Data["panic"])
	assert.NotEmpty(t, entry.Data["stack"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

func TestIsBrokenPipe(t *testing.T) {
	assert.False(t, isBrokenPipe("plain string panic"))
	assert.False(t, isBrokenPipe(assert.AnError))
}
