package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// redactedHeaders are never written to logs verbatim.
var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
}

// bodyCapture tees the response body into a buffer so it can be logged
// after the handler chain completes.
type bodyCapture struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// LoggingMiddleware emits one structured log line per request. Bodies
// and headers are opt-in because plugin payloads can be large and may
// carry secrets.
type LoggingMiddleware struct {
	logger       *logrus.Logger
	requestBody  bool
	responseBody bool
	headers      bool
	maxBody      int
}

// LoggingOption configures the logging middleware
type LoggingOption func(*LoggingMiddleware)

// WithRequestBodyLogging enables logging of request bodies
func WithRequestBodyLogging(enabled bool) LoggingOption {
	return func(m *LoggingMiddleware) { m.requestBody = enabled }
}

// WithResponseBodyLogging enables logging of response bodies
func WithResponseBodyLogging(enabled bool) LoggingOption {
	return func(m *LoggingMiddleware) { m.responseBody = enabled }
}

// WithHeaderLogging enables logging of request headers
func WithHeaderLogging(enabled bool) LoggingOption {
	return func(m *LoggingMiddleware) { m.headers = enabled }
}

// WithMaxBodyLogSize caps how many body bytes end up in a log line
func WithMaxBodyLogSize(sizeBytes int) LoggingOption {
	return func(m *LoggingMiddleware) { m.maxBody = sizeBytes }
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *logrus.Logger, opts ...LoggingOption) *LoggingMiddleware {
	m := &LoggingMiddleware{
		logger:  logger,
		headers: true,
		maxBody: 1024,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Logger returns the gin handler.
func (m *LoggingMiddleware) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var requestBody []byte
		if m.requestBody && c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			requestBody = clip(raw, m.maxBody)
		}

		var capture *bodyCapture
		if m.responseBody {
			capture = &bodyCapture{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
			c.Writer = capture
		}

		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       fullPath(c),
			"request_id": c.GetString("request_id"),
			"user_agent": c.Request.UserAgent(),
			"handler":    c.HandlerName(),
		}
		if m.headers {
			fields["request_headers"] = m.collectHeaders(c)
		}
		if len(requestBody) > 0 {
			fields["request_body"] = string(requestBody)
		}
		if capture != nil {
			fields["response_body"] = string(clip(capture.buf.Bytes(), m.maxBody))
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields["error"] = errs
		}

		entry := m.logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request processed")
		}
	}
}

func (m *LoggingMiddleware) collectHeaders(c *gin.Context) map[string][]string {
	headers := make(map[string][]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if redactedHeaders[name] {
			headers[name] = []string{"[REDACTED]"}
			continue
		}
		headers[name] = values
	}
	return headers
}

func fullPath(c *gin.Context) string {
	if raw := c.Request.URL.RawQuery; raw != "" {
		return c.Request.URL.Path + "?" + raw
	}
	return c.Request.URL.Path
}

func clip(b []byte, max int) []byte {
	if max > 0 && len(b) > max {
		return b[:max]
	}
	return b
}

// RequestIDMiddleware tags every request with an id, honoring one the
// caller already supplied so traces can span services.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
