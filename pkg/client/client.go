// Package client is a Go client for the PluginSentinel admin API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API paths
const (
	APIBasePath       = "/api/v1"
	APIPathHealth     = "/health"
	APIPathPlugins    = "/plugins"
	APIPathSandboxes  = "/sandboxes"
	APIPathEvents     = "/events"
	APIPathIncidents  = "/incidents"
	APIPathAudit      = "/audit"
	APIPathReports    = "/reports"
	APIPathTrust      = "/trust"
	APIPathFrameworks = "/reports/compliance/frameworks"
)

// Common errors
var (
	ErrNotFound         = fmt.Errorf("resource not found")
	ErrUnauthorized     = fmt.Errorf("unauthorized")
	ErrForbidden        = fmt.Errorf("forbidden")
	ErrBadRequest       = fmt.Errorf("bad request")
	ErrServerError      = fmt.Errorf("server error")
	ErrTimeout          = fmt.Errorf("request timeout")
	ErrConnectionFailed = fmt.Errorf("connection failed")
	ErrConflict         = fmt.Errorf("conflict")
)

// ClientOption represents a functional option for configuring the client
type ClientOption func(*ClientConfig) error

// ClientConfig represents the configuration for the client
type ClientConfig struct {
	BaseURL               string
	Timeout               time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
	UserAgent             string
	Token                 string
	HTTPClient            *http.Client
	Headers               map[string]string
	TLSInsecureSkipVerify bool
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:    "http://localhost:8080",
		Timeout:    time.Second * 30,
		MaxRetries: 3,
		RetryDelay: time.Second * 1,
		UserAgent:  "PluginSentinelClient/1.0",
		Headers:    make(map[string]string),
	}
}

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(config *ClientConfig) error {
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		if _, err := url.Parse(baseURL); err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		config.BaseURL = baseURL
		return nil
	}
}

// WithTimeout sets the timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(config *ClientConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		config.Timeout = timeout
		return nil
	}
}

// WithRetryOptions sets the retry options
func WithRetryOptions(maxRetries int, retryDelay time.Duration) ClientOption {
	return func(config *ClientConfig) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries must be non-negative")
		}
		if retryDelay < 0 {
			return fmt.Errorf("retry delay must be non-negative")
		}
		config.MaxRetries = maxRetries
		config.RetryDelay = retryDelay
		return nil
	}
}

// WithUserAgent sets the user agent
func WithUserAgent(userAgent string) ClientOption {
	return func(config *ClientConfig) error {
		if userAgent == "" {
			return fmt.Errorf("user agent cannot be empty")
		}
		config.UserAgent = userAgent
		return nil
	}
}

// WithToken sets the bearer token used for authentication
func WithToken(token string) ClientOption {
	return func(config *ClientConfig) error {
		config.Token = token
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(config *ClientConfig) error {
		if client == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		config.HTTPClient = client
		return nil
	}
}

// WithHeader adds an HTTP header
func WithHeader(key, value string) ClientOption {
	return func(config *ClientConfig) error {
		if key == "" {
			return fmt.Errorf("header key cannot be empty")
		}
		if config.Headers == nil {
			config.Headers = make(map[string]string)
		}
		config.Headers[key] = value
		return nil
	}
}

// WithTLSInsecureSkipVerify sets the TLS insecure skip verify option
func WithTLSInsecureSkipVerify(skip bool) ClientOption {
	return func(config *ClientConfig) error {
		config.TLSInsecureSkipVerify = skip
		return nil
	}
}

// apiError is the error payload of the standard response envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiResponse is the standard response envelope used by the server.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

// APIClient talks to the PluginSentinel admin API.
type APIClient struct {
	config     ClientConfig
	httpClient *http.Client
	token      string
}

// NewClient creates a new API client
func NewClient(opts ...ClientOption) (*APIClient, error) {
	config := DefaultClientConfig()

	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, fmt.Errorf("option application failed: %w", err)
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: config.TLSInsecureSkipVerify},
		}
		httpClient = &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		}
	}

	return &APIClient{
		config:     config,
		httpClient: httpClient,
		token:      config.Token,
	}, nil
}

// SetToken replaces the bearer token used for authentication.
func (c *APIClient) SetToken(token string) {
	c.token = token
}

// buildURL builds the full URL for a given path
func (c *APIClient) buildURL(path string) string {
	baseURL := strings.TrimSuffix(c.config.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s%s%s", baseURL, APIBasePath, path)
}

// newRequest creates a new HTTP request
func (c *APIClient) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// statusError maps an HTTP status code to a sentinel error.
func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusConflict:
		return ErrConflict
	default:
		return ErrServerError
	}
}

// handleResponse decodes the standard envelope into out.
func (c *APIClient) handleResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", statusError(resp.StatusCode), err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.StatusCode == http.StatusNoContent || out == nil {
			return nil
		}
		var envelope apiResponse
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Success {
			if len(envelope.Data) == 0 {
				return nil
			}
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("failed to decode response data: %w", err)
			}
			return nil
		}
		// Fall back to decoding the raw body for unwrapped payloads.
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
		return nil
	}

	baseErr := statusError(resp.StatusCode)
	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" {
			return fmt.Errorf("%w: %s: %s", baseErr, envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("%w: %s", baseErr, envelope.Error.Message)
	}

	snippet := string(body)
	if len(snippet) > 100 {
		snippet = snippet[:100] + "..."
	}
	return fmt.Errorf("%w (status %d, body: %s)", baseErr, resp.StatusCode, snippet)
}

// Do sends an HTTP request, retrying timeouts and 5xx responses.
func (c *APIClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	var resp *http.Response
	var err error
	for retry := 0; retry <= c.config.MaxRetries; retry++ {
		if reqBody != nil {
			req.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
				if retry < c.config.MaxRetries {
					select {
					case <-time.After(c.config.RetryDelay):
						continue
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		if resp.StatusCode >= 500 && retry < c.config.MaxRetries {
			resp.Body.Close()
			select {
			case <-time.After(c.config.RetryDelay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		break
	}

	return resp, err
}

// doRequest is a helper to make a request and decode the response.
func (c *APIClient) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.handleResponse(resp, out)
}

// Health checks the API health
func (c *APIClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.doRequest(ctx, http.MethodGet, APIPathHealth, nil, &result)
	return result, err
}
