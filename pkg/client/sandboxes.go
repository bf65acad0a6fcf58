package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// Sandbox is the API view of a live sandbox.
type Sandbox struct {
	ID         string                     `json:"id"`
	PluginID   string                     `json:"plugin_id"`
	PolicyID   string                     `json:"policy_id"`
	State      models.SandboxState        `json:"state"`
	Metrics    models.SandboxMetrics      `json:"metrics"`
	Violations []models.SecurityViolation `json:"violations,omitempty"`
}

// ListSandboxes returns all live sandboxes.
func (c *APIClient) ListSandboxes(ctx context.Context) ([]Sandbox, error) {
	var sandboxes []Sandbox
	if err := c.doRequest(ctx, http.MethodGet, APIPathSandboxes, nil, &sandboxes); err != nil {
		return nil, err
	}
	return sandboxes, nil
}

// GetSandbox returns the sandbox of one plugin.
func (c *APIClient) GetSandbox(ctx context.Context, pluginID string) (*Sandbox, error) {
	var sb Sandbox
	path := fmt.Sprintf("%s/%s", APIPathSandboxes, url.PathEscape(pluginID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// StopSandbox stops and removes the sandbox of one plugin.
func (c *APIClient) StopSandbox(ctx context.Context, pluginID string) error {
	path := fmt.Sprintf("%s/%s", APIPathSandboxes, url.PathEscape(pluginID))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}
