package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// InstallPluginRequest is the payload for a plugin installation.
type InstallPluginRequest struct {
	PluginID string `json:"plugin_id"`
	Path     string `json:"path"`
}

// InstallationResult is the security decision returned for an
// installation attempt.
type InstallationResult struct {
	PluginID        string                         `json:"plugin_id"`
	Allowed         bool                           `json:"allowed"`
	Score           int                            `json:"score"`
	RiskLevel       models.RiskLevel               `json:"risk_level"`
	TrustLevel      models.TrustLevel              `json:"trust_level"`
	SandboxID       string                         `json:"sandbox_id,omitempty"`
	Violations      []models.SecurityVulnerability `json:"violations,omitempty"`
	Errors          []models.VerificationError     `json:"errors,omitempty"`
	Restrictions    []models.Restriction           `json:"restrictions,omitempty"`
	Recommendations []string                       `json:"recommendations,omitempty"`
	Reason          string                         `json:"reason,omitempty"`
}

// OperationCheck is the runtime decision for a single plugin operation.
type OperationCheck struct {
	Allowed   bool   `json:"allowed"`
	Throttled bool   `json:"throttled"`
	Reason    string `json:"reason,omitempty"`
}

// InstallPlugin submits a plugin for the full security pipeline. The
// returned result carries the decision; a denied plugin is not an error.
func (c *APIClient) InstallPlugin(ctx context.Context, req *InstallPluginRequest) (*InstallationResult, error) {
	var result InstallationResult
	if err := c.doRequest(ctx, http.MethodPost, APIPathPlugins, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPlugins returns the security profiles of known plugins.
func (c *APIClient) ListPlugins(ctx context.Context, includeRetired bool) ([]models.PluginSecurityProfile, error) {
	path := APIPathPlugins
	if includeRetired {
		path += "?include_retired=true"
	}
	var profiles []models.PluginSecurityProfile
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// GetPlugin returns the security profile of one plugin.
func (c *APIClient) GetPlugin(ctx context.Context, pluginID string) (*models.PluginSecurityProfile, error) {
	var profile models.PluginSecurityProfile
	path := fmt.Sprintf("%s/%s", APIPathPlugins, url.PathEscape(pluginID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UninstallPlugin removes a plugin, stopping its sandbox and retiring
// its profile.
func (c *APIClient) UninstallPlugin(ctx context.Context, pluginID string) error {
	path := fmt.Sprintf("%s/%s", APIPathPlugins, url.PathEscape(pluginID))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// CheckOperation asks whether a plugin may perform an operation now.
func (c *APIClient) CheckOperation(ctx context.Context, pluginID, operation string) (*OperationCheck, error) {
	var check OperationCheck
	path := fmt.Sprintf("%s/%s/operations", APIPathPlugins, url.PathEscape(pluginID))
	body := map[string]string{"operation": operation}
	if err := c.doRequest(ctx, http.MethodPost, path, body, &check); err != nil {
		return nil, err
	}
	return &check, nil
}
