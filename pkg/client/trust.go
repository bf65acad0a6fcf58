package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// AddAnchorRequest registers a new trust anchor.
type AddAnchorRequest struct {
	Certificate models.PluginCertificate `json:"certificate"`
	TrustLevel  models.TrustLevel        `json:"trust_level"`
}

// VerifyRequest asks the server to verify a plugin signature in place.
type VerifyRequest struct {
	Path         string `json:"path"`
	ManifestPath string `json:"manifest_path"`
}

// ListTrustAnchors returns the registered trust anchors.
func (c *APIClient) ListTrustAnchors(ctx context.Context) ([]models.TrustAnchor, error) {
	var anchors []models.TrustAnchor
	if err := c.doRequest(ctx, http.MethodGet, APIPathTrust+"/anchors", nil, &anchors); err != nil {
		return nil, err
	}
	return anchors, nil
}

// AddTrustAnchor registers a self-signed certificate as a trust anchor.
func (c *APIClient) AddTrustAnchor(ctx context.Context, req *AddAnchorRequest) error {
	return c.doRequest(ctx, http.MethodPost, APIPathTrust+"/anchors", req, nil)
}

// RemoveTrustAnchor removes a trust anchor by certificate fingerprint.
func (c *APIClient) RemoveTrustAnchor(ctx context.Context, fingerprint string) error {
	path := fmt.Sprintf("%s/anchors/%s", APIPathTrust, url.PathEscape(fingerprint))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ListRevocations returns the revoked certificate serials.
func (c *APIClient) ListRevocations(ctx context.Context) ([]string, error) {
	var serials []string
	if err := c.doRequest(ctx, http.MethodGet, APIPathTrust+"/revocations", nil, &serials); err != nil {
		return nil, err
	}
	return serials, nil
}

// RevokeCertificate adds a certificate serial to the revocation list.
func (c *APIClient) RevokeCertificate(ctx context.Context, serial, reason string) error {
	body := map[string]string{"serial": serial, "reason": reason}
	return c.doRequest(ctx, http.MethodPost, APIPathTrust+"/revocations", body, nil)
}

// VerifyPlugin runs signature verification against a plugin on the
// server host.
func (c *APIClient) VerifyPlugin(ctx context.Context, req *VerifyRequest) (*models.VerificationResult, error) {
	var result models.VerificationResult
	if err := c.doRequest(ctx, http.MethodPost, APIPathTrust+"/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
