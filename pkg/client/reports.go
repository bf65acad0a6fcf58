package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// Report types accepted by GenerateReport.
const (
	ReportSummary    = "summary"
	ReportIncidents  = "incidents"
	ReportCompliance = "compliance"
)

// PluginOverview is a per-plugin row in a summary report.
type PluginOverview struct {
	PluginID   string            `json:"plugin_id"`
	Score      int               `json:"score"`
	RiskLevel  models.RiskLevel  `json:"risk_level"`
	TrustLevel models.TrustLevel `json:"trust_level"`
	Allowed    bool              `json:"allowed"`
	Retired    bool              `json:"retired"`
	Violations int               `json:"violations"`
	SandboxID  string            `json:"sandbox_id,omitempty"`
}

// ControlResult is a per-control outcome in a compliance report.
type ControlResult struct {
	ControlID   string `json:"control_id"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Passed      bool   `json:"passed"`
	Finding     string `json:"finding,omitempty"`
}

// ComplianceReport is a framework assessment over a reporting period.
type ComplianceReport struct {
	ID           string          `json:"id"`
	Framework    string          `json:"framework"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	OverallScore int             `json:"overall_score"`
	Controls     []ControlResult `json:"controls"`
	Violations   []string        `json:"violations,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// SecurityReport is the envelope for all report types.
type SecurityReport struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedAt time.Time `json:"generated_at"`

	Metrics    *AuditMetrics             `json:"metrics,omitempty"`
	Plugins    []PluginOverview          `json:"plugins,omitempty"`
	Incidents  []models.SecurityIncident `json:"incidents,omitempty"`
	Compliance *ComplianceReport         `json:"compliance,omitempty"`
}

// GenerateReport builds a security report. framework is only used for
// compliance reports; from and to bound the reporting period.
func (c *APIClient) GenerateReport(ctx context.Context, reportType, framework string, from, to time.Time) (*SecurityReport, error) {
	values := url.Values{}
	if framework != "" {
		values.Set("framework", framework)
	}
	if !from.IsZero() {
		values.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		values.Set("to", to.Format(time.RFC3339))
	}

	path := fmt.Sprintf("%s/%s", APIPathReports, url.PathEscape(reportType))
	if query := values.Encode(); query != "" {
		path += "?" + query
	}

	var report SecurityReport
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListComplianceFrameworks returns the framework names the server can
// assess.
func (c *APIClient) ListComplianceFrameworks(ctx context.Context) ([]string, error) {
	var frameworks []string
	if err := c.doRequest(ctx, http.MethodGet, APIPathFrameworks, nil, &frameworks); err != nil {
		return nil, err
	}
	return frameworks, nil
}
