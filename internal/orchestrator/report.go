package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// Report types accepted by GenerateSecurityReport.
const (
	ReportSummary    = "summary"
	ReportIncidents  = "incidents"
	ReportCompliance = "compliance"
)

// PluginOverview is the per-plugin row in a summary report.
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

// SecurityReport is the envelope for all report types.
type SecurityReport struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedAt time.Time `json:"generated_at"`

	Metrics    *audit.Metrics            `json:"metrics,omitempty"`
	Plugins    []PluginOverview          `json:"plugins,omitempty"`
	Incidents  []models.SecurityIncident `json:"incidents,omitempty"`
	Compliance *audit.ComplianceReport   `json:"compliance,omitempty"`
}

// GenerateSecurityReport builds a report over the period. The compliance
// type takes the framework name as its argument (e.g. "SOC2").
func (o *Orchestrator) GenerateSecurityReport(reportType, argument string, from, to time.Time) (*SecurityReport, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-7 * 24 * time.Hour)
	}

	report := &SecurityReport{
		ID:          uuid.New().String(),
		Type:        reportType,
		PeriodStart: from,
		PeriodEnd:   to,
		GeneratedAt: time.Now(),
	}

	switch reportType {
	case ReportSummary:
		metrics := o.audit.GetMetrics()
		report.Metrics = &metrics
		for _, profile := range o.profiles.list(true) {
			report.Plugins = append(report.Plugins, PluginOverview{
				PluginID:   profile.PluginID,
				Score:      profile.Score,
				RiskLevel:  profile.RiskLevel,
				TrustLevel: profile.TrustLevel,
				Allowed:    profile.Allowed,
				Retired:    profile.Retired,
				Violations: len(profile.Violations),
				SandboxID:  profile.SandboxID,
			})
		}

	case ReportIncidents:
		for _, incident := range o.audit.ListIncidents("") {
			if incident.CreatedAt.Before(from) || incident.CreatedAt.After(to) {
				continue
			}
			report.Incidents = append(report.Incidents, incident)
		}

	case ReportCompliance:
		compliance, err := o.audit.GenerateComplianceReport(argument, from, to)
		if err != nil {
			return nil, err
		}
		report.Compliance = compliance

	default:
		return nil, fmt.Errorf("unsupported report type %q", reportType)
	}

	return report, nil
}
