package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/models"
)

func incidentTitles(incidents []models.SecurityIncident) []string {
	titles := make([]string, 0, len(incidents))
	for _, i := range incidents {
		titles = append(titles, i.Title)
	}
	return titles
}

func TestCriticalEventOpensIncident(t *testing.T) {
	svc := newTestService()

	event := svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventDataExfiltration,
		Severity: models.SeverityCritical,
		PluginID: "demo-plugin",
		Message:  "bulk outbound transfer to unknown host",
	})

	incidents := svc.ListIncidents("")
	require.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Contains(t, incident.Title, "Critical event")
	assert.Equal(t, models.IncidentEscalated, incident.Status, "critical incidents escalate on creation")
	assert.Equal(t, []string{event.ID}, incident.EventIDs)

	// The trigger also records an INCIDENT_UPDATE marker event.
	updates := svc.ListEvents(EventFilter{Type: models.EventIncidentUpdate})
	require.Len(t, updates, 1)
	assert.Equal(t, incident.ID, updates[0].Details["incident_id"])
}

func TestSandboxViolationEventsAreLeftToContainment(t *testing.T) {
	svc := newTestService()

	// The violation response path opens the incident for sandbox
	// violations; the event trigger must stay out of the way or one
	// violation would produce two incidents.
	svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventSandboxViolation,
		Severity: models.SeverityCritical,
		PluginID: "demo-plugin",
		Message:  "attempted escape from sandbox",
	})

	assert.Empty(t, svc.ListIncidents(""))
}

func TestHighPolicyViolationOpensIncident(t *testing.T) {
	svc := newTestService()

	svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventPolicyViolation,
		Severity: models.SeverityHigh,
		PluginID: "demo-plugin",
		Message:  "network egress denied by policy",
	})

	incidents := svc.ListIncidents("")
	require.Len(t, incidents, 1)
	assert.Equal(t, "Policy violation", incidents[0].Title)
	assert.Equal(t, models.SeverityHigh, incidents[0].Severity)
}

func TestLowPolicyViolationDoesNotOpenIncident(t *testing.T) {
	svc := newTestService()

	svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventPolicyViolation,
		Severity: models.SeverityLow,
		Message:  "minor policy drift",
	})

	assert.Empty(t, svc.ListIncidents(""))
}

func TestThreatIndicatorMatch(t *testing.T) {
	svc := newTestService(WithThreatIndicators([]ThreatIndicator{
		{ID: "TI-7", Description: "known dropper URL", Substring: "evil.example.com"},
	}))

	svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginExecution,
		Severity: models.SeverityMedium,
		PluginID: "demo-plugin",
		Message:  "fetch from evil.example.com blocked",
	})

	incidents := svc.ListIncidents("")
	require.Len(t, incidents, 1)
	assert.Contains(t, incidents[0].Title, "TI-7")
	assert.Equal(t, int64(1), svc.GetMetrics().ThreatIntelMatches)
}

func TestThreatIndicatorSourceIPMatch(t *testing.T) {
	svc := newTestService(WithThreatIndicators([]ThreatIndicator{
		{ID: "TI-9", Description: "known hostile address", SourceIP: "203.0.113.7"},
	}))

	svc.RecordEvent(models.SecurityEvent{
		Type:     models.EventLogin,
		Severity: models.SeverityInfo,
		Message:  "login attempt",
		Context:  models.SecurityContext{SourceIP: "203.0.113.7"},
	})

	require.Len(t, svc.ListIncidents(""), 1)
}

func TestCorrelatedBurstOpensSingleIncident(t *testing.T) {
	svc := newTestService()

	for i := 0; i < 4; i++ {
		svc.RecordEvent(models.SecurityEvent{
			Type:     models.EventPermissionDenied,
			Severity: models.SeverityMedium,
			PluginID: "noisy-plugin",
			Message:  "denied filesystem write",
		})
	}

	incidents := svc.ListIncidents("")
	require.Len(t, incidents, 1, "a consumed correlation group must not reopen")
	incident := incidents[0]
	assert.Contains(t, incident.Title, "plugin:noisy-plugin")
	assert.GreaterOrEqual(t, len(incident.EventIDs), 3)
}

func TestCorrelationWindowExcludesOldEvents(t *testing.T) {
	svc := newTestService(WithCorrelationWindow(time.Minute))
	old := time.Now().Add(-time.Hour)

	svc.RecordEvent(models.SecurityEvent{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, PluginID: "p", RecordedAt: old})
	svc.RecordEvent(models.SecurityEvent{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, PluginID: "p", RecordedAt: old.Add(time.Second)})
	svc.RecordEvent(models.SecurityEvent{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, PluginID: "p"})

	assert.Empty(t, svc.ListIncidents(""), "events outside the window must not correlate")
}

func TestAnomalyDetection(t *testing.T) {
	svc := newTestService(WithCorrelationWindow(time.Minute))
	base := time.Now().Add(-2 * time.Hour)

	// Long, quiet history establishes the baseline rate.
	for i := 0; i < 10; i++ {
		svc.RecordEvent(models.SecurityEvent{
			Type:       models.EventLogin,
			Severity:   models.SeverityInfo,
			RecordedAt: base.Add(time.Duration(i) * 10 * time.Minute),
		})
	}

	// A sudden burst of one type inside a single window.
	for i := 0; i < 5; i++ {
		svc.RecordEvent(models.SecurityEvent{
			Type:     models.EventPluginExecution,
			Severity: models.SeverityLow,
			Message:  "execution burst",
		})
	}

	m := svc.GetMetrics()
	assert.Equal(t, int64(1), m.AnomaliesDetected)

	incidents := svc.ListIncidents("")
	require.Len(t, incidents, 1)
	assert.Contains(t, incidents[0].Title, "Anomalous activity")

	markers := svc.ListEvents(EventFilter{Type: models.EventAnomaly})
	require.Len(t, markers, 1)
	assert.Contains(t, markers[0].Details, "anomaly_score")
}
