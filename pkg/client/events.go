package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// EventFilter narrows event listings. Zero values are ignored.
type EventFilter struct {
	From        time.Time
	To          time.Time
	Type        models.EventType
	MinSeverity models.Severity
	PluginID    string
	Limit       int
}

// AuditMetrics is the aggregate view returned by the audit system.
type AuditMetrics struct {
	EventsByType       map[models.EventType]int64      `json:"events_by_type"`
	EventsBySeverity   map[models.Severity]int64       `json:"events_by_severity"`
	IncidentsByStatus  map[models.IncidentStatus]int64 `json:"incidents_by_status"`
	TotalEvents        int64                           `json:"total_events"`
	TotalIncidents     int64                           `json:"total_incidents"`
	MeanTimeToDetect   time.Duration                   `json:"mean_time_to_detect"`
	MeanTimeToResolve  time.Duration                   `json:"mean_time_to_resolve"`
	ResolvedIncidents  int64                           `json:"resolved_incidents"`
	AnomaliesDetected  int64                           `json:"anomalies_detected"`
	ThreatIntelMatches int64                           `json:"threat_intel_matches"`
}

// query converts the filter to URL query parameters.
func (f EventFilter) query() url.Values {
	values := url.Values{}
	if !f.From.IsZero() {
		values.Set("from", f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		values.Set("to", f.To.Format(time.RFC3339))
	}
	if f.Type != "" {
		values.Set("type", string(f.Type))
	}
	if f.MinSeverity != "" {
		values.Set("min_severity", string(f.MinSeverity))
	}
	if f.PluginID != "" {
		values.Set("plugin_id", f.PluginID)
	}
	if f.Limit > 0 {
		values.Set("per_page", fmt.Sprintf("%d", f.Limit))
	}
	return values
}

// ListEvents returns security events matching the filter.
func (c *APIClient) ListEvents(ctx context.Context, filter EventFilter) ([]models.SecurityEvent, error) {
	path := APIPathEvents
	if query := filter.query().Encode(); query != "" {
		path += "?" + query
	}
	var events []models.SecurityEvent
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent returns one security event by ID.
func (c *APIClient) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	path := fmt.Sprintf("%s/%s", APIPathEvents, url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListIncidents returns security incidents, optionally filtered by status.
func (c *APIClient) ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.SecurityIncident, error) {
	path := APIPathIncidents
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var incidents []models.SecurityIncident
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

// GetIncident returns one incident by ID.
func (c *APIClient) GetIncident(ctx context.Context, id string) (*models.SecurityIncident, error) {
	var incident models.SecurityIncident
	path := fmt.Sprintf("%s/%s", APIPathIncidents, url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// UpdateIncidentStatus moves an incident through its lifecycle. Invalid
// transitions fail with ErrConflict.
func (c *APIClient) UpdateIncidentStatus(ctx context.Context, id string, status models.IncidentStatus, notes string) (*models.SecurityIncident, error) {
	var incident models.SecurityIncident
	path := fmt.Sprintf("%s/%s/status", APIPathIncidents, url.PathEscape(id))
	body := map[string]string{"status": string(status), "notes": notes}
	if err := c.doRequest(ctx, http.MethodPut, path, body, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// AssignIncident assigns an incident to a responder.
func (c *APIClient) AssignIncident(ctx context.Context, id, assignee string) (*models.SecurityIncident, error) {
	var incident models.SecurityIncident
	path := fmt.Sprintf("%s/%s/assign", APIPathIncidents, url.PathEscape(id))
	body := map[string]string{"assignee": assignee}
	if err := c.doRequest(ctx, http.MethodPut, path, body, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// GetAuditMetrics returns aggregate audit metrics.
func (c *APIClient) GetAuditMetrics(ctx context.Context) (*AuditMetrics, error) {
	var metrics AuditMetrics
	if err := c.doRequest(ctx, http.MethodGet, APIPathAudit+"/metrics", nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}
