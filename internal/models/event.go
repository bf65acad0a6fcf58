package models

import (
	"fmt"
	"time"
)

// EventType classifies audit events.
type EventType string

const (
	EventLogin            EventType = "LOGIN"
	EventPermissionDenied EventType = "PERMISSION_DENIED"
	EventPluginInstall    EventType = "PLUGIN_INSTALL"
	EventPluginUninstall  EventType = "PLUGIN_UNINSTALL"
	EventPluginExecution  EventType = "PLUGIN_EXECUTION"
	EventPolicyViolation  EventType = "POLICY_VIOLATION"
	EventDataExfiltration EventType = "DATA_EXFILTRATION"
	EventSandboxViolation EventType = "SANDBOX_VIOLATION"
	EventSandboxLifecycle EventType = "SANDBOX_LIFECYCLE"
	EventAnomaly          EventType = "ANOMALY_DETECTED"
	EventIncidentUpdate   EventType = "INCIDENT_UPDATE"
)

// SecurityContext identifies the request that caused an operation. It is
// supplied by the HTTP layer and passed through unmodified into audit
// records.
type SecurityContext struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// SecurityEvent is one append-only audit record. Events are totally ordered
// by record time within a process.
type SecurityEvent struct {
	ID            string            `json:"id" gorm:"primaryKey;size:64"`
	Type          EventType         `json:"type" gorm:"size:64;index"`
	Severity      Severity          `json:"severity" gorm:"size:16;index"`
	PluginID      string            `json:"plugin_id,omitempty" gorm:"size:128;index"`
	SandboxID     string            `json:"sandbox_id,omitempty" gorm:"size:64"`
	CorrelationID string            `json:"correlation_id,omitempty" gorm:"size:64;index"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty" gorm:"serializer:json"`
	Context       SecurityContext   `json:"context" gorm:"serializer:json"`
	Resolved      bool              `json:"resolved"`
	RecordedAt    time.Time         `json:"recorded_at" gorm:"index"`
}

// IncidentStatus is the state of an incident in its lifecycle.
type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "OPEN"
	IncidentInProgress IncidentStatus = "IN_PROGRESS"
	IncidentEscalated  IncidentStatus = "ESCALATED"
	IncidentResolved   IncidentStatus = "RESOLVED"
	IncidentClosed     IncidentStatus = "CLOSED"
)

// incidentTransitions is the guarded state machine: CLOSED is only
// reachable from RESOLVED, never directly from OPEN.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentOpen:       {IncidentInProgress, IncidentEscalated, IncidentResolved},
	IncidentInProgress: {IncidentEscalated, IncidentResolved},
	IncidentEscalated:  {IncidentInProgress, IncidentResolved},
	IncidentResolved:   {IncidentClosed},
	IncidentClosed:     {},
}

// CanTransitionTo reports whether the status may advance to next.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range incidentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrInvalidTransition builds the typed error for a rejected transition.
func ErrInvalidTransition(from, to IncidentStatus) error {
	return fmt.Errorf("invalid incident transition %s -> %s", from, to)
}

// ImpactAssessment estimates the blast radius of an incident.
type ImpactAssessment struct {
	AffectedPlugins []string `json:"affected_plugins,omitempty"`
	AffectedUsers   int      `json:"affected_users"`
	DataCompromised bool     `json:"data_compromised"`
	ServiceDegraded bool     `json:"service_degraded"`
	Summary         string   `json:"summary,omitempty"`
}

// TimelineEntry is one recorded action on an incident.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes,omitempty"`
}

// SecurityIncident aggregates one or more related security events into a
// triaged record with a guarded status state machine.
type SecurityIncident struct {
	ID          string           `json:"id" gorm:"primaryKey;size:64"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Severity    Severity         `json:"severity" gorm:"size:16;index"`
	Status      IncidentStatus   `json:"status" gorm:"size:16;index"`
	PluginID    string           `json:"plugin_id,omitempty" gorm:"size:128;index"`
	EventIDs    []string         `json:"event_ids" gorm:"serializer:json"`
	Impact      ImpactAssessment `json:"impact" gorm:"serializer:json"`
	Timeline    []TimelineEntry  `json:"timeline" gorm:"serializer:json"`
	AssignedTo  string           `json:"assigned_to,omitempty"`
	CreatedAt   time.Time        `json:"created_at" gorm:"index"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}
