package models

import "time"

// ComplianceStatus is the compliance verdict carried by a profile.
type ComplianceStatus string

const (
	CompliancePass    ComplianceStatus = "COMPLIANT"
	ComplianceFail    ComplianceStatus = "NON_COMPLIANT"
	ComplianceUnknown ComplianceStatus = "UNKNOWN"
)

// RestrictionType classifies a generated restriction.
type RestrictionType string

const (
	RestrictionNetworkDenyAll  RestrictionType = "NETWORK_DENY_ALL"
	RestrictionFilesystemDeny  RestrictionType = "FILESYSTEM_DENY_SENSITIVE"
	RestrictionExecutionLimits RestrictionType = "EXECUTION_LIMITS_TIGHTENED"
)

// Restriction is one additive constraint layered on top of policy defaults.
// Restrictions never replace policy defaults.
type Restriction struct {
	Type   RestrictionType `json:"type"`
	Reason string          `json:"reason"`
	Paths  []string        `json:"paths,omitempty"`
}

// Assessment is one historical evaluation of a plugin.
type Assessment struct {
	Timestamp  time.Time  `json:"timestamp"`
	Score      int        `json:"score"`
	RiskLevel  RiskLevel  `json:"risk_level"`
	TrustLevel TrustLevel `json:"trust_level"`
	Allowed    bool       `json:"allowed"`
	Findings   int        `json:"findings"`
	Reason     string     `json:"reason,omitempty"`
}

// PluginSecurityProfile is the durable verdict for one plugin. Profiles are
// created on the first installation attempt, updated on every
// re-assessment, and never silently deleted; uninstalling marks the profile
// retired for audit continuity.
type PluginSecurityProfile struct {
	PluginID     string              `json:"plugin_id" gorm:"primaryKey;size:128"`
	Version      int64               `json:"version"`
	Score        int                 `json:"score"`
	RiskLevel    RiskLevel           `json:"risk_level" gorm:"size:16"`
	TrustLevel   TrustLevel          `json:"trust_level" gorm:"size:16"`
	Allowed      bool                `json:"allowed"`
	Restrictions []Restriction       `json:"restrictions" gorm:"serializer:json"`
	Compliance   ComplianceStatus    `json:"compliance" gorm:"size:16"`
	Assessments  []Assessment        `json:"assessments" gorm:"serializer:json"`
	Violations   []SecurityViolation `json:"violations" gorm:"serializer:json"`
	IncidentIDs  []string            `json:"incident_ids" gorm:"serializer:json"`
	SandboxID    string              `json:"sandbox_id,omitempty" gorm:"size:64"`
	Retired      bool                `json:"retired"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Clone returns a deep copy safe for concurrent readers.
func (p *PluginSecurityProfile) Clone() *PluginSecurityProfile {
	cp := *p
	cp.Restrictions = append([]Restriction(nil), p.Restrictions...)
	cp.Assessments = append([]Assessment(nil), p.Assessments...)
	cp.Violations = append([]SecurityViolation(nil), p.Violations...)
	cp.IncidentIDs = append([]string(nil), p.IncidentIDs...)
	return &cp
}
