// Package models defines the shared data model for the plugin security
// pipeline: severities, trust levels, analysis findings, certificates,
// signatures, policies, audit events, incidents and security profiles.
package models

// Severity classifies analysis findings and sandbox violations.
type Severity string

const (
	// SeverityCritical findings block installation and terminate sandboxes
	SeverityCritical Severity = "CRITICAL"
	// SeverityHigh findings deny installation and throttle sandboxes
	SeverityHigh Severity = "HIGH"
	// SeverityMedium findings lower the score but do not block
	SeverityMedium Severity = "MEDIUM"
	// SeverityLow findings are informational with a small score impact
	SeverityLow Severity = "LOW"
	// SeverityInfo findings carry no score impact
	SeverityInfo Severity = "INFO"
)

// severityRanks orders severities from most to least severe
var severityRanks = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns a comparable ordinal for the severity (higher is more severe).
// Unknown severities rank below INFO.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ErrorSeverity classifies verification errors.
type ErrorSeverity string

const (
	// ErrorSeverityFatal errors force an invalid verification result
	ErrorSeverityFatal ErrorSeverity = "FATAL"
	// ErrorSeverityError errors degrade trust without forcing invalidity
	ErrorSeverityError ErrorSeverity = "ERROR"
	// ErrorSeverityWarning entries are advisory only
	ErrorSeverityWarning ErrorSeverity = "WARNING"
)

// TrustLevel is the ordinal trust classification derived from the trust
// anchor terminating a certificate chain.
type TrustLevel string

const (
	TrustUntrusted  TrustLevel = "UNTRUSTED"
	TrustLow        TrustLevel = "LOW"
	TrustMedium     TrustLevel = "MEDIUM"
	TrustHigh       TrustLevel = "HIGH"
	TrustEnterprise TrustLevel = "ENTERPRISE"
	TrustSystem     TrustLevel = "SYSTEM"
)

var trustRanks = map[TrustLevel]int{
	TrustUntrusted:  0,
	TrustLow:        1,
	TrustMedium:     2,
	TrustHigh:       3,
	TrustEnterprise: 4,
	TrustSystem:     5,
}

// Rank returns a comparable ordinal for the trust level. Unknown levels
// rank as UNTRUSTED.
func (t TrustLevel) Rank() int {
	if r, ok := trustRanks[t]; ok {
		return r
	}
	return 0
}

// AtLeast reports whether t is at least as trusted as other.
func (t TrustLevel) AtLeast(other TrustLevel) bool {
	return t.Rank() >= other.Rank()
}

// RiskLevel is the per-plugin risk classification computed from the
// current violation set and security score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// VulnerabilityType identifies the class of a static-analysis finding.
type VulnerabilityType string

const (
	VulnSQLInjection          VulnerabilityType = "SQL_INJECTION"
	VulnCommandInjection      VulnerabilityType = "COMMAND_INJECTION"
	VulnCodeInjection         VulnerabilityType = "CODE_INJECTION"
	VulnHardcodedSecret       VulnerabilityType = "HARDCODED_SECRET"
	VulnWeakCrypto            VulnerabilityType = "WEAK_CRYPTO"
	VulnPathTraversal         VulnerabilityType = "PATH_TRAVERSAL"
	VulnUnsafeDeserialization VulnerabilityType = "UNSAFE_DESERIALIZATION"
	VulnCrossSiteScripting    VulnerabilityType = "CROSS_SITE_SCRIPTING"
	VulnDataFlow              VulnerabilityType = "UNSANITIZED_DATA_FLOW"
	VulnTaintFlow             VulnerabilityType = "TAINT_FLOW"
	VulnPrototypePollution    VulnerabilityType = "PROTOTYPE_POLLUTION"
)

// ViolationType identifies the class of a sandbox security violation.
type ViolationType string

const (
	ViolationResourceExhaustion ViolationType = "RESOURCE_EXHAUSTION"
	ViolationNetwork            ViolationType = "NETWORK_VIOLATION"
	ViolationFilesystem         ViolationType = "FILESYSTEM_VIOLATION"
	ViolationCodeInjection      ViolationType = "CODE_INJECTION"
	ViolationPolicy             ViolationType = "POLICY_VIOLATION"
	ViolationPermission         ViolationType = "PERMISSION_VIOLATION"
	ViolationDataExfiltration   ViolationType = "DATA_EXFILTRATION"
	ViolationSandboxEscape      ViolationType = "SANDBOX_ESCAPE"
	ViolationInternalError      ViolationType = "INTERNAL_ERROR"
)
