// Package orchestrator is the top-level plugin security facade. It runs
// code analysis and signature verification for an installation, scores
// risk, generates restrictions, maintains the per-plugin security
// profile and delegates sandboxing to the policy engine.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/analysis"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/database/repositories"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/security"
	"github.com/threatflux/pluginsentinel/internal/signing"
)

// Settings carries the orchestrator's decision switches.
type Settings struct {
	// StrictMode denies plugins scoring below 50.
	StrictMode bool

	// RequireSignatures denies plugins without a valid signature.
	RequireSignatures bool

	// RuntimeProtection creates a sandbox for allowed plugins.
	RuntimeProtection bool

	// PolicyName is the policy bound to new sandboxes.
	PolicyName string
}

// Orchestrator composes the analyzer, verifier, policy engine and audit
// system behind the install/monitor/report entry points.
type Orchestrator struct {
	analyzer  *analysis.Analyzer
	verifier  *signing.Verifier
	framework *security.Framework
	audit     *audit.Service
	profiles  *profileStore
	settings  Settings
	logger    *logrus.Logger
}

// New creates the orchestrator. repo may be nil for in-memory profiles.
func New(analyzer *analysis.Analyzer, verifier *signing.Verifier, framework *security.Framework, auditSvc *audit.Service, repo *repositories.ProfileRepository, settings Settings, options ...func(*Orchestrator)) *Orchestrator {
	o := &Orchestrator{
		analyzer:  analyzer,
		verifier:  verifier,
		framework: framework,
		audit:     auditSvc,
		settings:  settings,
		logger:    logrus.New(),
	}
	for _, option := range options {
		option(o)
	}
	o.profiles = newProfileStore(repo, o.logger)
	return o
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// Restore loads persisted profiles into the in-memory view.
func (o *Orchestrator) Restore(ctx context.Context) error {
	return o.profiles.load(ctx)
}

// InstallationResult is the full decision returned for one installation
// attempt. It always carries the violation list and recommendations so
// a plugin author can remediate.
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

// ProcessPluginInstallation evaluates a plugin end to end. Analysis and
// verification run concurrently; the decision, profile update and audit
// record always happen, and any internal fault is converted into a
// well-formed denial rather than an error.
func (o *Orchestrator) ProcessPluginInstallation(ctx context.Context, pluginID, pluginPath string, secCtx models.SecurityContext) (result *InstallationResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Error("Installation pipeline panicked")
			result = o.failClosed(ctx, pluginID, fmt.Sprintf("internal fault: %v", r), secCtx)
		}
	}()

	manifestPath := filepath.Join(pluginPath, "plugin.json")

	var (
		wg           sync.WaitGroup
		analysisRes  *analysis.Result
		analysisErr  error
		verification *models.VerificationResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		analysisRes, analysisErr = o.analyzer.Analyze(ctx, pluginPath, analysis.Options{})
	}()
	go func() {
		defer wg.Done()
		verification = o.verifier.Verify(pluginPath, manifestPath)
	}()
	wg.Wait()

	if analysisErr != nil {
		return o.failClosed(ctx, pluginID, fmt.Sprintf("analysis failed: %v", analysisErr), secCtx)
	}

	var permissions []string
	if manifest, err := models.LoadManifest(manifestPath); err == nil {
		permissions = manifest.Permissions
	}

	decision := o.framework.ValidatePlugin(security.ValidationRequest{
		PluginID:     pluginID,
		Permissions:  permissions,
		PolicyName:   o.settings.PolicyName,
		Analysis:     analysisRes,
		Verification: verification,
	})

	score := analysisRes.Score
	trust := verification.TrustLevel
	risk := riskLevel(score, analysisRes.Vulnerabilities)
	restrictions := security.GenerateRestrictions(risk, trust)

	allowed := decisionAllowed(analysisRes, verification, o.settings)
	reason := decisionReason(analysisRes, verification, o.settings)

	profile, err := o.profiles.update(ctx, pluginID, func(p *models.PluginSecurityProfile) {
		p.Score = score
		p.RiskLevel = risk
		p.TrustLevel = trust
		p.Allowed = allowed
		p.Restrictions = restrictions
		p.Retired = false
		p.Assessments = append(p.Assessments, models.Assessment{
			Timestamp:  time.Now(),
			Score:      score,
			RiskLevel:  risk,
			TrustLevel: trust,
			Allowed:    allowed,
			Findings:   len(analysisRes.Vulnerabilities),
			Reason:     reason,
		})
	})
	if err != nil {
		return o.failClosed(ctx, pluginID, fmt.Sprintf("profile update failed: %v", err), secCtx)
	}

	result = &InstallationResult{
		PluginID:        pluginID,
		Allowed:         allowed,
		Score:           score,
		RiskLevel:       risk,
		TrustLevel:      trust,
		Violations:      analysisRes.Vulnerabilities,
		Errors:          verification.Errors,
		Restrictions:    restrictions,
		Recommendations: append(analysisRes.Recommendations, decision.Recommendations...),
		Reason:          reason,
	}

	if allowed && o.settings.RuntimeProtection {
		sb, sbErr := o.framework.CreateSandbox(ctx, profile, o.settings.PolicyName)
		if sbErr != nil {
			o.logger.WithError(sbErr).WithField("plugin_id", pluginID).
				Error("Sandbox creation failed")
			result.Recommendations = append(result.Recommendations,
				"sandbox creation failed; plugin is installed without runtime protection")
		} else {
			result.SandboxID = sb.ID()
			profile, _ = o.profiles.update(ctx, pluginID, func(p *models.PluginSecurityProfile) {
				p.SandboxID = sb.ID()
			})
		}
	}

	severity := models.SeverityInfo
	if !allowed {
		severity = models.SeverityMedium
	}
	o.audit.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginInstall,
		Severity: severity,
		PluginID: pluginID,
		Message:  fmt.Sprintf("installation %s: score %d, risk %s", allowedWord(allowed), score, risk),
		Context:  secCtx,
		Details: map[string]string{
			"allowed":     fmt.Sprintf("%t", allowed),
			"score":       fmt.Sprintf("%d", score),
			"risk_level":  string(risk),
			"trust_level": string(trust),
		},
	})

	return result
}

// riskLevel is a pure function of the finding set and score.
func riskLevel(score int, findings []models.SecurityVulnerability) models.RiskLevel {
	var critical, high int
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityHigh:
			high++
		}
	}

	switch {
	case critical > 0 || score < 30:
		return models.RiskCritical
	case high > 2 || score < 50:
		return models.RiskHigh
	case high >= 1 || score < 70:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func decisionAllowed(res *analysis.Result, verification *models.VerificationResult, settings Settings) bool {
	for _, f := range res.Vulnerabilities {
		if f.Severity == models.SeverityCritical {
			return false
		}
	}
	if res.Score < 50 && settings.StrictMode {
		return false
	}
	if !verification.Valid && settings.RequireSignatures {
		return false
	}
	return true
}

func decisionReason(res *analysis.Result, verification *models.VerificationResult, settings Settings) string {
	for _, f := range res.Vulnerabilities {
		if f.Severity == models.SeverityCritical {
			return "critical vulnerability: " + f.Description
		}
	}
	if res.Score < 50 && settings.StrictMode {
		return fmt.Sprintf("score %d below strict-mode threshold", res.Score)
	}
	if !verification.Valid && settings.RequireSignatures {
		return "signature verification failed"
	}
	return "passed all checks"
}

func allowedWord(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// failClosed produces the well-formed denial carrying a synthetic HIGH
// violation, records the install event and updates the profile.
func (o *Orchestrator) failClosed(ctx context.Context, pluginID, message string, secCtx models.SecurityContext) *InstallationResult {
	violation := models.SecurityVulnerability{
		ID:          uuid.New().String(),
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityHigh,
		Description: message,
		Remediation: "retry the installation; contact the operator if the fault persists",
	}

	o.profiles.update(ctx, pluginID, func(p *models.PluginSecurityProfile) {
		p.Allowed = false
		p.RiskLevel = models.RiskHigh
		p.Assessments = append(p.Assessments, models.Assessment{
			Timestamp: time.Now(),
			RiskLevel: models.RiskHigh,
			Allowed:   false,
			Findings:  1,
			Reason:    message,
		})
	})

	o.audit.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginInstall,
		Severity: models.SeverityHigh,
		PluginID: pluginID,
		Message:  "installation denied: " + message,
		Context:  secCtx,
	})

	return &InstallationResult{
		PluginID:   pluginID,
		Allowed:    false,
		RiskLevel:  models.RiskHigh,
		TrustLevel: models.TrustUntrusted,
		Violations: []models.SecurityVulnerability{violation},
		Reason:     message,
	}
}

// MonitorPluginExecution routes one plugin operation through the policy
// engine and appends any throttling outcome to the profile.
func (o *Orchestrator) MonitorPluginExecution(ctx context.Context, pluginID, operation string, secCtx models.SecurityContext) security.OperationCheck {
	check := o.framework.MonitorOperation(ctx, pluginID, operation, secCtx)
	if check.Throttled {
		o.profiles.update(ctx, pluginID, func(p *models.PluginSecurityProfile) {
			p.Violations = append(p.Violations, models.SecurityViolation{
				ID:        uuid.New().String(),
				Type:      models.ViolationResourceExhaustion,
				Severity:  models.SeverityHigh,
				PluginID:  pluginID,
				Message:   "operation throttled: " + check.Reason,
				Timestamp: time.Now(),
			})
		})
	}
	return check
}

// GetSecurityProfile returns a copy of the plugin's profile.
func (o *Orchestrator) GetSecurityProfile(pluginID string) (*models.PluginSecurityProfile, error) {
	return o.profiles.get(pluginID)
}

// ListSecurityProfiles returns copies of all active profiles.
func (o *Orchestrator) ListSecurityProfiles(includeRetired bool) []*models.PluginSecurityProfile {
	return o.profiles.list(includeRetired)
}

// UninstallPlugin stops the plugin's sandbox and marks its profile
// retired. The profile is never purged.
func (o *Orchestrator) UninstallPlugin(ctx context.Context, pluginID string, secCtx models.SecurityContext) error {
	if _, err := o.profiles.get(pluginID); err != nil {
		return err
	}

	if err := o.framework.StopSandbox(ctx, pluginID); err != nil && err != security.ErrSandboxNotFound {
		o.logger.WithError(err).WithField("plugin_id", pluginID).
			Warn("Failed to stop sandbox during uninstall")
	}

	o.profiles.update(ctx, pluginID, func(p *models.PluginSecurityProfile) {
		p.Retired = true
		p.Allowed = false
		p.SandboxID = ""
	})

	o.audit.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginUninstall,
		Severity: models.SeverityInfo,
		PluginID: pluginID,
		Message:  "plugin uninstalled, profile retired",
		Context:  secCtx,
	})
	return nil
}
