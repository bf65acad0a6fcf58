// Package security implements the policy engine: pre-execution
// validation, policy-bound sandbox creation, runtime operation
// monitoring, periodic suspicious-activity detection and incident
// response.
package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/analysis"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/sandbox"
	"github.com/threatflux/pluginsentinel/internal/sandbox/runtime"
)

// Framework errors
var (
	// ErrSandboxNotFound indicates no sandbox is registered for the plugin
	ErrSandboxNotFound = errors.New("no sandbox registered for plugin")

	// ErrSandboxExists indicates the plugin already has a live sandbox
	ErrSandboxExists = errors.New("plugin already has an active sandbox")
)

// Settings carries the framework's operating switches.
type Settings struct {
	WorkspaceRoot   string
	SandboxImage    string
	MetricsInterval time.Duration
	StopGracePeriod time.Duration
	MaxCodeSize     int64
}

// Framework is the security policy engine. It owns the policy store and
// the registry of live sandboxes and routes every violation through
// incident response.
type Framework struct {
	policies *PolicyStore
	audit    *audit.Service
	isolator runtime.Isolator
	settings Settings
	logger   *logrus.Logger

	mu        sync.RWMutex
	sandboxes map[string]*sandbox.Sandbox

	detectCancel context.CancelFunc
	detectDone   chan struct{}
}

// NewFramework creates the policy engine.
func NewFramework(auditSvc *audit.Service, isolator runtime.Isolator, settings Settings, options ...func(*Framework)) *Framework {
	if settings.SandboxImage == "" {
		settings.SandboxImage = runtime.DefaultImage
	}
	if settings.MetricsInterval <= 0 {
		settings.MetricsInterval = 5 * time.Second
	}
	f := &Framework{
		policies:  NewPolicyStore(),
		audit:     auditSvc,
		isolator:  isolator,
		settings:  settings,
		logger:    logrus.New(),
		sandboxes: make(map[string]*sandbox.Sandbox),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) func(*Framework) {
	return func(f *Framework) {
		f.logger = logger
	}
}

// Policies exposes the policy store.
func (f *Framework) Policies() *PolicyStore {
	return f.policies
}

// ValidationRequest carries the inputs of pre-execution validation.
// Analysis and Verification are produced by the caller, which may run
// them concurrently.
type ValidationRequest struct {
	PluginID     string
	Permissions  []string
	PolicyName   string
	Analysis     *analysis.Result
	Verification *models.VerificationResult
}

// ValidationDecision is the aggregated allow/deny outcome of
// pre-execution validation.
type ValidationDecision struct {
	Allowed         bool                           `json:"allowed"`
	Violations      []models.SecurityVulnerability `json:"violations,omitempty"`
	DeniedPerms     []string                       `json:"denied_permissions,omitempty"`
	Errors          []models.VerificationError     `json:"errors,omitempty"`
	Recommendations []string                       `json:"recommendations,omitempty"`
}

// ValidatePlugin aggregates static analysis, signature verification,
// permission and resource checks into a single allow/deny decision.
// Only CRITICAL and HIGH findings deny; everything else is advisory.
func (f *Framework) ValidatePlugin(req ValidationRequest) ValidationDecision {
	decision := ValidationDecision{Allowed: true}

	policy, err := f.policies.Get(req.PolicyName)
	if err != nil {
		decision.Allowed = false
		decision.Recommendations = append(decision.Recommendations,
			fmt.Sprintf("policy %q is not registered", req.PolicyName))
		return decision
	}

	if req.Analysis != nil {
		for _, vuln := range req.Analysis.Vulnerabilities {
			decision.Violations = append(decision.Violations, vuln)
			if vuln.Severity.AtLeast(models.SeverityHigh) {
				decision.Allowed = false
			}
		}
		decision.Recommendations = append(decision.Recommendations, req.Analysis.Recommendations...)
	}

	if req.Verification != nil {
		decision.Errors = append(decision.Errors, req.Verification.Errors...)
		if req.Verification.HasFatal() {
			decision.Allowed = false
		}
	}

	for _, perm := range req.Permissions {
		if !policy.PermissionAllowed(perm) {
			decision.DeniedPerms = append(decision.DeniedPerms, perm)
		}
	}
	if len(decision.DeniedPerms) > 0 {
		decision.Recommendations = append(decision.Recommendations,
			fmt.Sprintf("remove permissions not granted by policy %q: %v", policy.Name, decision.DeniedPerms))
	}

	// Resource sanity: the policy must carry usable execution limits.
	if policy.Execution.MaxMemory <= 0 || policy.Execution.MaxExecution <= 0 {
		decision.Allowed = false
		decision.Recommendations = append(decision.Recommendations,
			"policy execution limits are incomplete")
	}

	return decision
}

// CreateSandbox builds and starts a sandbox for an allowed profile,
// bound to the named policy with the profile's restrictions applied on
// top. The profile must have been evaluated allowed.
func (f *Framework) CreateSandbox(ctx context.Context, profile *models.PluginSecurityProfile, policyName string) (*sandbox.Sandbox, error) {
	if profile == nil || !profile.Allowed {
		return nil, errors.New("sandbox requires an allowed security profile")
	}

	f.mu.RLock()
	existing, ok := f.sandboxes[profile.PluginID]
	f.mu.RUnlock()
	if ok && existing.State() != models.SandboxTerminated {
		return nil, ErrSandboxExists
	}

	policy, err := f.policies.Get(policyName)
	if err != nil {
		return nil, err
	}
	applyRestrictions(policy, profile.Restrictions)

	config := models.SandboxConfig{
		PluginID:          profile.PluginID,
		PolicyID:          policy.Name,
		Image:             f.settings.SandboxImage,
		WorkspaceRoot:     f.settings.WorkspaceRoot,
		Network:           policy.Network,
		Filesystem:        policy.Filesystem,
		Execution:         policy.Execution,
		MonitoringEnabled: true,
		MetricsInterval:   f.settings.MetricsInterval,
		MaxCodeSize:       int(f.settings.MaxCodeSize),
		StopGracePeriod:   f.settings.StopGracePeriod,
	}

	sb := sandbox.New(config, f.isolator,
		sandbox.WithLogger(f.logger),
		sandbox.WithViolationHandler(f.respondToViolation),
	)

	if err := sb.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	f.mu.Lock()
	f.sandboxes[profile.PluginID] = sb
	f.mu.Unlock()

	f.audit.RecordEvent(models.SecurityEvent{
		Type:      models.EventSandboxLifecycle,
		Severity:  models.SeverityInfo,
		PluginID:  profile.PluginID,
		SandboxID: sb.ID(),
		Message:   "sandbox started",
		Details:   map[string]string{"policy": policy.Name},
	})

	return sb, nil
}

// GetSandbox returns the live sandbox for a plugin.
func (f *Framework) GetSandbox(pluginID string) (*sandbox.Sandbox, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sb, ok := f.sandboxes[pluginID]
	if !ok {
		return nil, ErrSandboxNotFound
	}
	return sb, nil
}

// ListSandboxes returns all live sandboxes.
func (f *Framework) ListSandboxes() []*sandbox.Sandbox {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*sandbox.Sandbox, 0, len(f.sandboxes))
	for _, sb := range f.sandboxes {
		out = append(out, sb)
	}
	return out
}

// StopSandbox stops and unregisters the plugin's sandbox.
func (f *Framework) StopSandbox(ctx context.Context, pluginID string) error {
	f.mu.Lock()
	sb, ok := f.sandboxes[pluginID]
	if ok {
		delete(f.sandboxes, pluginID)
	}
	f.mu.Unlock()

	if !ok {
		return ErrSandboxNotFound
	}
	if err := sb.Stop(ctx); err != nil {
		return err
	}

	f.audit.RecordEvent(models.SecurityEvent{
		Type:      models.EventSandboxLifecycle,
		Severity:  models.SeverityInfo,
		PluginID:  pluginID,
		SandboxID: sb.ID(),
		Message:   "sandbox stopped",
	})
	return nil
}

// OperationCheck is the outcome of per-operation runtime monitoring.
type OperationCheck struct {
	Allowed   bool   `json:"allowed"`
	Throttled bool   `json:"throttled"`
	Reason    string `json:"reason,omitempty"`
}

// MonitorOperation is the per-operation runtime check: a policy
// permission check followed by a resource check. Resource pressure
// throttles rather than blocks; only a policy denial blocks.
func (f *Framework) MonitorOperation(ctx context.Context, pluginID, operation string, secCtx models.SecurityContext) OperationCheck {
	f.mu.RLock()
	sb, ok := f.sandboxes[pluginID]
	f.mu.RUnlock()
	if !ok {
		return OperationCheck{Allowed: false, Reason: "no active sandbox"}
	}

	policyName := sb.PolicyID()
	policy, err := f.policies.Get(policyName)
	if err != nil {
		return OperationCheck{Allowed: false, Reason: "bound policy missing"}
	}

	if !policy.PermissionAllowed(operation) {
		f.audit.RecordEvent(models.SecurityEvent{
			Type:      models.EventPermissionDenied,
			Severity:  models.SeverityMedium,
			PluginID:  pluginID,
			SandboxID: sb.ID(),
			Message:   fmt.Sprintf("operation %q denied by policy %q", operation, policy.Name),
			Context:   secCtx,
		})
		return OperationCheck{Allowed: false, Reason: "operation not permitted by policy"}
	}

	check := OperationCheck{Allowed: true}
	metrics := sb.Metrics()
	if metrics.MemoryBytes >= policy.Execution.MaxMemory || metrics.CPUPercent >= policy.Execution.MaxCPUPct {
		check.Throttled = true
		check.Reason = "resource pressure"
		sb.HandleViolation(models.SecurityViolation{
			ID:        uuid.New().String(),
			Type:      models.ViolationResourceExhaustion,
			Severity:  models.SeverityHigh,
			PluginID:  pluginID,
			SandboxID: sb.ID(),
			Message:   "resource limits reached during operation",
			Timestamp: time.Now(),
		})
	}

	f.audit.RecordEvent(models.SecurityEvent{
		Type:      models.EventPluginExecution,
		Severity:  models.SeverityInfo,
		PluginID:  pluginID,
		SandboxID: sb.ID(),
		Message:   fmt.Sprintf("operation %q executed", operation),
		Context:   secCtx,
		Details:   map[string]string{"throttled": fmt.Sprintf("%t", check.Throttled)},
	})

	return check
}

// respondToViolation is phase five: every sandbox violation becomes an
// audit event; CRITICAL and HIGH additionally trigger containment and an
// incident. Containment for CRITICAL runs asynchronously because the
// sandbox initiates its own stop.
func (f *Framework) respondToViolation(v models.SecurityViolation) {
	event := f.audit.RecordEvent(models.SecurityEvent{
		Type:      models.EventSandboxViolation,
		Severity:  v.Severity,
		PluginID:  v.PluginID,
		SandboxID: v.SandboxID,
		Message:   v.Message,
		Details: map[string]string{
			"violation_type": string(v.Type),
			"blocked":        fmt.Sprintf("%t", v.Blocked),
		},
	})

	if !v.Severity.AtLeast(models.SeverityHigh) {
		return
	}

	f.logger.WithFields(logrus.Fields{
		"plugin_id": v.PluginID,
		"type":      v.Type,
		"severity":  v.Severity,
	}).Warn("Containment triggered by sandbox violation")

	f.audit.CreateIncident(
		fmt.Sprintf("Sandbox violation: %s", v.Type),
		v.Message,
		v.Severity,
		v.PluginID,
		[]string{event.ID},
	)

	if v.Severity == models.SeverityCritical {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := f.StopSandbox(ctx, v.PluginID); err != nil && !errors.Is(err, ErrSandboxNotFound) {
				f.logger.WithError(err).Error("Containment stop failed")
			}
		}()
	}
}
