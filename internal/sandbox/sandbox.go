// Package sandbox enforces resource, network and filesystem limits on one
// running plugin. Each sandbox owns an isolated execution unit, samples
// its resource usage on an interval, and responds to violations by
// throttling or terminating the unit.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/sandbox/runtime"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// Common errors
var (
	// ErrNotActive indicates an operation requires an active sandbox
	ErrNotActive = errors.New("sandbox is not active")

	// ErrCodeTooLarge indicates submitted code exceeds the size ceiling
	ErrCodeTooLarge = errors.New("code exceeds sandbox size ceiling")

	// ErrCodeRejected indicates the static deny-list matched
	ErrCodeRejected = errors.New("code rejected by sandbox deny-list")

	// ErrStopped is the deterministic cancellation error returned by
	// in-flight calls when the sandbox stops
	ErrStopped = errors.New("sandbox stopped")

	// ErrExecTimeout indicates an execution exceeded its deadline
	ErrExecTimeout = errors.New("sandbox execution timed out")
)

// cpuHardCeiling is the CPU percentage above which a sandbox is unhealthy.
const cpuHardCeiling = 95.0

// deniedPrimitives is the static deny-list checked before any sandbox I/O
// is attempted. It matches operation primitives, not data: spawning a
// fresh process and raw dynamic evaluation are never dispatched.
var deniedPrimitives = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`new\s+Function\s*\(`),
	regexp.MustCompile(`require\s*\(\s*["'](child_process|vm|cluster)["']\s*\)`),
	regexp.MustCompile(`process\.binding\s*\(`),
}

// ViolationHandler receives violations as they are recorded. Handlers are
// invoked synchronously on the recording goroutine in record order.
type ViolationHandler func(v models.SecurityViolation)

// Sandbox is one resource-bounded execution environment for a plugin.
type Sandbox struct {
	id       string
	config   models.SandboxConfig
	isolator runtime.Isolator
	logger   *logrus.Logger

	mu         sync.RWMutex
	state      models.SandboxState
	unitID     string
	workspace  string
	metrics    models.SandboxMetrics
	violations []models.SecurityViolation

	onViolation ViolationHandler
	throttle    *utils.Throttle

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	loopDone   chan struct{}
	stopOnce   sync.Once
}

// New creates a sandbox in state CREATED. The config is write-once.
func New(config models.SandboxConfig, isolator runtime.Isolator, options ...func(*Sandbox)) *Sandbox {
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 5 * time.Second
	}
	if config.MaxCodeSize <= 0 {
		config.MaxCodeSize = 256 * 1024
	}
	if config.StopGracePeriod <= 0 {
		config.StopGracePeriod = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sandbox{
		id:         uuid.New().String(),
		config:     config,
		isolator:   isolator,
		logger:     logrus.New(),
		state:      models.SandboxCreated,
		lifeCtx:    ctx,
		lifeCancel: cancel,
		loopDone:   make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) func(*Sandbox) {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithViolationHandler sets the violation observer
func WithViolationHandler(handler ViolationHandler) func(*Sandbox) {
	return func(s *Sandbox) {
		s.onViolation = handler
	}
}

// ID returns the sandbox id.
func (s *Sandbox) ID() string { return s.id }

// PluginID returns the owning plugin id.
func (s *Sandbox) PluginID() string { return s.config.PluginID }

// PolicyID returns the name of the policy the sandbox was bound to at
// creation.
func (s *Sandbox) PolicyID() string { return s.config.PolicyID }

// State returns the current lifecycle state.
func (s *Sandbox) State() models.SandboxState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Metrics returns a snapshot of the accumulated metrics.
func (s *Sandbox) Metrics() models.SandboxMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Violations returns a copy of the append-only violation list.
func (s *Sandbox) Violations() []models.SecurityViolation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SecurityViolation, len(s.violations))
	copy(out, s.violations)
	return out
}

// Start allocates the isolated workspace, provisions the execution unit
// with the configured limits, launches it and begins metrics sampling.
// Any step failing aborts the whole start and forces cleanup; a sandbox
// is never left half-initialized in state ACTIVE.
func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.SandboxCreated {
		s.mu.Unlock()
		return errors.Errorf("cannot start sandbox in state %s", s.state)
	}
	s.state = models.SandboxStarting
	s.mu.Unlock()

	workspace, err := os.MkdirTemp(s.config.WorkspaceRoot, "sandbox-"+s.config.PluginID+"-")
	if err != nil {
		s.failStart("")
		return errors.Wrap(err, "failed to allocate sandbox workspace")
	}

	spec := runtime.Spec{
		Name:           "sandbox-" + s.id,
		Image:          s.config.Image,
		WorkspaceDir:   workspace,
		MemoryBytes:    s.config.Execution.MaxMemory,
		NanoCPUs:       int64(s.config.Execution.MaxCPUPct / 100.0 * 1e9),
		PidsLimit:      s.config.Execution.MaxProcesses,
		NetworkEnabled: s.config.Network.Enabled,
		AllowedPorts:   s.config.Network.AllowedPorts,
	}

	unitID, err := s.isolator.Provision(ctx, spec)
	if err != nil {
		_ = os.RemoveAll(workspace)
		s.failStart("")
		return errors.Wrap(err, "failed to provision isolation unit")
	}

	if err := s.isolator.Start(ctx, unitID); err != nil {
		_ = s.isolator.Remove(context.Background(), unitID)
		_ = os.RemoveAll(workspace)
		s.failStart(unitID)
		return errors.Wrap(err, "failed to start isolation unit")
	}

	s.mu.Lock()
	s.unitID = unitID
	s.workspace = workspace
	s.state = models.SandboxActive
	s.mu.Unlock()

	if s.config.MonitoringEnabled {
		go s.metricsLoop()
	} else {
		close(s.loopDone)
	}

	s.logger.WithFields(logrus.Fields{
		"sandbox_id": s.id,
		"plugin_id":  s.config.PluginID,
		"unit_id":    unitID,
	}).Info("Sandbox started")
	return nil
}

// failStart records a failed start and terminates the sandbox.
func (s *Sandbox) failStart(unitID string) {
	s.mu.Lock()
	s.unitID = unitID
	s.state = models.SandboxTerminated
	s.mu.Unlock()
	close(s.loopDone)
	s.lifeCancel()
}

// Execute dispatches plugin code to the isolated unit with a hard timeout.
// Oversized code and code matching the static deny-list are rejected
// outright, with no sandbox I/O attempted. The caller suspends until the
// unit responds, the timeout elapses, or the sandbox stops.
func (s *Sandbox) Execute(ctx context.Context, code string, execEnv []string, timeout time.Duration) (*models.ExecutionResult, error) {
	s.mu.RLock()
	state := s.state
	unitID := s.unitID
	throttle := s.throttle
	s.mu.RUnlock()

	if state != models.SandboxActive && state != models.SandboxThrottled {
		return nil, ErrNotActive
	}

	if len(code) > s.config.MaxCodeSize {
		s.recordViolation(models.ViolationCodeInjection, models.SeverityMedium,
			fmt.Sprintf("code size %d exceeds ceiling %d", len(code), s.config.MaxCodeSize), true)
		return nil, ErrCodeTooLarge
	}
	for _, primitive := range deniedPrimitives {
		if primitive.MatchString(code) {
			s.recordViolation(models.ViolationCodeInjection, models.SeverityHigh,
				"denied operation primitive in submitted code: "+primitive.String(), true)
			return nil, ErrCodeRejected
		}
	}

	// Throttled sandboxes pay for each execution slot.
	if throttle != nil {
		if err := throttle.Wait(ctx); err != nil {
			return nil, err
		}
	}

	correlationID := uuid.New().String()
	execCtx, cancel := context.WithTimeout(s.lifeCtx, timeout)
	defer cancel()
	// Caller cancellation also wins the race.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-execCtx.Done():
		}
	}()

	start := time.Now()
	result, err := s.isolator.Exec(execCtx, unitID, runtime.ExecRequest{
		CorrelationID: correlationID,
		Code:          code,
		Env:           execEnv,
	})
	duration := time.Since(start)

	s.mu.Lock()
	s.metrics.Executions++
	if err != nil {
		s.metrics.ErrorCount++
	}
	s.mu.Unlock()

	if err != nil {
		if s.lifeCtx.Err() != nil {
			return nil, ErrStopped
		}
		if execCtx.Err() != nil || errors.Is(err, runtime.ErrExecTimeout) {
			return &models.ExecutionResult{CorrelationID: correlationID, Duration: duration, TimedOut: true}, ErrExecTimeout
		}
		return nil, err
	}

	return &models.ExecutionResult{
		CorrelationID: correlationID,
		ExitCode:      result.ExitCode,
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		Duration:      duration,
	}, nil
}

// IsHealthy is a pure predicate: the sandbox is active (or throttled),
// memory is below its limit, CPU is below the hard ceiling, and the
// isolated unit is still responsive.
func (s *Sandbox) IsHealthy(ctx context.Context) bool {
	s.mu.RLock()
	state := s.state
	metrics := s.metrics
	unitID := s.unitID
	s.mu.RUnlock()

	if state != models.SandboxActive && state != models.SandboxThrottled {
		return false
	}
	if s.config.Execution.MaxMemory > 0 && metrics.MemoryBytes >= s.config.Execution.MaxMemory {
		return false
	}
	if metrics.CPUPercent >= cpuHardCeiling {
		return false
	}
	return s.isolator.Alive(ctx, unitID)
}

// HandleViolation records the violation and responds by severity:
// CRITICAL stops the sandbox immediately, HIGH throttles it, lower
// severities are recorded only.
func (s *Sandbox) HandleViolation(v models.SecurityViolation) {
	v = s.record(v)

	switch v.Severity {
	case models.SeverityCritical:
		s.logger.WithFields(logrus.Fields{
			"sandbox_id": s.id,
			"type":       v.Type,
		}).Error("Critical violation, terminating sandbox")
		_ = s.Stop(context.Background())
	case models.SeverityHigh:
		s.throttleDown()
	}
}

// recordViolation builds and handles a violation in one step.
func (s *Sandbox) recordViolation(vType models.ViolationType, severity models.Severity, message string, blocked bool) {
	s.HandleViolation(models.SecurityViolation{
		Type:     vType,
		Severity: severity,
		Message:  message,
		Blocked:  blocked,
	})
}

// record appends the violation and notifies the observer.
func (s *Sandbox) record(v models.SecurityViolation) models.SecurityViolation {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.SandboxID = s.id
	v.PluginID = s.config.PluginID
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.violations = append(s.violations, v)
	if v.Severity == models.SeverityHigh || v.Severity == models.SeverityCritical {
		s.metrics.ErrorCount++
	} else {
		s.metrics.WarningCount++
	}
	handler := s.onViolation
	s.mu.Unlock()

	if handler != nil {
		handler(v)
	}
	return v
}

// throttleDown degrades the sandbox instead of killing it: execution is
// rate limited and the state moves to THROTTLED.
func (s *Sandbox) throttleDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SandboxActive {
		return
	}
	s.state = models.SandboxThrottled
	s.throttle = utils.NewThrottle(1, time.Second)
	s.logger.WithField("sandbox_id", s.id).Warn("Sandbox throttled")
}

// recover returns a throttled sandbox to ACTIVE once resource usage is
// back under its limits.
func (s *Sandbox) recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SandboxThrottled {
		return
	}
	s.state = models.SandboxActive
	s.throttle = nil
	s.logger.WithField("sandbox_id", s.id).Info("Sandbox recovered from throttling")
}

// Stop is idempotent: it cancels the metrics loop and any outstanding
// executions, sends a graceful termination signal with a bounded grace
// period, and removes the isolated workspace. Workspace removal failure
// is logged, never propagated.
func (s *Sandbox) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = models.SandboxStopping
		unitID := s.unitID
		workspace := s.workspace
		s.mu.Unlock()

		s.lifeCancel()
		if prev == models.SandboxActive || prev == models.SandboxThrottled {
			<-s.loopDone
		}

		if unitID != "" {
			if err := s.isolator.Stop(ctx, unitID, s.config.StopGracePeriod); err != nil {
				s.logger.WithError(err).WithField("sandbox_id", s.id).Warn("Failed to stop isolation unit gracefully")
			}
			if err := s.isolator.Remove(ctx, unitID); err != nil {
				s.logger.WithError(err).WithField("sandbox_id", s.id).Warn("Failed to remove isolation unit")
			}
		}
		if workspace != "" {
			if err := os.RemoveAll(workspace); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"sandbox_id": s.id,
					"workspace":  filepath.Clean(workspace),
				}).Warn("Failed to remove sandbox workspace")
			}
		}

		s.mu.Lock()
		s.state = models.SandboxTerminated
		s.mu.Unlock()

		s.logger.WithField("sandbox_id", s.id).Info("Sandbox terminated")
	})
	return nil
}
