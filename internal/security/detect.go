package security

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// detection thresholds
const (
	// burstExecutions flags a plugin issuing this many executions between
	// two detection sweeps.
	burstExecutions = 50

	// exfiltrationBytes flags this much outbound network traffic between
	// two detection sweeps.
	exfiltrationBytes = 10 << 20
)

// attackSignatures are message patterns checked against recent events.
var attackSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)/etc/(passwd|shadow)`),
	regexp.MustCompile(`(?i)base64\s+-d\s*\|\s*sh`),
}

// sandboxSnapshot is the per-plugin counter state remembered between
// detection sweeps.
type sandboxSnapshot struct {
	executions int64
	networkTx  int64
}

// StartDetection launches the periodic suspicious-activity sweep. It is
// independent of per-operation monitoring and runs until ctx is
// canceled or StopDetection is called.
func (f *Framework) StartDetection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	detectCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if f.detectCancel != nil {
		f.mu.Unlock()
		cancel()
		return
	}
	f.detectCancel = cancel
	f.detectDone = make(chan struct{})
	done := f.detectDone
	f.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		snapshots := make(map[string]sandboxSnapshot)
		lastSweep := time.Now()

		for {
			select {
			case <-detectCtx.Done():
				return
			case <-ticker.C:
				f.sweep(snapshots, lastSweep)
				lastSweep = time.Now()
			}
		}
	}()
}

// StopDetection stops the sweep loop and waits for it to exit.
func (f *Framework) StopDetection() {
	f.mu.Lock()
	cancel := f.detectCancel
	done := f.detectDone
	f.detectCancel = nil
	f.detectDone = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// sweep runs the three detection passes over every live sandbox:
// behavior patterns, attack signatures and exfiltration checks.
func (f *Framework) sweep(snapshots map[string]sandboxSnapshot, since time.Time) {
	f.mu.RLock()
	live := make(map[string]*sandboxEntry, len(f.sandboxes))
	for pluginID, sb := range f.sandboxes {
		live[pluginID] = &sandboxEntry{id: sb.ID(), metrics: sb.Metrics()}
	}
	f.mu.RUnlock()

	for pluginID, entry := range live {
		prev := snapshots[pluginID]
		metrics := entry.metrics

		if delta := metrics.Executions - prev.executions; delta > burstExecutions {
			f.flagSuspicious(pluginID, entry.id, models.ViolationPolicy, models.SeverityMedium,
				fmt.Sprintf("execution burst: %d calls since last sweep", delta))
		}

		if delta := metrics.NetworkTx - prev.networkTx; delta > exfiltrationBytes {
			f.flagExfiltration(pluginID, entry.id, delta)
		}

		snapshots[pluginID] = sandboxSnapshot{
			executions: metrics.Executions,
			networkTx:  metrics.NetworkTx,
		}
	}

	// Drop snapshots of sandboxes that no longer exist.
	for pluginID := range snapshots {
		if _, ok := live[pluginID]; !ok {
			delete(snapshots, pluginID)
		}
	}

	f.scanRecentEvents(since)
}

type sandboxEntry struct {
	id      string
	metrics models.SandboxMetrics
}

// scanRecentEvents matches recent event messages against the attack
// signature set.
func (f *Framework) scanRecentEvents(since time.Time) {
	events := f.audit.ListEvents(audit.EventFilter{From: since})
	for _, event := range events {
		if event.Type == models.EventSandboxViolation || event.Type == models.EventAnomaly {
			continue
		}
		for _, sig := range attackSignatures {
			if sig.MatchString(event.Message) {
				f.flagSuspicious(event.PluginID, event.SandboxID, models.ViolationCodeInjection, models.SeverityHigh,
					fmt.Sprintf("attack signature %q matched in event %s", sig.String(), event.ID))
				break
			}
		}
	}
}

// flagSuspicious routes a detection finding through the same violation
// path as sandbox violations.
func (f *Framework) flagSuspicious(pluginID, sandboxID string, vType models.ViolationType, severity models.Severity, message string) {
	f.respondToViolation(models.SecurityViolation{
		ID:        uuid.New().String(),
		Type:      vType,
		Severity:  severity,
		PluginID:  pluginID,
		SandboxID: sandboxID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// flagExfiltration records a dedicated data-exfiltration event before
// routing the violation.
func (f *Framework) flagExfiltration(pluginID, sandboxID string, bytes int64) {
	f.audit.RecordEvent(models.SecurityEvent{
		Type:      models.EventDataExfiltration,
		Severity:  models.SeverityHigh,
		PluginID:  pluginID,
		SandboxID: sandboxID,
		Message:   fmt.Sprintf("outbound transfer of %d bytes since last sweep", bytes),
	})
	f.flagSuspicious(pluginID, sandboxID, models.ViolationDataExfiltration, models.SeverityHigh,
		fmt.Sprintf("possible data exfiltration: %d bytes outbound", bytes))
}
