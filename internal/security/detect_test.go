package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/sandbox/runtime"
)

func TestSweepFlagsExecutionBurst(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})
	ctx := context.Background()

	sb, err := framework.CreateSandbox(ctx, allowedProfile("demo-plugin"), DefaultPolicyName)
	require.NoError(t, err)
	defer framework.StopSandbox(ctx, "demo-plugin")

	for i := 0; i < burstExecutions+1; i++ {
		_, err := sb.Execute(ctx, fmt.Sprintf("call(%d);", i), nil, time.Second)
		require.NoError(t, err)
	}

	snapshots := make(map[string]sandboxSnapshot)
	framework.sweep(snapshots, time.Now())

	events := auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation})
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityMedium, events[0].Severity)
	assert.Contains(t, events[0].Message, "execution burst")

	// Below HIGH nothing escalates.
	assert.Empty(t, auditSvc.ListIncidents(""))
}

func TestSweepDeltaResetsBetweenSweeps(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})
	ctx := context.Background()

	sb, err := framework.CreateSandbox(ctx, allowedProfile("demo-plugin"), DefaultPolicyName)
	require.NoError(t, err)
	defer framework.StopSandbox(ctx, "demo-plugin")

	for i := 0; i < burstExecutions+1; i++ {
		_, err := sb.Execute(ctx, "tick();", nil, time.Second)
		require.NoError(t, err)
	}

	snapshots := make(map[string]sandboxSnapshot)
	framework.sweep(snapshots, time.Now())
	framework.sweep(snapshots, time.Now())

	// The counters were absorbed into the snapshot on the first sweep, so
	// the second sweep sees no new activity.
	events := auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation})
	assert.Len(t, events, 1)
}

func TestSweepFlagsExfiltration(t *testing.T) {
	framework, fake, auditSvc := newTestFramework(t, Settings{MetricsInterval: 10 * time.Millisecond})
	ctx := context.Background()

	sb, err := framework.CreateSandbox(ctx, allowedProfile("demo-plugin"), DefaultPolicyName)
	require.NoError(t, err)
	defer framework.StopSandbox(ctx, "demo-plugin")

	fake.SetStats(runtime.Stats{NetworkTx: 2 * exfiltrationBytes})
	require.Eventually(t, func() bool {
		return sb.Metrics().NetworkTx == 2*exfiltrationBytes
	}, time.Second, 5*time.Millisecond)

	framework.sweep(make(map[string]sandboxSnapshot), time.Now())

	exfil := auditSvc.ListEvents(audit.EventFilter{Type: models.EventDataExfiltration})
	require.Len(t, exfil, 1)
	assert.Contains(t, exfil[0].Message, "outbound transfer")

	incidents := auditSvc.ListIncidents("")
	require.Len(t, incidents, 1)
	assert.Equal(t, "Sandbox violation: DATA_EXFILTRATION", incidents[0].Title)
	assert.Equal(t, models.SeverityHigh, incidents[0].Severity)
}

func TestScanRecentEventsMatchesAttackSignatures(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})

	auditSvc.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginExecution,
		Severity: models.SeverityInfo,
		PluginID: "demo-plugin",
		Message:  "requested read of ../../secret/config",
	})

	framework.scanRecentEvents(time.Now().Add(-time.Minute))

	violations := auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation})
	require.Len(t, violations, 1)
	assert.Equal(t, models.SeverityHigh, violations[0].Severity)
	assert.Contains(t, violations[0].Message, "attack signature")

	incidents := auditSvc.ListIncidents("")
	require.Len(t, incidents, 1)
	assert.Equal(t, "Sandbox violation: CODE_INJECTION", incidents[0].Title)
}

func TestScanRecentEventsSkipsDetectionOutput(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})

	// Violation and anomaly events may quote the matched payload; scanning
	// them again would loop forever.
	auditSvc.RecordEvent(models.SecurityEvent{
		Type:     models.EventSandboxViolation,
		Severity: models.SeverityHigh,
		PluginID: "demo-plugin",
		Message:  `attack signature "union select" matched in event abc`,
	})

	framework.scanRecentEvents(time.Now().Add(-time.Minute))

	violations := auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation})
	assert.Len(t, violations, 1)
	assert.Empty(t, auditSvc.ListIncidents(""))
}

func TestScanRecentEventsIgnoresCleanMessages(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})

	auditSvc.RecordEvent(models.SecurityEvent{
		Type:     models.EventPluginExecution,
		Severity: models.SeverityInfo,
		PluginID: "demo-plugin",
		Message:  "operation \"storage:read\" executed",
	})

	framework.scanRecentEvents(time.Now().Add(-time.Minute))
	assert.Empty(t, auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation}))
}

func TestDetectionLoop(t *testing.T) {
	framework, _, auditSvc := newTestFramework(t, Settings{})
	ctx := context.Background()

	sb, err := framework.CreateSandbox(ctx, allowedProfile("demo-plugin"), DefaultPolicyName)
	require.NoError(t, err)
	defer framework.StopSandbox(ctx, "demo-plugin")

	for i := 0; i < burstExecutions+1; i++ {
		_, err := sb.Execute(ctx, "tick();", nil, time.Second)
		require.NoError(t, err)
	}

	framework.StartDetection(ctx, 10*time.Millisecond)
	defer framework.StopDetection()

	// A second start is a no-op rather than a second loop.
	framework.StartDetection(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		events := auditSvc.ListEvents(audit.EventFilter{Type: models.EventSandboxViolation})
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopDetectionWithoutStart(t *testing.T) {
	framework, _, _ := newTestFramework(t, Settings{})
	assert.NotPanics(t, framework.StopDetection)
}

func TestStopDetectionHaltsSweeps(t *testing.T) {
	framework, _, _ := newTestFramework(t, Settings{})

	framework.StartDetection(context.Background(), 10*time.Millisecond)
	framework.StopDetection()

	// Restartable after a stop.
	framework.StartDetection(context.Background(), 10*time.Millisecond)
	framework.StopDetection()
}
