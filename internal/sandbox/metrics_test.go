package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/sandbox/runtime"
)

func TestSampleUpdatesMetrics(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{
		CPUPercent:     12.5,
		MemoryBytes:    1024 * 1024,
		DiskReadBytes:  4096,
		DiskWriteBytes: 2048,
		NetworkRx:      100,
		NetworkTx:      50,
		Processes:      3,
		SampledAt:      time.Now(),
	})
	sb.sample()

	m := sb.Metrics()
	assert.Equal(t, 12.5, m.CPUPercent)
	assert.Equal(t, int64(1024*1024), m.MemoryBytes)
	assert.Equal(t, int64(4096), m.DiskReadBytes)
	assert.Equal(t, int64(3), m.Processes)
	assert.False(t, m.SampledAt.IsZero())
}

func TestSampleIOCountersNeverRegress(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{DiskReadBytes: 4096, NetworkTx: 500})
	sb.sample()
	fake.SetStats(runtime.Stats{DiskReadBytes: 1024, NetworkTx: 100})
	sb.sample()

	m := sb.Metrics()
	assert.Equal(t, int64(4096), m.DiskReadBytes)
	assert.Equal(t, int64(500), m.NetworkTx)
}

func TestSampleMemoryBreachThrottles(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{MemoryBytes: 128 * 1024 * 1024})
	sb.sample()

	assert.Equal(t, models.SandboxThrottled, sb.State())
	violations := sb.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, models.ViolationResourceExhaustion, violations[0].Type)
	assert.Equal(t, models.SeverityHigh, violations[0].Severity)
	assert.Contains(t, violations[0].Message, "memory usage")
}

func TestSampleCPUBreachThrottles(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{CPUPercent: 80})
	sb.sample()

	assert.Equal(t, models.SandboxThrottled, sb.State())
}

func TestSampleProcessBreachRecordsOnly(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{Processes: 64})
	sb.sample()

	assert.Equal(t, models.SandboxActive, sb.State(), "process count breaches are MEDIUM and never throttle")
	violations := sb.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, models.SeverityMedium, violations[0].Severity)
}

func TestSampleRecoversThrottledSandbox(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	sb := newStartedSandbox(t, fake)

	fake.SetStats(runtime.Stats{MemoryBytes: 128 * 1024 * 1024})
	sb.sample()
	require.Equal(t, models.SandboxThrottled, sb.State())

	fake.SetStats(runtime.Stats{MemoryBytes: 1024})
	sb.sample()
	assert.Equal(t, models.SandboxActive, sb.State())
}

func TestMetricsLoopSamplesOnInterval(t *testing.T) {
	fake := runtime.NewFakeIsolator()
	config := testConfig(t)
	config.MonitoringEnabled = true
	config.MetricsInterval = 10 * time.Millisecond

	sb := New(config, fake, WithLogger(testLogger()))
	require.NoError(t, sb.Start(context.Background()))
	defer func() { _ = sb.Stop(context.Background()) }()

	fake.SetStats(runtime.Stats{CPUPercent: 7})
	assert.Eventually(t, func() bool {
		return sb.Metrics().CPUPercent == 7
	}, time.Second, 5*time.Millisecond)
}
