package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// metricsLoop samples the isolation unit on the configured interval and
// checks alert thresholds on every sample. Threshold breaches become
// RESOURCE_EXHAUSTION violations routed through the same handler as
// security violations. The loop exits when the sandbox lifecycle context
// is canceled.
func (s *Sandbox) metricsLoop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.lifeCtx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample takes one stats reading, folds it into the cumulative metrics and
// evaluates resource thresholds.
func (s *Sandbox) sample() {
	ctx, cancel := context.WithTimeout(s.lifeCtx, s.config.MetricsInterval)
	defer cancel()

	s.mu.RLock()
	unitID := s.unitID
	s.mu.RUnlock()

	stats, err := s.isolator.Stats(ctx, unitID)
	if err != nil {
		if s.lifeCtx.Err() != nil {
			return
		}
		s.logger.WithError(err).WithField("sandbox_id", s.id).Debug("Failed to sample sandbox stats")
		return
	}

	s.mu.Lock()
	s.metrics.CPUPercent = stats.CPUPercent
	s.metrics.MemoryBytes = stats.MemoryBytes
	// IO counters are cumulative from the unit; never let them regress.
	if stats.DiskReadBytes > s.metrics.DiskReadBytes {
		s.metrics.DiskReadBytes = stats.DiskReadBytes
	}
	if stats.DiskWriteBytes > s.metrics.DiskWriteBytes {
		s.metrics.DiskWriteBytes = stats.DiskWriteBytes
	}
	if stats.NetworkRx > s.metrics.NetworkRx {
		s.metrics.NetworkRx = stats.NetworkRx
	}
	if stats.NetworkTx > s.metrics.NetworkTx {
		s.metrics.NetworkTx = stats.NetworkTx
	}
	s.metrics.Processes = stats.Processes
	s.metrics.SampledAt = stats.SampledAt
	s.mu.Unlock()

	s.checkThresholds(stats.CPUPercent, stats.MemoryBytes, stats.Processes)
}

// checkThresholds turns limit breaches into violations. Breaches are HIGH:
// the response is throttling, not termination.
func (s *Sandbox) checkThresholds(cpuPct float64, memory, processes int64) {
	limits := s.config.Execution

	if limits.MaxMemory > 0 && memory > limits.MaxMemory {
		s.recordViolation(models.ViolationResourceExhaustion, models.SeverityHigh,
			fmt.Sprintf("memory usage %d exceeds limit %d", memory, limits.MaxMemory), false)
		return
	}
	if limits.MaxCPUPct > 0 && cpuPct > limits.MaxCPUPct {
		s.recordViolation(models.ViolationResourceExhaustion, models.SeverityHigh,
			fmt.Sprintf("cpu usage %.1f%% exceeds limit %.1f%%", cpuPct, limits.MaxCPUPct), false)
		return
	}
	if limits.MaxProcesses > 0 && processes > limits.MaxProcesses {
		s.recordViolation(models.ViolationResourceExhaustion, models.SeverityMedium,
			fmt.Sprintf("process count %d exceeds limit %d", processes, limits.MaxProcesses), false)
		return
	}

	// Everything back under limits: a throttled sandbox may recover.
	s.recover()
}
