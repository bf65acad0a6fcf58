package models

import "time"

// SandboxState is the lifecycle state of a sandbox.
type SandboxState string

const (
	SandboxCreated    SandboxState = "CREATED"
	SandboxStarting   SandboxState = "STARTING"
	SandboxActive     SandboxState = "ACTIVE"
	SandboxThrottled  SandboxState = "THROTTLED"
	SandboxStopping   SandboxState = "STOPPING"
	SandboxTerminated SandboxState = "TERMINATED"
)

// SandboxConfig is write-once configuration applied at sandbox creation.
type SandboxConfig struct {
	PluginID          string           `json:"plugin_id"`
	PolicyID          string           `json:"policy_id"`
	Image             string           `json:"image"`
	WorkspaceRoot     string           `json:"workspace_root"`
	Network           NetworkPolicy    `json:"network"`
	Filesystem        FilesystemPolicy `json:"filesystem"`
	Execution         ExecutionPolicy  `json:"execution"`
	MonitoringEnabled bool             `json:"monitoring_enabled"`
	MetricsInterval   time.Duration    `json:"metrics_interval"`
	MaxCodeSize       int              `json:"max_code_size"`
	StopGracePeriod   time.Duration    `json:"stop_grace_period"`
}

// SandboxMetrics accumulates monotonically while a sandbox is active and is
// reset only by sandbox destruction.
type SandboxMetrics struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryBytes    int64     `json:"memory_bytes"`
	DiskReadBytes  int64     `json:"disk_read_bytes"`
	DiskWriteBytes int64     `json:"disk_write_bytes"`
	NetworkRx      int64     `json:"network_rx"`
	NetworkTx      int64     `json:"network_tx"`
	Processes      int64     `json:"processes"`
	Executions     int64     `json:"executions"`
	ErrorCount     int64     `json:"error_count"`
	WarningCount   int64     `json:"warning_count"`
	SampledAt      time.Time `json:"sampled_at"`
}

// SecurityViolation is one recorded sandbox violation. The per-sandbox
// violation list is append-only.
type SecurityViolation struct {
	ID        string        `json:"id"`
	Type      ViolationType `json:"type"`
	Severity  Severity      `json:"severity"`
	PluginID  string        `json:"plugin_id,omitempty"`
	SandboxID string        `json:"sandbox_id,omitempty"`
	Message   string        `json:"message"`
	Blocked   bool          `json:"blocked"`
	Timestamp time.Time     `json:"timestamp"`
}

// ExecutionResult is the outcome of running plugin code in a sandbox.
type ExecutionResult struct {
	CorrelationID string        `json:"correlation_id"`
	ExitCode      int           `json:"exit_code"`
	Stdout        string        `json:"stdout,omitempty"`
	Stderr        string        `json:"stderr,omitempty"`
	Duration      time.Duration `json:"duration"`
	TimedOut      bool          `json:"timed_out"`
}
