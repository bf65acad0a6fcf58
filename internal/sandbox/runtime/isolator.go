// Package runtime abstracts the isolated execution unit a sandbox runs
// plugin code in. The production implementation requests containers from
// Docker; tests use the in-memory fake. OS-level isolation mechanics are
// requested from the runtime, never implemented here.
package runtime

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	// ErrUnitNotFound indicates the isolation unit does not exist
	ErrUnitNotFound = errors.New("isolation unit not found")

	// ErrExecTimeout indicates an execution exceeded its deadline
	ErrExecTimeout = errors.New("execution timed out")

	// ErrUnitNotRunning indicates the unit is not running
	ErrUnitNotRunning = errors.New("isolation unit is not running")
)

// Spec describes the isolation unit to provision.
type Spec struct {
	// Name is the host-visible unit name
	Name string

	// Image is the execution image for the unit
	Image string

	// WorkspaceDir is the writable plugin workspace bind-mounted into
	// the unit; everything else is read-only
	WorkspaceDir string

	// Env is the unit environment
	Env []string

	// MemoryBytes caps unit memory (0 means unlimited)
	MemoryBytes int64

	// NanoCPUs caps CPU in billionths of a core (0 means unlimited)
	NanoCPUs int64

	// PidsLimit caps the unit process count (0 means unlimited)
	PidsLimit int64

	// NetworkEnabled attaches the unit to the default network; when
	// false the unit has no network at all
	NetworkEnabled bool

	// AllowedPorts are the only ports exposed when networking is on
	AllowedPorts []int
}

// Stats is one resource usage sample for a unit.
type Stats struct {
	CPUPercent     float64
	MemoryBytes    int64
	DiskReadBytes  int64
	DiskWriteBytes int64
	NetworkRx      int64
	NetworkTx      int64
	Processes      int64
	SampledAt      time.Time
}

// ExecRequest is one code execution dispatched into a unit.
type ExecRequest struct {
	// CorrelationID ties the execution to audit records
	CorrelationID string

	// Code is the script source to run
	Code string

	// Env is additional per-execution environment
	Env []string
}

// ExecResult is the outcome of one execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Isolator provisions and drives isolated execution units. All blocking
// calls honor their context.
type Isolator interface {
	// Provision creates a unit from the spec and returns its id
	Provision(ctx context.Context, spec Spec) (string, error)

	// Start launches a provisioned unit
	Start(ctx context.Context, id string) error

	// Exec runs code inside the unit, honoring ctx for cancellation
	Exec(ctx context.Context, id string, req ExecRequest) (*ExecResult, error)

	// Stats samples current resource usage
	Stats(ctx context.Context, id string) (*Stats, error)

	// Alive reports whether the unit is running and responsive
	Alive(ctx context.Context, id string) bool

	// Stop terminates the unit gracefully within the grace period, then
	// forcefully
	Stop(ctx context.Context, id string, grace time.Duration) error

	// Remove destroys the unit and its resources
	Remove(ctx context.Context, id string) error
}
