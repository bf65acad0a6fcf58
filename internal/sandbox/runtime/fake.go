package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeIsolator is an in-memory Isolator for tests. Stats and execution
// results can be scripted per unit.
type FakeIsolator struct {
	mu        sync.Mutex
	seq       int
	units     map[string]*fakeUnit
	NextStats Stats
	ExecFn    func(req ExecRequest) (*ExecResult, error)
	ExecDelay time.Duration

	// FailProvision / FailStart force the corresponding call to error
	FailProvision bool
	FailStart     bool
}

type fakeUnit struct {
	spec    Spec
	running bool
}

// NewFakeIsolator creates an empty fake.
func NewFakeIsolator() *FakeIsolator {
	return &FakeIsolator{units: make(map[string]*fakeUnit)}
}

// SetStats scripts the next stats sample for every unit.
func (f *FakeIsolator) SetStats(stats Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextStats = stats
}

// Provision creates a fake unit.
func (f *FakeIsolator) Provision(ctx context.Context, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailProvision {
		return "", fmt.Errorf("provision failed")
	}
	f.seq++
	id := fmt.Sprintf("fake-unit-%d", f.seq)
	f.units[id] = &fakeUnit{spec: spec}
	return id, nil
}

// Start marks the unit running.
func (f *FakeIsolator) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStart {
		return fmt.Errorf("start failed")
	}
	unit, ok := f.units[id]
	if !ok {
		return ErrUnitNotFound
	}
	unit.running = true
	return nil
}

// Exec runs the scripted exec function, honoring the configured delay and
// the caller's context.
func (f *FakeIsolator) Exec(ctx context.Context, id string, req ExecRequest) (*ExecResult, error) {
	f.mu.Lock()
	unit, ok := f.units[id]
	execFn := f.ExecFn
	delay := f.ExecDelay
	f.mu.Unlock()

	if !ok {
		return nil, ErrUnitNotFound
	}
	if !unit.running {
		return nil, ErrUnitNotRunning
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrExecTimeout
		case <-time.After(delay):
		}
	}
	if ctx.Err() != nil {
		return nil, ErrExecTimeout
	}
	if execFn != nil {
		return execFn(req)
	}
	return &ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

// Stats returns the scripted sample.
func (f *FakeIsolator) Stats(ctx context.Context, id string) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.units[id]; !ok {
		return nil, ErrUnitNotFound
	}
	stats := f.NextStats
	if stats.SampledAt.IsZero() {
		stats.SampledAt = time.Now()
	}
	return &stats, nil
}

// Alive reports whether the unit is running.
func (f *FakeIsolator) Alive(ctx context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[id]
	return ok && unit.running
}

// Stop marks the unit stopped.
func (f *FakeIsolator) Stop(ctx context.Context, id string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unit, ok := f.units[id]; ok {
		unit.running = false
	}
	return nil
}

// Remove destroys the unit.
func (f *FakeIsolator) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.units, id)
	return nil
}

// Running reports whether any unit is still running, for test assertions.
func (f *FakeIsolator) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, u := range f.units {
		if u.running {
			count++
		}
	}
	return count
}
