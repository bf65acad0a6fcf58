package security

import (
	"errors"
	"sync"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// Policy store errors
var (
	// ErrPolicyNotFound indicates an unknown policy name
	ErrPolicyNotFound = errors.New("security policy not found")

	// ErrPolicyExists indicates a duplicate registration
	ErrPolicyExists = errors.New("security policy already registered")
)

// DefaultPolicyName is the policy applied when none is requested.
const DefaultPolicyName = "default"

// PolicyStore holds named security policies. Policies are copied out on
// every read, so a sandbox created against a policy keeps the version it
// was bound to; updating a policy only affects later creations.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*models.SecurityPolicy
}

// NewPolicyStore creates a store seeded with the default policy.
func NewPolicyStore() *PolicyStore {
	store := &PolicyStore{
		policies: make(map[string]*models.SecurityPolicy),
	}
	store.policies[DefaultPolicyName] = DefaultPolicy()
	return store
}

// DefaultPolicy is the baseline policy for unclassified plugins.
func DefaultPolicy() *models.SecurityPolicy {
	return &models.SecurityPolicy{
		Name:        DefaultPolicyName,
		Description: "baseline policy for unclassified plugins",
		Permissions: []string{"storage:read"},
		Network: models.NetworkPolicy{
			Enabled: false,
		},
		Filesystem: models.FilesystemPolicy{
			BlockedPaths: []string{"/etc", "/root", "/home", "/var"},
			MaxFileSize:  8 << 20,
			MaxTotalSize: 64 << 20,
		},
		Execution: models.ExecutionPolicy{
			MaxCPUTime:   10 * time.Second,
			MaxCPUPct:    50,
			MaxMemory:    128 << 20,
			MaxProcesses: 16,
			MaxExecution: 30 * time.Second,
		},
		DataAccess: models.DataAccessPolicy{
			MaxRecords:    1000,
			MaxExportSize: 4 << 20,
		},
	}
}

// Register adds a new named policy.
func (ps *PolicyStore) Register(policy *models.SecurityPolicy) error {
	if policy == nil || policy.Name == "" {
		return errors.New("policy must have a name")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.policies[policy.Name]; exists {
		return ErrPolicyExists
	}
	ps.policies[policy.Name] = policy.Clone()
	return nil
}

// Update replaces a named policy. Sandboxes already bound to the old
// version are unaffected.
func (ps *PolicyStore) Update(policy *models.SecurityPolicy) error {
	if policy == nil || policy.Name == "" {
		return errors.New("policy must have a name")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.policies[policy.Name]; !exists {
		return ErrPolicyNotFound
	}
	ps.policies[policy.Name] = policy.Clone()
	return nil
}

// Get returns a copy of the named policy.
func (ps *PolicyStore) Get(name string) (*models.SecurityPolicy, error) {
	if name == "" {
		name = DefaultPolicyName
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	policy, ok := ps.policies[name]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return policy.Clone(), nil
}

// List returns copies of all registered policies.
func (ps *PolicyStore) List() []*models.SecurityPolicy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]*models.SecurityPolicy, 0, len(ps.policies))
	for _, policy := range ps.policies {
		out = append(out, policy.Clone())
	}
	return out
}
