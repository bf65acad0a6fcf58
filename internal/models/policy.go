package models

import "time"

// NetworkPolicy controls a sandbox's network access.
type NetworkPolicy struct {
	Enabled        bool     `json:"enabled"`
	AllowedHosts   []string `json:"allowed_hosts,omitempty"`
	BlockedHosts   []string `json:"blocked_hosts,omitempty"`
	AllowedPorts   []int    `json:"allowed_ports,omitempty"`
	MaxConnections int      `json:"max_connections"`
}

// FilesystemPolicy controls a sandbox's filesystem access.
type FilesystemPolicy struct {
	AllowedPaths []string `json:"allowed_paths,omitempty"`
	BlockedPaths []string `json:"blocked_paths,omitempty"`
	MaxFileSize  int64    `json:"max_file_size"`
	MaxTotalSize int64    `json:"max_total_size"`
}

// ExecutionPolicy bounds a sandbox's compute resources.
type ExecutionPolicy struct {
	MaxCPUTime   time.Duration `json:"max_cpu_time"`
	MaxCPUPct    float64       `json:"max_cpu_pct"`
	MaxMemory    int64         `json:"max_memory"`
	MaxProcesses int64         `json:"max_processes"`
	MaxExecution time.Duration `json:"max_execution"`
}

// DataAccessPolicy bounds what data a plugin may touch.
type DataAccessPolicy struct {
	AllowedScopes []string `json:"allowed_scopes,omitempty"`
	MaxRecords    int      `json:"max_records"`
	MaxExportSize int64    `json:"max_export_size"`
}

// SecurityPolicy is a named set of limits applied to sandboxes. A policy is
// immutable once referenced by an active sandbox; updates take effect on the
// next sandbox creation.
type SecurityPolicy struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Permissions []string         `json:"permissions,omitempty"`
	Network     NetworkPolicy    `json:"network"`
	Filesystem  FilesystemPolicy `json:"filesystem"`
	Execution   ExecutionPolicy  `json:"execution"`
	DataAccess  DataAccessPolicy `json:"data_access"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate drafts without touching
// the stored policy.
func (p *SecurityPolicy) Clone() *SecurityPolicy {
	cp := *p
	cp.Permissions = append([]string(nil), p.Permissions...)
	cp.Network.AllowedHosts = append([]string(nil), p.Network.AllowedHosts...)
	cp.Network.BlockedHosts = append([]string(nil), p.Network.BlockedHosts...)
	cp.Network.AllowedPorts = append([]int(nil), p.Network.AllowedPorts...)
	cp.Filesystem.AllowedPaths = append([]string(nil), p.Filesystem.AllowedPaths...)
	cp.Filesystem.BlockedPaths = append([]string(nil), p.Filesystem.BlockedPaths...)
	cp.DataAccess.AllowedScopes = append([]string(nil), p.DataAccess.AllowedScopes...)
	return &cp
}

// PermissionAllowed reports whether the policy grants the permission.
func (p *SecurityPolicy) PermissionAllowed(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm || granted == "*" {
			return true
		}
	}
	return false
}
