package security

import "github.com/threatflux/pluginsentinel/internal/models"

// sensitiveRoots are the filesystem roots denied to low-trust plugins.
var sensitiveRoots = []string{"/etc", "/root", "/home", "/var", "/proc", "/sys"}

// GenerateRestrictions derives the additive restriction set from a
// plugin's risk and trust levels. Restrictions tighten the bound policy;
// they never replace its defaults.
func GenerateRestrictions(risk models.RiskLevel, trust models.TrustLevel) []models.Restriction {
	var restrictions []models.Restriction

	if risk == models.RiskHigh || risk == models.RiskCritical {
		restrictions = append(restrictions, models.Restriction{
			Type:   models.RestrictionNetworkDenyAll,
			Reason: "network denied for " + string(risk) + " risk plugins",
		})
	}

	if trust == models.TrustUntrusted || trust == models.TrustLow {
		restrictions = append(restrictions, models.Restriction{
			Type:   models.RestrictionFilesystemDeny,
			Reason: "sensitive filesystem roots denied for " + string(trust) + " trust plugins",
			Paths:  append([]string(nil), sensitiveRoots...),
		})
	}

	if risk == models.RiskCritical {
		restrictions = append(restrictions, models.Restriction{
			Type:   models.RestrictionExecutionLimits,
			Reason: "execution limits halved for critical risk plugins",
		})
	}

	return restrictions
}

// applyRestrictions layers the restriction set onto a policy copy.
func applyRestrictions(policy *models.SecurityPolicy, restrictions []models.Restriction) {
	for _, r := range restrictions {
		switch r.Type {
		case models.RestrictionNetworkDenyAll:
			policy.Network.Enabled = false
			policy.Network.AllowedHosts = nil
			policy.Network.AllowedPorts = nil
		case models.RestrictionFilesystemDeny:
			policy.Filesystem.BlockedPaths = appendMissing(policy.Filesystem.BlockedPaths, r.Paths)
		case models.RestrictionExecutionLimits:
			policy.Execution.MaxMemory /= 2
			policy.Execution.MaxProcesses /= 2
			if policy.Execution.MaxCPUPct > 25 {
				policy.Execution.MaxCPUPct = 25
			}
		}
	}
}

func appendMissing(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, path := range existing {
		seen[path] = true
	}
	for _, path := range extra {
		if !seen[path] {
			existing = append(existing, path)
			seen[path] = true
		}
	}
	return existing
}
