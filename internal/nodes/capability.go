package nodes

import (
	"strings"

	"github.com/primehq/prime/pkg/models"
)

// Capability names a node may hold.
const (
	CapExec        = "exec"
	CapExecAll     = "exec.*"
	CapExecHigh    = "exec.high"
	CapExecCrit    = "exec.critical"
	CapAdmin       = "admin"
	CapWildcard    = "*"
	CapAutoApprove = "auto_approve"
	CapTrusted     = "trusted"
)

// CapabilityAuthorizes reports whether a capability set permits
// executing a command of the given risk tier. Baseline exec covers low
// and medium; high and critical need their dedicated grants. Wildcard
// and admin bypass the tiers.
func CapabilityAuthorizes(caps []string, risk models.RiskLevel) bool {
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	if set[CapWildcard] || set[CapAdmin] {
		return true
	}
	if !set[CapExec] && !set[CapExecAll] {
		return false
	}
	switch risk {
	case models.RiskCritical:
		return set[CapExecCrit]
	case models.RiskHigh:
		return set[CapExecHigh] || set[CapExecCrit]
	default:
		return true
	}
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if strings.EqualFold(strings.TrimSpace(c), want) {
			return true
		}
	}
	return false
}
