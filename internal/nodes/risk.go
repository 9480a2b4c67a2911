// Package nodes implements remote command execution for connected
// nodes: risk classification, capability checks, an operator approval
// queue, and sandboxed execution with event fan-out.
package nodes

import (
	"regexp"
	"strings"

	"github.com/primehq/prime/pkg/models"
)

// Risk tables are matched against the full command line, most severe
// tier first.
var (
	criticalPatterns = compileAll(
		`rm\s+(-[a-z]*[rf][a-z]*\s+)+(/|/\*|~|\$home)(\s|$)`,
		`mkfs(\.[a-z0-9]+)?\s`,
		`dd\s+.*of=/dev/(sd|hd|nvme|disk)`,
		`:\(\)\s*\{\s*:\|\:&\s*\}\s*;`,
		`(curl|wget)\s+[^|]*\|\s*(sudo\s+)?(ba)?sh`,
		`chmod\s+(-[a-z]+\s+)*777\s+/(\s|$)`,
		`>\s*/dev/(sd|hd|nvme)`,
		`shutdown(\s|$)|reboot(\s|$)|halt(\s|$)`,
	)

	highPatterns = compileAll(
		`rm\s+(-[a-z]*[rf][a-z]*\s*)+`,
		`^sudo\s`,
		`\bsudo\s+`,
		`chmod\s+-[a-z]*r`,
		`chown\s+-[a-z]*r`,
		`docker\s+run\s+.*--privileged`,
		`kubectl\s+(delete|apply|drain)\b`,
		`systemctl\s+(stop|disable|mask)\b`,
		`iptables\s`,
		`userdel\b|groupdel\b`,
	)

	mediumPatterns = compileAll(
		`git\s+push\b`,
		`git\s+.*--force`,
		`\bscp\s`,
		`\brsync\s+.*--delete`,
		`docker\s+(build|run|rm|rmi)\b`,
		`npm\s+publish\b`,
		`pip\s+install\b|npm\s+install\s+-g`,
		`kubectl\s+(create|scale|rollout)\b`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ClassifyRisk assigns a risk tier to a command line.
func ClassifyRisk(command string, args string) models.RiskLevel {
	line := strings.TrimSpace(command)
	if args != "" {
		line += " " + args
	}
	line = strings.ToLower(line)

	for _, re := range criticalPatterns {
		if re.MatchString(line) {
			return models.RiskCritical
		}
	}
	for _, re := range highPatterns {
		if re.MatchString(line) {
			return models.RiskHigh
		}
	}
	for _, re := range mediumPatterns {
		if re.MatchString(line) {
			return models.RiskMedium
		}
	}
	return models.RiskLow
}
