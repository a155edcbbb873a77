package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hayahq/haya/internal/config"
)

const strongToken = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "haya.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.Gateway = config.GatewayConfig{
		Port: 3000,
		Bind: config.BindLoopback,
		Auth: config.AuthConfig{Mode: "token", Token: strongToken},
	}
	cfg.SenderAuth.Mode = config.SenderAuthOpen
	cfg.SetPath(path)
	return cfg
}

func findingIDs(r *Report) []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.CheckID)
	}
	return ids
}

func hasCheck(r *Report, id string) bool {
	for _, f := range r.Findings {
		if f.CheckID == id {
			return true
		}
	}
	return false
}

func TestRunCleanConfig(t *testing.T) {
	report := Run(baseConfig(t))
	if report.HasCritical() {
		t.Errorf("clean config reported critical findings: %v", findingIDs(report))
	}
}

func TestWorldReadableConfigIsCritical(t *testing.T) {
	cfg := baseConfig(t)
	if err := os.Chmod(cfg.Path(), 0o644); err != nil {
		t.Fatal(err)
	}
	report := Run(cfg)
	if !report.HasCritical() || !hasCheck(report, "config.perms") {
		t.Errorf("findings = %v", findingIDs(report))
	}
}

func TestMissingTokenIsCritical(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gateway.Auth.Token = ""
	report := Run(cfg)
	if !hasCheck(report, "token.missing") {
		t.Errorf("findings = %v", findingIDs(report))
	}
}

func TestShortTokenIsCritical(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gateway.Auth.Token = "short"
	report := Run(cfg)
	if !hasCheck(report, "token.weak") || !report.HasCritical() {
		t.Errorf("findings = %v", findingIDs(report))
	}
}

func TestUniformTokenIsWarn(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gateway.Auth.Token = strings.Repeat("ab", 32)
	report := Run(cfg)
	if !hasCheck(report, "token.weak") {
		t.Errorf("findings = %v", findingIDs(report))
	}
	if report.HasCritical() {
		t.Error("low-entropy token should warn, not fail")
	}
}

func TestExposedBindWithoutTLSIsCritical(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gateway.Bind = config.BindLAN
	report := Run(cfg)
	if !hasCheck(report, "gateway.exposure") || !report.HasCritical() {
		t.Errorf("findings = %v", findingIDs(report))
	}
	if !hasCheck(report, "senderauth.open") {
		t.Errorf("open sender auth on exposed bind not flagged: %v", findingIDs(report))
	}
}

func TestSessionDirPerms(t *testing.T) {
	cfg := baseConfig(t)
	dir := cfg.SessionsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	report := Run(cfg)
	if !hasCheck(report, "sessions.perms") {
		t.Errorf("findings = %v", findingIDs(report))
	}

	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if report = Run(cfg); hasCheck(report, "sessions.perms") {
		t.Errorf("tightened dir still flagged: %v", findingIDs(report))
	}
}

func TestCount(t *testing.T) {
	r := &Report{Findings: []Finding{
		{Severity: SeverityWarn}, {Severity: SeverityWarn}, {Severity: SeverityCritical},
	}}
	if r.Count(SeverityWarn) != 2 || r.Count(SeverityCritical) != 1 || r.Count(SeverityInfo) != 0 {
		t.Error("counts wrong")
	}
}
