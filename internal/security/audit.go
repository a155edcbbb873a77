// Package security audits the on-disk and configured posture of an
// installation: file permissions, token strength, gateway exposure, and
// TLS material.
package security

import (
	"crypto/x509"
	"encoding/pem"
	"io/fs"
	"os"
	"time"

	"github.com/hayahq/haya/internal/config"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Finding is one audit observation with its remediation.
type Finding struct {
	CheckID     string   `json:"checkId"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Detail      string   `json:"detail,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// Report is the outcome of one audit pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Findings  []Finding `json:"findings"`
}

// HasCritical reports whether the audit should fail the process.
func (r *Report) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Count returns the number of findings at the given severity.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// Run executes every check against the loaded config and its file layout.
func Run(cfg *config.Config) *Report {
	report := &Report{Timestamp: time.Now()}
	report.Findings = append(report.Findings, checkConfigFile(cfg)...)
	report.Findings = append(report.Findings, checkSessionsDir(cfg)...)
	report.Findings = append(report.Findings, checkToken(cfg)...)
	report.Findings = append(report.Findings, checkExposure(cfg)...)
	report.Findings = append(report.Findings, checkTLSMaterial(cfg)...)
	return report
}

func isWorldAccessible(mode fs.FileMode) bool { return mode.Perm()&0o007 != 0 }
func isGroupAccessible(mode fs.FileMode) bool { return mode.Perm()&0o070 != 0 }

func checkConfigFile(cfg *config.Config) []Finding {
	path := cfg.Path()
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return []Finding{{
			CheckID:  "config.stat",
			Severity: SeverityWarn,
			Title:    "config file unreadable",
			Detail:   err.Error(),
		}}
	}
	var findings []Finding
	if isWorldAccessible(info.Mode()) {
		findings = append(findings, Finding{
			CheckID:     "config.perms",
			Severity:    SeverityCritical,
			Title:       "config file is world-accessible",
			Detail:      info.Mode().Perm().String(),
			Remediation: "chmod 600 " + path,
		})
	} else if isGroupAccessible(info.Mode()) {
		findings = append(findings, Finding{
			CheckID:     "config.perms",
			Severity:    SeverityWarn,
			Title:       "config file is group-accessible",
			Detail:      info.Mode().Perm().String(),
			Remediation: "chmod 600 " + path,
		})
	}
	return findings
}

func checkSessionsDir(cfg *config.Config) []Finding {
	dir := cfg.SessionsDir()
	info, err := os.Stat(dir)
	if err != nil {
		// Not created yet; nothing to report.
		return nil
	}
	if isWorldAccessible(info.Mode()) || isGroupAccessible(info.Mode()) {
		return []Finding{{
			CheckID:     "sessions.perms",
			Severity:    SeverityCritical,
			Title:       "session directory readable by other users",
			Detail:      info.Mode().Perm().String(),
			Remediation: "chmod 700 " + dir,
		}}
	}
	return nil
}

func checkToken(cfg *config.Config) []Finding {
	var findings []Finding
	token := cfg.Gateway.EffectiveToken()
	switch {
	case token == "":
		findings = append(findings, Finding{
			CheckID:     "token.missing",
			Severity:    SeverityCritical,
			Title:       "no gateway auth token configured",
			Remediation: "run `haya init` or set " + config.GatewayTokenEnvVar,
		})
	case len(token) < 64:
		findings = append(findings, Finding{
			CheckID:     "token.weak",
			Severity:    SeverityCritical,
			Title:       "gateway token shorter than 64 characters",
			Remediation: "generate a 64-hex token with `haya init`",
		})
	case uniformToken(token):
		findings = append(findings, Finding{
			CheckID:     "token.weak",
			Severity:    SeverityWarn,
			Title:       "gateway token has very low entropy",
			Remediation: "generate a random token with `haya init`",
		})
	}
	if cfg.Gateway.Auth.Token != "" && os.Getenv(config.GatewayTokenEnvVar) == "" {
		findings = append(findings, Finding{
			CheckID:     "token.in-file",
			Severity:    SeverityInfo,
			Title:       "gateway token stored in the config file",
			Remediation: "prefer " + config.GatewayTokenEnvVar + " so the file carries no secret",
		})
	}
	return findings
}

// uniformToken flags tokens drawn from fewer than four distinct bytes.
func uniformToken(token string) bool {
	seen := map[byte]struct{}{}
	for i := 0; i < len(token); i++ {
		seen[token[i]] = struct{}{}
	}
	return len(seen) < 4
}

func checkExposure(cfg *config.Config) []Finding {
	var findings []Finding
	gw := cfg.Gateway
	if gw.Bind != config.BindLoopback && !gw.TLS.Enabled {
		findings = append(findings, Finding{
			CheckID:     "gateway.exposure",
			Severity:    SeverityCritical,
			Title:       "non-loopback bind without TLS",
			Detail:      "bind=" + gw.Bind,
			Remediation: "enable gateway.tls or bind to loopback",
		})
	}
	if gw.Bind != config.BindLoopback && cfg.SenderAuth.Mode == config.SenderAuthOpen {
		findings = append(findings, Finding{
			CheckID:     "senderauth.open",
			Severity:    SeverityWarn,
			Title:       "open sender auth on an exposed gateway",
			Remediation: "set senderAuth.mode to allowlist or pairing",
		})
	}
	if len(gw.TrustedProxies) > 0 && gw.Bind == config.BindLoopback {
		findings = append(findings, Finding{
			CheckID:  "gateway.proxies",
			Severity: SeverityInfo,
			Title:    "trusted proxies configured on a loopback-only gateway",
			Detail:   "proxy headers are honored only for listed peers; harmless but likely stale",
		})
	}
	return findings
}

func checkTLSMaterial(cfg *config.Config) []Finding {
	tlsCfg := cfg.Gateway.TLS
	if !tlsCfg.Enabled || tlsCfg.CertPath == "" {
		return nil
	}
	var findings []Finding
	if info, err := os.Stat(tlsCfg.KeyPath); err == nil && (isWorldAccessible(info.Mode()) || isGroupAccessible(info.Mode())) {
		findings = append(findings, Finding{
			CheckID:     "tls.key-perms",
			Severity:    SeverityCritical,
			Title:       "TLS private key readable by other users",
			Detail:      info.Mode().Perm().String(),
			Remediation: "chmod 600 " + tlsCfg.KeyPath,
		})
	}
	raw, err := os.ReadFile(tlsCfg.CertPath)
	if err != nil {
		// Minted on first start.
		return findings
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return append(findings, Finding{
			CheckID:  "tls.cert",
			Severity: SeverityWarn,
			Title:    "TLS certificate is not valid PEM",
			Detail:   tlsCfg.CertPath,
		})
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return append(findings, Finding{
			CheckID:  "tls.cert",
			Severity: SeverityWarn,
			Title:    "TLS certificate unparseable",
			Detail:   err.Error(),
		})
	}
	switch until := time.Until(cert.NotAfter); {
	case until <= 0:
		findings = append(findings, Finding{
			CheckID:     "tls.expiry",
			Severity:    SeverityCritical,
			Title:       "TLS certificate expired",
			Detail:      cert.NotAfter.Format(time.RFC3339),
			Remediation: "delete the pair; a fresh one is minted on start",
		})
	case until < 30*24*time.Hour:
		findings = append(findings, Finding{
			CheckID:  "tls.expiry",
			Severity: SeverityWarn,
			Title:    "TLS certificate expires within 30 days",
			Detail:   cert.NotAfter.Format(time.RFC3339),
		})
	}
	return findings
}
