// Package doctor runs environment diagnostics for an installation: file
// layout, port availability, secret presence, and TLS material. Repairs
// fix what is safely fixable.
package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/hayahq/haya/internal/config"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one diagnostic result.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is a full doctor pass.
type Report struct {
	Checks []Check `json:"checks"`
}

// Healthy reports whether no check failed outright.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// Run executes every diagnostic against the loaded config.
func Run(cfg *config.Config) *Report {
	r := &Report{}
	r.Checks = append(r.Checks, checkDirWritable("sessions directory", cfg.SessionsDir()))
	r.Checks = append(r.Checks, checkDirWritable("data directory", cfg.DataDir()))
	r.Checks = append(r.Checks, checkPort(cfg.Gateway.ListenAddr()))
	r.Checks = append(r.Checks, checkProviderKey(cfg))
	r.Checks = append(r.Checks, checkChannelSecrets(cfg)...)
	r.Checks = append(r.Checks, checkCronStore(cfg))
	return r
}

// Repair creates missing directories with owner-only permissions and
// tightens loose ones. It returns what it changed.
func Repair(cfg *config.Config) ([]string, error) {
	var fixed []string
	for _, dir := range []string{cfg.SessionsDir(), cfg.DataDir(), cfg.UsageDir()} {
		info, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fixed, err
			}
			fixed = append(fixed, "created "+dir)
		case err != nil:
			return fixed, err
		case info.Mode().Perm() != 0o700:
			if err := os.Chmod(dir, 0o700); err != nil {
				return fixed, err
			}
			fixed = append(fixed, "tightened "+dir)
		}
	}
	if path := cfg.Path(); path != "" {
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
			if err := os.Chmod(path, 0o600); err != nil {
				return fixed, err
			}
			fixed = append(fixed, "tightened "+path)
		}
	}
	return fixed, nil
}

func checkDirWritable(name, dir string) Check {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Status: StatusFail, Detail: err.Error()}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return Check{Name: name, Status: StatusFail, Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return Check{Name: name, Status: StatusPass, Detail: dir}
}

// checkPort reports whether the gateway address is free. A busy port is a
// warning, not a failure: the usual cause is a running daemon.
func checkPort(addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "gateway port", Status: StatusWarn,
			Detail: fmt.Sprintf("%s is in use (daemon already running?)", addr)}
	}
	_ = ln.Close()
	return Check{Name: "gateway port", Status: StatusPass, Detail: addr}
}

func checkProviderKey(cfg *config.Config) Check {
	name := "provider credentials"
	envVar := cfg.Agent.DefaultProviderAPIKeyEnvVar
	if envVar == "" {
		// Bedrock resolves credentials through the AWS chain.
		return Check{Name: name, Status: StatusPass,
			Detail: cfg.Agent.DefaultProvider + " uses ambient credentials"}
	}
	if os.Getenv(envVar) == "" {
		return Check{Name: name, Status: StatusFail,
			Detail: envVar + " is not set"}
	}
	return Check{Name: name, Status: StatusPass, Detail: envVar + " present"}
}

// checkChannelSecrets verifies that every *EnvVar setting of an enabled
// channel resolves to a non-empty environment variable.
func checkChannelSecrets(cfg *config.Config) []Check {
	var checks []Check
	for id, cc := range cfg.Channels {
		for key, val := range cc.Settings {
			if !strings.HasSuffix(key, "EnvVar") {
				continue
			}
			envVar, ok := val.(string)
			name := fmt.Sprintf("channel %s secret", id)
			if !ok || envVar == "" {
				checks = append(checks, Check{Name: name, Status: StatusFail,
					Detail: key + " is not a string"})
				continue
			}
			if os.Getenv(envVar) == "" {
				checks = append(checks, Check{Name: name, Status: StatusFail,
					Detail: envVar + " is not set"})
				continue
			}
			checks = append(checks, Check{Name: name, Status: StatusPass, Detail: envVar + " present"})
		}
	}
	return checks
}

func checkCronStore(cfg *config.Config) Check {
	path := cfg.CronStorePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Check{Name: "cron store", Status: StatusPass, Detail: "not created yet"}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Check{Name: "cron store", Status: StatusFail, Detail: err.Error()}
	}
	if len(raw) > 0 && raw[0] != '{' && raw[0] != '[' {
		return Check{Name: "cron store", Status: StatusFail, Detail: "not JSON"}
	}
	return Check{Name: "cron store", Status: StatusPass, Detail: path}
}
