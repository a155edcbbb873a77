package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/hayahq/haya/internal/errdefs"
)

// Bind modes for the gateway listener.
const (
	BindLoopback = "loopback"
	BindLAN      = "lan"
	BindCustom   = "custom"
)

// GatewayConfig describes the single TCP surface.
type GatewayConfig struct {
	Port           int        `json:"port,omitempty"`
	Bind           string     `json:"bind,omitempty" jsonschema:"enum=loopback,enum=lan,enum=custom"`
	Host           string     `json:"host,omitempty"`
	Auth           AuthConfig `json:"auth,omitempty"`
	TLS            TLSConfig  `json:"tls,omitempty"`
	TrustedProxies []string   `json:"trustedProxies,omitempty"`
}

// AuthConfig holds the shared-token settings. The token may also arrive via
// ASSISTANT_GATEWAY_TOKEN, which wins over the file.
type AuthConfig struct {
	Mode  string `json:"mode,omitempty" jsonschema:"enum=token"`
	Token string `json:"token,omitempty"`
}

// TLSConfig controls the TLS listener. Certificate material is minted on
// first start when the paths are empty.
type TLSConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	CertPath string `json:"certPath,omitempty"`
	KeyPath  string `json:"keyPath,omitempty"`
}

func (g *GatewayConfig) applyDefaults() {
	if g.Port == 0 {
		g.Port = 3000
	}
	if g.Bind == "" {
		g.Bind = BindLoopback
	}
	if g.Auth.Mode == "" {
		g.Auth.Mode = "token"
	}
}

func (g *GatewayConfig) validate() error {
	if g.Port < 1 || g.Port > 65535 {
		return errdefs.Configf("gateway.port %d: must be within 1-65535", g.Port)
	}
	switch g.Bind {
	case BindLoopback:
	case BindLAN, BindCustom:
		if !g.TLS.Enabled {
			return errdefs.Configf("gateway.bind %q requires gateway.tls.enabled", g.Bind)
		}
	default:
		return errdefs.Configf("gateway.bind %q: must be loopback, lan, or custom", g.Bind)
	}
	if g.Bind == BindCustom && strings.TrimSpace(g.Host) == "" {
		return errdefs.Configf("gateway.bind custom requires gateway.host")
	}
	if g.Auth.Mode != "token" {
		return errdefs.Configf("gateway.auth.mode %q: only token is supported", g.Auth.Mode)
	}
	if g.Auth.Token != "" && len(g.Auth.Token) < 64 {
		return errdefs.Configf("gateway.auth.token: must be at least 64 characters")
	}
	if g.TLS.Enabled && (g.TLS.CertPath == "" || g.TLS.KeyPath == "") {
		return errdefs.Configf("gateway.tls requires certPath and keyPath")
	}
	for _, entry := range g.TrustedProxies {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err == nil {
			continue
		}
		return errdefs.Configf("gateway.trustedProxies %q: not an IP or CIDR", entry)
	}
	return nil
}

// ListenAddr converts the bind mode to a net.Listen address.
func (g *GatewayConfig) ListenAddr() string {
	switch g.Bind {
	case BindLAN:
		return fmt.Sprintf("0.0.0.0:%d", g.Port)
	case BindCustom:
		return fmt.Sprintf("%s:%d", g.Host, g.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", g.Port)
	}
}

// EffectiveToken resolves the gateway auth token: environment first, file
// second. Empty means no token is configured.
func (g *GatewayConfig) EffectiveToken() string {
	if env := os.Getenv(GatewayTokenEnvVar); env != "" {
		return env
	}
	return g.Auth.Token
}
