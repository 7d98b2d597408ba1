// Package config provides configuration management for the mailmock servers.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
)

// ListenerMode defines how a protocol listener handles encryption.
type ListenerMode string

const (
	// ModePlain is a plaintext listener with STARTTLS offered when
	// certificate material is available.
	ModePlain ListenerMode = "plain"
	// ModeTLS is an implicit-TLS listener.
	ModeTLS ListenerMode = "tls"
)

// Config holds the toolkit configuration: one section per protocol server
// plus shared TLS, metrics, and account provisioning settings.
type Config struct {
	Hostname string `toml:"hostname"`
	LogLevel string `toml:"log_level"`

	SMTP ProtocolConfig `toml:"smtp"`
	POP3 ProtocolConfig `toml:"pop3"`
	IMAP ProtocolConfig `toml:"imap"`

	TLS      TLSConfig       `toml:"tls"`
	Metrics  MetricsConfig   `toml:"metrics"`
	Accounts []AccountConfig `toml:"accounts"`
}

// ProtocolConfig defines settings for a single protocol server.
type ProtocolConfig struct {
	Enabled bool         `toml:"enabled"`
	Port    int          `toml:"port"` // 0 = choose a free port
	Mode    ListenerMode `toml:"mode"`

	// AuthRequired rejects mail transactions from unauthenticated SMTP
	// clients. POP3 and IMAP always require authentication.
	AuthRequired bool `toml:"auth_required"`

	// Mechanisms is the ordered list of SASL mechanisms advertised to
	// clients. An empty list enables all registered mechanisms.
	Mechanisms []string `toml:"mechanisms"`

	// DisabledCommands lists command verbs that reply with a fixed
	// protocol error instead of executing.
	DisabledCommands []string `toml:"disabled_commands"`
}

// TLSConfig holds TLS certificate and version settings. When CertFile and
// KeyFile are empty a self-signed certificate is generated at startup.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// AccountConfig provisions a mailbox in the store at startup.
type AccountConfig struct {
	Login  string `toml:"login"`
	Secret string `toml:"secret"`
	Email  string `toml:"email"`
}

// Default returns a Config with sensible default values. The default ports
// are the conventional test offsets (service port + 3000).
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		SMTP: ProtocolConfig{
			Enabled: true,
			Port:    3025,
			Mode:    ModePlain,
		},
		POP3: ProtocolConfig{
			Enabled: true,
			Port:    3110,
			Mode:    ModePlain,
		},
		IMAP: ProtocolConfig{
			Enabled: true,
			Port:    3143,
			Mode:    ModePlain,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	for _, p := range []struct {
		name string
		cfg  ProtocolConfig
	}{
		{"smtp", c.SMTP},
		{"pop3", c.POP3},
		{"imap", c.IMAP},
	} {
		if !p.cfg.Enabled {
			continue
		}
		if p.cfg.Port < 0 || p.cfg.Port > 65535 {
			return fmt.Errorf("%s: invalid port %d", p.name, p.cfg.Port)
		}
		if !isValidMode(p.cfg.Mode) {
			return fmt.Errorf("%s: invalid mode %q", p.name, p.cfg.Mode)
		}
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}

	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	for i, a := range c.Accounts {
		if a.Login == "" {
			return fmt.Errorf("account %d: login is required", i)
		}
	}

	return nil
}

// CommandDisabled reports whether the given command verb is disabled.
// Comparison is case-insensitive.
func (p *ProtocolConfig) CommandDisabled(name string) bool {
	for _, d := range p.DisabledCommands {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

func isValidMode(m ListenerMode) bool {
	switch m {
	case ModePlain, ModeTLS:
		return true
	default:
		return false
	}
}
