// Package mailmock assembles simulated SMTP, POP3, and IMAP servers around a
// shared in-memory mailbox store. A Stack is the top-level object tests and
// the command-line tool create: it provisions accounts, wires authentication
// and TLS, and owns the lifecycle of the protocol servers.
package mailmock

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/infodancer/mailmock/internal/certs"
	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/imap"
	"github.com/infodancer/mailmock/internal/metrics"
	"github.com/infodancer/mailmock/internal/pop3"
	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/server"
	"github.com/infodancer/mailmock/internal/smtp"
	"github.com/infodancer/mailmock/internal/store"
)

// StackConfig bundles everything needed to build a Stack. Only Config is
// required; empty fields get working defaults.
type StackConfig struct {
	Config config.Config

	// TLSConfig overrides certificate loading. When nil and the
	// configuration names no certificate files, a self-signed certificate
	// is generated for the configured hostname.
	TLSConfig *tls.Config

	// Store lets tests inject a pre-populated mailbox store. When nil a
	// fresh store is created and the configured accounts are provisioned.
	Store *store.Store

	Collector metrics.Collector
	Logger    *slog.Logger

	// Clock provides timestamps for banners and digests. Nil = time.Now.
	Clock func() time.Time
}

// Stack owns one server instance per enabled protocol plus the shared store.
type Stack struct {
	cfg   config.Config
	store *store.Store

	smtp *server.Server
	pop3 *server.Server
	imap *server.Server

	started []*server.Server
}

// NewStack builds the protocol servers described by the configuration.
// Nothing listens until Start is called.
func NewStack(sc StackConfig) (*Stack, error) {
	cfg := sc.Config
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := sc.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	st := sc.Store
	if st == nil {
		st = store.New()
	}
	for _, account := range cfg.Accounts {
		email := account.Email
		if email == "" {
			email = account.Login + "@" + cfg.Hostname
		}
		if _, err := st.CreateMailbox(account.Login, account.Secret, email); err != nil {
			return nil, fmt.Errorf("provision account %q: %w", account.Login, err)
		}
	}

	tlsConfig, err := buildTLSConfig(sc, cfg)
	if err != nil {
		return nil, err
	}

	s := &Stack{cfg: cfg, store: st}

	lookup := func(username string) (string, bool) {
		mb, err := st.GetMailbox(username)
		if err != nil {
			return "", false
		}
		return mb.Secret(), true
	}

	newRegistry := func(pc config.ProtocolConfig) (*sasl.Registry, error) {
		registry := sasl.NewRegistry(sasl.NewAuthenticator(cfg.Hostname, lookup))
		if len(pc.Mechanisms) > 0 {
			if err := registry.Enable(pc.Mechanisms); err != nil {
				return nil, err
			}
		}
		return registry, nil
	}

	newServer := func(protocol string, pc config.ProtocolConfig) *server.Server {
		return server.New(server.Config{
			Protocol:    protocol,
			Port:        pc.Port,
			TLSConfig:   tlsConfig,
			ImplicitTLS: pc.Mode == config.ModeTLS,
			Logger:      logger,
			Collector:   collector,
			Clock:       sc.Clock,
		})
	}

	if cfg.SMTP.Enabled {
		registry, err := newRegistry(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		s.smtp = newServer("smtp", cfg.SMTP)
		backend := smtp.NewBackend(cfg.Hostname, cfg.SMTP, st, registry, tlsConfig, collector, sc.Clock)
		s.smtp.SetHandler(backend.Handler())
	}
	if cfg.POP3.Enabled {
		registry, err := newRegistry(cfg.POP3)
		if err != nil {
			return nil, fmt.Errorf("pop3: %w", err)
		}
		s.pop3 = newServer("pop3", cfg.POP3)
		backend := pop3.NewBackend(cfg.Hostname, cfg.POP3, st, registry, tlsConfig, collector, sc.Clock)
		s.pop3.SetHandler(backend.Handler())
	}
	if cfg.IMAP.Enabled {
		registry, err := newRegistry(cfg.IMAP)
		if err != nil {
			return nil, fmt.Errorf("imap: %w", err)
		}
		s.imap = newServer("imap", cfg.IMAP)
		backend := imap.NewBackend(cfg.Hostname, cfg.IMAP, st, registry, tlsConfig, collector, sc.Clock)
		s.imap.SetHandler(backend.Handler())
	}

	return s, nil
}

func buildTLSConfig(sc StackConfig, cfg config.Config) (*tls.Config, error) {
	if sc.TLSConfig != nil {
		return sc.TLSConfig, nil
	}
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   cfg.TLS.MinTLSVersion(),
		}, nil
	}
	tlsConfig, err := certs.ServerTLSConfig("mail", cfg.Hostname)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	tlsConfig.MinVersion = cfg.TLS.MinTLSVersion()
	return tlsConfig, nil
}

// Start opens the listening sockets of every enabled server. On failure any
// already-started server is stopped again.
func (s *Stack) Start() error {
	for _, srv := range s.servers() {
		if err := srv.Start(); err != nil {
			s.Stop()
			return err
		}
		s.started = append(s.started, srv)
	}
	return nil
}

// Stop shuts down every started server.
func (s *Stack) Stop() {
	for _, srv := range s.started {
		srv.Stop()
	}
	s.started = nil
}

func (s *Stack) servers() []*server.Server {
	var out []*server.Server
	for _, srv := range []*server.Server{s.smtp, s.pop3, s.imap} {
		if srv != nil {
			out = append(out, srv)
		}
	}
	return out
}

// Store returns the shared mailbox store.
func (s *Stack) Store() *store.Store { return s.store }

// SMTP returns the SMTP server, or nil when disabled.
func (s *Stack) SMTP() *server.Server { return s.smtp }

// POP3 returns the POP3 server, or nil when disabled.
func (s *Stack) POP3() *server.Server { return s.pop3 }

// IMAP returns the IMAP server, or nil when disabled.
func (s *Stack) IMAP() *server.Server { return s.imap }

// SMTPPort returns the bound SMTP port, or 0 when the server is disabled.
func (s *Stack) SMTPPort() int { return portOf(s.smtp) }

// POP3Port returns the bound POP3 port, or 0 when the server is disabled.
func (s *Stack) POP3Port() int { return portOf(s.pop3) }

// IMAPPort returns the bound IMAP port, or 0 when the server is disabled.
func (s *Stack) IMAPPort() int { return portOf(s.imap) }

func portOf(srv *server.Server) int {
	if srv == nil {
		return 0
	}
	return srv.Port()
}
