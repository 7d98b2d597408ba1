package imap

import (
	"crypto/tls"
	"time"

	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/metrics"
	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/store"
)

// State is the IMAP session state machine position.
type State int

const (
	// StateNotAuthenticated is the initial state.
	StateNotAuthenticated State = iota

	// StateAuthenticated is entered after LOGIN or AUTHENTICATE.
	StateAuthenticated

	// StateSelected is entered after SELECT or EXAMINE.
	StateSelected

	// StateLogout is entered by LOGOUT; the connection is closing.
	StateLogout
)

// String returns the RFC 9051 name of the state.
func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "NOT-AUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSelected:
		return "SELECTED"
	case StateLogout:
		return "LOGOUT"
	default:
		return "UNKNOWN"
	}
}

// Backend holds the shared state behind every IMAP session.
type Backend struct {
	hostname  string
	cfg       config.ProtocolConfig
	store     *store.Store
	registry  *sasl.Registry
	tlsConfig *tls.Config
	collector metrics.Collector
	clock     func() time.Time
}

// NewBackend creates an IMAP backend. clock may be nil, in which case
// time.Now is used.
func NewBackend(hostname string, cfg config.ProtocolConfig, st *store.Store, registry *sasl.Registry, tlsConfig *tls.Config, collector metrics.Collector, clock func() time.Time) *Backend {
	if clock == nil {
		clock = time.Now
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Backend{
		hostname:  hostname,
		cfg:       cfg,
		store:     st,
		registry:  registry,
		tlsConfig: tlsConfig,
		collector: collector,
		clock:     clock,
	}
}

// Store returns the mailbox store behind the server.
func (b *Backend) Store() *store.Store {
	return b.store
}

// Session tracks one IMAP connection through the state machine.
type Session struct {
	backend *Backend

	state    State
	username string
	mailbox  *store.Mailbox

	// folder and readOnly are set while state == StateSelected.
	folder   *store.Folder
	readOnly bool
}

// NewSession creates a session in the not-authenticated state.
func NewSession(b *Backend) *Session {
	return &Session{backend: b, state: StateNotAuthenticated}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Username returns the authenticated username, or "".
func (s *Session) Username() string {
	return s.username
}

// setAuthenticated binds the session to the named mailbox account.
func (s *Session) setAuthenticated(username string) error {
	mbox, err := s.backend.store.GetMailbox(username)
	if err != nil {
		return err
	}
	s.username = username
	s.mailbox = mbox
	s.state = StateAuthenticated
	return nil
}

// selectFolder moves to the selected state on the named folder.
func (s *Session) selectFolder(folder *store.Folder, readOnly bool) {
	s.folder = folder
	s.readOnly = readOnly
	s.state = StateSelected
}

// deselect leaves the selected state without touching the folder.
func (s *Session) deselect() {
	s.folder = nil
	s.readOnly = false
	s.state = StateAuthenticated
}
