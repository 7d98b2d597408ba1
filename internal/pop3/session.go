package pop3

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/metrics"
	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/store"
)

// State is the POP3 session state machine position.
type State int

const (
	// StateAuthorization is the initial state where authentication happens.
	StateAuthorization State = iota

	// StateTransaction is entered after successful authentication.
	StateTransaction

	// StateUpdate is entered by QUIT from the transaction state, while
	// pending deletions are committed.
	StateUpdate
)

// String returns the RFC 1939 name of the state.
func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Backend holds the shared state behind every POP3 session.
type Backend struct {
	hostname  string
	cfg       config.ProtocolConfig
	store     *store.Store
	registry  *sasl.Registry
	tlsConfig *tls.Config
	collector metrics.Collector
	clock     func() time.Time
}

// NewBackend creates a POP3 backend. clock may be nil, in which case
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

// banner builds the APOP timestamp banner included in the greeting.
func (b *Backend) banner() string {
	return fmt.Sprintf("<%d.%d@%s>", os.Getpid(), b.clock().Unix(), b.hostname)
}

// lookupSecret resolves a username to its stored secret.
func (b *Backend) lookupSecret(username string) (string, bool) {
	mbox, err := b.store.GetMailbox(username)
	if err != nil {
		return "", false
	}
	return mbox.Secret(), true
}

// Session tracks one POP3 connection through the state machine.
type Session struct {
	backend *Backend
	banner  string

	state    State
	username string
	mailbox  *store.Mailbox

	// messages is the maildrop snapshot taken when the transaction opened.
	// Message numbers are 1-based indexes into this slice for the rest of
	// the session.
	messages []*store.Message
	deleted  map[int]bool
}

// NewSession creates a session in the authorization state. banner is the
// greeting timestamp used for APOP verification.
func NewSession(b *Backend, banner string) *Session {
	return &Session{
		backend: b,
		banner:  banner,
		state:   StateAuthorization,
		deleted: make(map[int]bool),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Username returns the authenticated username, or "".
func (s *Session) Username() string {
	return s.username
}

// openTransaction loads the user's maildrop and moves to the transaction
// state.
func (s *Session) openTransaction(username string) error {
	mbox, err := s.backend.store.GetMailbox(username)
	if err != nil {
		return err
	}
	s.username = username
	s.mailbox = mbox
	s.messages = mbox.Inbox().Messages()
	s.state = StateTransaction
	return nil
}

// message returns the numbered message, rejecting deleted and out-of-range
// numbers.
func (s *Session) message(num int) (*store.Message, Response, bool) {
	if num < 1 || num > len(s.messages) {
		return nil, errResponse("no such message"), false
	}
	if s.deleted[num] {
		return nil, errResponse("message is deleted"), false
	}
	return s.messages[num-1], Response{}, true
}

// scanListing returns the (count, total size) of undeleted messages.
func (s *Session) scanListing() (int, int) {
	count, size := 0, 0
	for i, msg := range s.messages {
		if s.deleted[i+1] {
			continue
		}
		count++
		size += msg.Size()
	}
	return count, size
}

// commitDeletions removes messages marked for deletion, highest message
// number first, and returns how many were removed.
func (s *Session) commitDeletions() int {
	s.state = StateUpdate
	folder := s.mailbox.Inbox()

	removed := 0
	for num := len(s.messages); num >= 1; num-- {
		if !s.deleted[num] {
			continue
		}
		target := s.messages[num-1]
		for seq, msg := range folder.Messages() {
			if msg == target {
				if err := folder.Remove(seq + 1); err == nil {
					removed++
					s.backend.collector.MessageExpunged("pop3")
				}
				break
			}
		}
	}
	return removed
}
