package smtp

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/metrics"
	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/store"
)

// Transaction is one completed or in-progress mail transaction.
type Transaction struct {
	Sender     string
	Recipients []string
	Data       string
	Received   time.Time
}

// Backend holds the shared state behind every SMTP session: the mailbox
// store, the SASL registry, and the archive of completed transactions.
type Backend struct {
	hostname  string
	cfg       config.ProtocolConfig
	store     *store.Store
	registry  *sasl.Registry
	tlsConfig *tls.Config
	collector metrics.Collector
	clock     func() time.Time

	mu           sync.Mutex
	transactions []*Transaction
}

// NewBackend creates an SMTP backend. clock may be nil, in which case
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

// Store returns the mailbox store messages are delivered into.
func (b *Backend) Store() *store.Store {
	return b.store
}

// Transactions returns a snapshot of all archived transactions, oldest first.
func (b *Backend) Transactions() []*Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Transaction, len(b.transactions))
	copy(out, b.transactions)
	return out
}

// archive appends a completed transaction to the backend history.
func (b *Backend) archive(txn *Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transactions = append(b.transactions, txn)
}

// deliver stores one copy of content in the INBOX of every recipient that
// resolves to a known mailbox. Unresolved recipients are dropped silently.
func (b *Backend) deliver(recipients []string, content string) {
	for _, rcpt := range recipients {
		mbox, err := b.store.FindMailbox(rcpt)
		if err != nil {
			continue
		}
		msg := store.NewMessage(content)
		msg.SetDate(b.clock())
		mbox.Inbox().Append(msg)
		b.collector.MessageDelivered(int64(msg.Size()))
	}
}

// Session tracks the state of one SMTP connection.
type Session struct {
	backend *Backend

	helloName     string
	extended      bool
	authenticated bool
	username      string

	txn *Transaction
}

// NewSession creates a session bound to the backend.
func NewSession(b *Backend) *Session {
	return &Session{backend: b}
}

// Hostname returns the advertised server hostname.
func (s *Session) Hostname() string {
	return s.backend.hostname
}

// Greeted reports whether the client has sent HELO or EHLO.
func (s *Session) Greeted() bool {
	return s.helloName != ""
}

// Authenticated reports whether a SASL exchange has completed.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Username returns the authenticated username, or "".
func (s *Session) Username() string {
	return s.username
}

// setAuthenticated records a successful authentication.
func (s *Session) setAuthenticated(username string) {
	s.authenticated = true
	s.username = username
}

// reset clears hello, authentication, and transaction state. Used after a
// STARTTLS upgrade, which returns the session to its initial state.
func (s *Session) reset() {
	s.helloName = ""
	s.extended = false
	s.authenticated = false
	s.username = ""
	s.txn = nil
}

// abortTransaction discards any open transaction without archiving it.
func (s *Session) abortTransaction() {
	s.txn = nil
}
