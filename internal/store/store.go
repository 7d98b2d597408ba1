// Package store implements the in-memory mailbox store the protocol servers
// operate on: accounts, folders, messages, flags, and UIDs.
//
// All containers are guarded by their own mutex so that test code may inspect
// live state while a connection is being served.
package store

import (
	"strings"
	"sync"
)

// Store owns all provisioned mailboxes, keyed case-insensitively by username.
// Entries are created by provisioning calls only, never by protocol traffic.
type Store struct {
	mu        sync.Mutex
	mailboxes []*Mailbox
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// GetMailbox looks up a mailbox by username. An exact match is preferred;
// otherwise the lookup is case-insensitive.
func (s *Store) GetMailbox(username string) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mb := range s.mailboxes {
		if mb.username == username {
			return mb, nil
		}
	}
	for _, mb := range s.mailboxes {
		if strings.EqualFold(mb.username, username) {
			return mb, nil
		}
	}
	return nil, ErrMailboxNotFound
}

// FindMailbox resolves a recipient address to a mailbox, matching the email
// address first and the username second, both case-insensitively.
func (s *Store) FindMailbox(email string) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mb := range s.mailboxes {
		if strings.EqualFold(mb.email, email) {
			return mb, nil
		}
	}
	for _, mb := range s.mailboxes {
		if strings.EqualFold(mb.username, email) {
			return mb, nil
		}
	}
	return nil, ErrMailboxNotFound
}

// CreateMailbox provisions a mailbox with a default INBOX folder.
func (s *Store) CreateMailbox(username, secret, email string) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mb := range s.mailboxes {
		if strings.EqualFold(mb.username, username) {
			return nil, ErrMailboxExists
		}
	}

	mb := newMailbox(username, secret, email)
	s.mailboxes = append(s.mailboxes, mb)
	return mb, nil
}

// DeleteMailbox removes a mailbox by username.
func (s *Store) DeleteMailbox(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, mb := range s.mailboxes {
		if strings.EqualFold(mb.username, username) {
			s.mailboxes = append(s.mailboxes[:i], s.mailboxes[i+1:]...)
			return nil
		}
	}
	return ErrMailboxNotFound
}

// Mailboxes returns a snapshot of all provisioned mailboxes.
func (s *Store) Mailboxes() []*Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Mailbox, len(s.mailboxes))
	copy(out, s.mailboxes)
	return out
}
