package store

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Standard message flags. System flags use the backslash prefix; keyword
// flags use the dollar prefix. Flag tokens are case-sensitive.
const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
	FlagRecent   = `\Recent`
	FlagJunk     = "$Junk"
	FlagNotJunk  = "$NotJunk"
)

// Message is a stored mail message: immutable content plus a mutable flag set.
type Message struct {
	mu      sync.Mutex
	content string
	uid     uint32
	date    time.Time
	flags   map[string]struct{}
}

// NewMessage creates a message. The UID defaults to a hash of the content
// until the message is appended to a folder, which assigns the folder's next
// UID.
func NewMessage(content string) *Message {
	h := fnv.New32a()
	h.Write([]byte(content))
	return &Message{
		content: content,
		uid:     h.Sum32(),
		date:    time.Now(),
		flags:   make(map[string]struct{}),
	}
}

// Content returns the raw message text.
func (m *Message) Content() string {
	return m.content
}

// Size returns the content length in octets.
func (m *Message) Size() int {
	return len(m.content)
}

// UID returns the message's unique identifier.
func (m *Message) UID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid
}

// SetUID assigns the message's unique identifier.
func (m *Message) SetUID(uid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid = uid
}

// Date returns the message's internal date.
func (m *Message) Date() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.date
}

// SetDate assigns the message's internal date.
func (m *Message) SetDate(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.date = t
}

// SetFlag adds a flag to the message. Setting $Junk clears $NotJunk and vice
// versa; the two are mutually exclusive.
func (m *Message) SetFlag(flag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setFlagLocked(flag)
}

func (m *Message) setFlagLocked(flag string) {
	switch flag {
	case FlagJunk:
		delete(m.flags, FlagNotJunk)
	case FlagNotJunk:
		delete(m.flags, FlagJunk)
	}
	m.flags[flag] = struct{}{}
}

// ClearFlag removes a flag from the message.
func (m *Message) ClearFlag(flag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, flag)
}

// ReplaceFlags replaces the whole flag set.
func (m *Message) ReplaceFlags(flags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = make(map[string]struct{})
	for _, f := range flags {
		m.setFlagLocked(f)
	}
}

// HasFlag returns true if the message carries the given flag.
func (m *Message) HasFlag(flag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flags[flag]
	return ok
}

// Flags returns the message's flags sorted lexically.
func (m *Message) Flags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
