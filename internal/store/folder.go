package store

import "sync"

// Folder is a named, ordered sequence of messages within a mailbox.
// Append order is sequence-number order. Every resident message UID is below
// uidNext, and uidNext never decreases within a uidValidity generation.
type Folder struct {
	mu          sync.Mutex
	name        string
	messages    []*Message
	uidNext     uint32
	uidValidity uint32
}

func newFolder(name string) *Folder {
	return &Folder{
		name:        name,
		uidNext:     1,
		uidValidity: 1,
	}
}

// Name returns the folder name.
func (f *Folder) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

func (f *Folder) setName(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
}

// UIDNext returns the next UID the folder will assign.
func (f *Folder) UIDNext() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidNext
}

// UIDValidity returns the folder's UID generation stamp.
func (f *Folder) UIDValidity() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidValidity
}

// Append adds a message to the end of the folder, assigning it the next UID.
// Returns the assigned UID.
func (f *Folder) Append(msg *Message) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := f.uidNext
	msg.SetUID(uid)
	f.uidNext++
	f.messages = append(f.messages, msg)
	return uid
}

// Restore adds a message keeping its existing UID, bumping uidNext past it.
// Used when loading a persisted store.
func (f *Folder) Restore(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uid := msg.UID(); uid >= f.uidNext {
		f.uidNext = uid + 1
	}
	f.messages = append(f.messages, msg)
}

// RestoreUIDState sets the folder's UID counters when loading a persisted
// store. uidNext is never lowered below its current value.
func (f *Folder) RestoreUIDState(uidNext, uidValidity uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uidNext > f.uidNext {
		f.uidNext = uidNext
	}
	if uidValidity > 0 {
		f.uidValidity = uidValidity
	}
}

// Messages returns a snapshot of the folder's messages in sequence order.
func (f *Folder) Messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// MessageCount returns the number of messages in the folder.
func (f *Folder) MessageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// TotalSize returns the sum of all message sizes in octets.
func (f *Folder) TotalSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, m := range f.messages {
		total += int64(m.Size())
	}
	return total
}

// Message returns a message by 1-based sequence number.
func (f *Folder) Message(seqNum int) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seqNum < 1 || seqNum > len(f.messages) {
		return nil, ErrMessageNotFound
	}
	return f.messages[seqNum-1], nil
}

// MessageByUID returns a message by its unique identifier.
func (f *Folder) MessageByUID(uid uint32) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.UID() == uid {
			return m, nil
		}
	}
	return nil, ErrMessageNotFound
}

// Remove deletes the message at the given 1-based sequence number.
func (f *Folder) Remove(seqNum int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seqNum < 1 || seqNum > len(f.messages) {
		return ErrMessageNotFound
	}
	f.messages = append(f.messages[:seqNum-1], f.messages[seqNum:]...)
	return nil
}

// Expunge removes all messages flagged \Deleted and returns their former
// 1-based sequence numbers in descending order.
func (f *Folder) Expunge() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []int
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].HasFlag(FlagDeleted) {
			removed = append(removed, i+1)
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
		}
	}
	return removed
}
