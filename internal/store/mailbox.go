package store

import (
	"strings"
	"sync"
)

// Inbox is the folder every mailbox owns for its lifetime.
const Inbox = "INBOX"

// HierarchyDelimiter separates folder name levels.
const HierarchyDelimiter = "."

// Mailbox is one provisioned account: identity plus a set of named folders.
// INBOX exists from creation and is always first in iteration order.
type Mailbox struct {
	mu       sync.Mutex
	username string
	secret   string
	email    string
	folders  []*Folder
}

func newMailbox(username, secret, email string) *Mailbox {
	return &Mailbox{
		username: username,
		secret:   secret,
		email:    email,
		folders:  []*Folder{newFolder(Inbox)},
	}
}

// Username returns the account login name.
func (mb *Mailbox) Username() string {
	return mb.username
}

// Secret returns the account secret. It may be a plaintext password or a
// bcrypt hash; challenge-response mechanisms require plaintext.
func (mb *Mailbox) Secret() string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.secret
}

// Email returns the account's delivery address.
func (mb *Mailbox) Email() string {
	return mb.email
}

// Inbox returns the INBOX folder.
func (mb *Mailbox) Inbox() *Folder {
	f, _ := mb.Folder(Inbox)
	return f
}

// Folders returns a snapshot of the mailbox folders, INBOX first.
func (mb *Mailbox) Folders() []*Folder {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]*Folder, len(mb.folders))
	copy(out, mb.folders)
	return out
}

// Folder looks up a folder by name. An exact match is preferred; otherwise
// the lookup is case-insensitive. INBOX always matches case-insensitively.
func (mb *Mailbox) Folder(name string) (*Folder, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.folderLocked(name)
}

func (mb *Mailbox) folderLocked(name string) (*Folder, error) {
	if strings.EqualFold(name, Inbox) {
		return mb.folders[0], nil
	}
	for _, f := range mb.folders {
		if f.Name() == name {
			return f, nil
		}
	}
	for _, f := range mb.folders {
		if strings.EqualFold(f.Name(), name) {
			return f, nil
		}
	}
	return nil, ErrFolderNotFound
}

// CreateFolder creates a folder, creating missing parents along the
// hierarchy delimiter. Returns the created folder.
func (mb *Mailbox) CreateFolder(name string) (*Folder, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, err := mb.folderLocked(name); err == nil {
		return nil, ErrFolderExists
	}

	parts := strings.Split(name, HierarchyDelimiter)
	var created *Folder
	for i := range parts {
		prefix := strings.Join(parts[:i+1], HierarchyDelimiter)
		if f, err := mb.folderLocked(prefix); err == nil {
			created = f
			continue
		}
		created = newFolder(prefix)
		mb.folders = append(mb.folders, created)
	}
	return created, nil
}

// DeleteFolder removes a folder. INBOX cannot be deleted, and a folder with
// inferior folders cannot be deleted.
func (mb *Mailbox) DeleteFolder(name string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	f, err := mb.folderLocked(name)
	if err != nil {
		return err
	}
	if f == mb.folders[0] {
		return ErrFolderNotDeleted
	}

	prefix := f.Name() + HierarchyDelimiter
	for _, other := range mb.folders {
		if strings.HasPrefix(other.Name(), prefix) {
			return ErrFolderHasChildren
		}
	}

	for i, other := range mb.folders {
		if other == f {
			mb.folders = append(mb.folders[:i], mb.folders[i+1:]...)
			return nil
		}
	}
	return ErrFolderNotFound
}

// RenameFolder renames a folder, preserving its messages and UID state.
// Renaming INBOX instead moves its messages to a new folder and leaves an
// empty INBOX behind, per the IMAP special case.
func (mb *Mailbox) RenameFolder(oldName, newName string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, err := mb.folderLocked(newName); err == nil {
		return ErrFolderExists
	}

	f, err := mb.folderLocked(oldName)
	if err != nil {
		return err
	}

	if f == mb.folders[0] {
		dest := newFolder(newName)
		for _, msg := range f.Messages() {
			dest.Append(msg)
		}
		for i := f.MessageCount(); i > 0; i-- {
			_ = f.Remove(i)
		}
		mb.folders = append(mb.folders, dest)
		return nil
	}

	f.setName(newName)
	return nil
}
