package store

import (
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) (*Store, *Mailbox) {
	t.Helper()
	s := New()
	mb, err := s.CreateMailbox("alice", "wonderland", "alice@example.com")
	if err != nil {
		t.Fatalf("CreateMailbox() error = %v", err)
	}
	return s, mb
}

func TestCreateMailboxProvisionsInbox(t *testing.T) {
	_, mb := newTestStore(t)

	folders := mb.Folders()
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
	if folders[0].Name() != Inbox {
		t.Errorf("first folder = %q, want INBOX", folders[0].Name())
	}
	if folders[0].UIDNext() != 1 {
		t.Errorf("uidNext = %d, want 1", folders[0].UIDNext())
	}
	if folders[0].UIDValidity() != 1 {
		t.Errorf("uidValidity = %d, want 1", folders[0].UIDValidity())
	}
}

func TestGetMailbox(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"exact match", "alice", false},
		{"case-insensitive match", "ALICE", false},
		{"unknown user", "bob", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetMailbox(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetMailbox(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestFindMailbox(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.FindMailbox("alice@example.com"); err != nil {
		t.Errorf("FindMailbox by email: %v", err)
	}
	if _, err := s.FindMailbox("Alice@Example.Com"); err != nil {
		t.Errorf("FindMailbox by email case-insensitive: %v", err)
	}
	if _, err := s.FindMailbox("alice"); err != nil {
		t.Errorf("FindMailbox by username: %v", err)
	}
	if _, err := s.FindMailbox("bob@example.com"); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("FindMailbox unknown = %v, want ErrMailboxNotFound", err)
	}
}

func TestCreateMailboxDuplicate(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.CreateMailbox("ALICE", "x", "other@example.com"); !errors.Is(err, ErrMailboxExists) {
		t.Errorf("duplicate create = %v, want ErrMailboxExists", err)
	}
}

func TestDeleteMailbox(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.DeleteMailbox("alice"); err != nil {
		t.Fatalf("DeleteMailbox() error = %v", err)
	}
	if _, err := s.GetMailbox("alice"); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("after delete, GetMailbox = %v, want ErrMailboxNotFound", err)
	}
	if err := s.DeleteMailbox("alice"); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("second delete = %v, want ErrMailboxNotFound", err)
	}
}

func TestUIDMonotonicity(t *testing.T) {
	_, mb := newTestStore(t)
	f := mb.Inbox()

	// Interleave appends and removals; UIDs must stay below uidNext and
	// uidNext must never decrease.
	var lastUIDNext uint32
	for i := 0; i < 20; i++ {
		f.Append(NewMessage(fmt.Sprintf("message %d\r\n", i)))
		if i%3 == 0 && f.MessageCount() > 1 {
			if err := f.Remove(1); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
		}

		next := f.UIDNext()
		if next < lastUIDNext {
			t.Fatalf("uidNext decreased: %d -> %d", lastUIDNext, next)
		}
		lastUIDNext = next

		for _, m := range f.Messages() {
			if m.UID() >= next {
				t.Fatalf("message UID %d >= uidNext %d", m.UID(), next)
			}
		}
	}
}

func TestMessageDefaultUIDIsContentHash(t *testing.T) {
	a := NewMessage("identical body\r\n")
	b := NewMessage("identical body\r\n")
	c := NewMessage("different body\r\n")

	if a.UID() != b.UID() {
		t.Error("identical content should hash to identical default UIDs")
	}
	if a.UID() == c.UID() {
		t.Error("different content should hash to different default UIDs")
	}
}

func TestJunkFlagExclusion(t *testing.T) {
	m := NewMessage("body\r\n")

	m.SetFlag(FlagJunk)
	if !m.HasFlag(FlagJunk) || m.HasFlag(FlagNotJunk) {
		t.Errorf("after $Junk: flags = %v", m.Flags())
	}

	m.SetFlag(FlagNotJunk)
	if m.HasFlag(FlagJunk) || !m.HasFlag(FlagNotJunk) {
		t.Errorf("after $NotJunk: flags = %v", m.Flags())
	}

	m.ReplaceFlags([]string{FlagSeen, FlagJunk, FlagNotJunk})
	if m.HasFlag(FlagJunk) {
		t.Errorf("ReplaceFlags must apply exclusion in order: flags = %v", m.Flags())
	}
	if !m.HasFlag(FlagSeen) || !m.HasFlag(FlagNotJunk) {
		t.Errorf("flags = %v, want [\\Seen $NotJunk]", m.Flags())
	}
}

func TestExpunge(t *testing.T) {
	_, mb := newTestStore(t)
	f := mb.Inbox()

	for i := 0; i < 5; i++ {
		f.Append(NewMessage(fmt.Sprintf("message %d\r\n", i)))
	}

	// Flag messages 2 and 4 (1-based) for deletion.
	for _, n := range []int{2, 4} {
		m, err := f.Message(n)
		if err != nil {
			t.Fatalf("Message(%d) error = %v", n, err)
		}
		m.SetFlag(FlagDeleted)
	}

	removed := f.Expunge()
	if len(removed) != 2 || removed[0] != 4 || removed[1] != 2 {
		t.Errorf("Expunge() = %v, want [4 2] (descending)", removed)
	}
	if f.MessageCount() != 3 {
		t.Errorf("count = %d, want 3", f.MessageCount())
	}

	// Remaining messages keep their UIDs.
	uids := []uint32{}
	for _, m := range f.Messages() {
		uids = append(uids, m.UID())
	}
	want := []uint32{1, 3, 5}
	for i := range want {
		if uids[i] != want[i] {
			t.Errorf("uids = %v, want %v", uids, want)
			break
		}
	}
}

func TestFolderLookup(t *testing.T) {
	_, mb := newTestStore(t)

	if _, err := mb.CreateFolder("Drafts"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	// Exact match is preferred over case-insensitive.
	if _, err := mb.CreateFolder("drafts"); err == nil {
		t.Fatal("expected case-insensitive duplicate to be rejected")
	}

	f, err := mb.Folder("DRAFTS")
	if err != nil {
		t.Fatalf("Folder(DRAFTS) error = %v", err)
	}
	if f.Name() != "Drafts" {
		t.Errorf("resolved folder = %q, want Drafts", f.Name())
	}

	// INBOX is always case-insensitive.
	if _, err := mb.Folder("inbox"); err != nil {
		t.Errorf("Folder(inbox) error = %v", err)
	}
}

func TestCreateFolderHierarchy(t *testing.T) {
	_, mb := newTestStore(t)

	if _, err := mb.CreateFolder("work.projects.mail"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	for _, name := range []string{"work", "work.projects", "work.projects.mail"} {
		if _, err := mb.Folder(name); err != nil {
			t.Errorf("missing intermediate folder %q: %v", name, err)
		}
	}
}

func TestDeleteFolder(t *testing.T) {
	_, mb := newTestStore(t)

	if _, err := mb.CreateFolder("work.projects"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	if err := mb.DeleteFolder(Inbox); !errors.Is(err, ErrFolderNotDeleted) {
		t.Errorf("delete INBOX = %v, want ErrFolderNotDeleted", err)
	}
	if err := mb.DeleteFolder("work"); !errors.Is(err, ErrFolderHasChildren) {
		t.Errorf("delete parent = %v, want ErrFolderHasChildren", err)
	}
	if err := mb.DeleteFolder("work.projects"); err != nil {
		t.Errorf("delete leaf = %v", err)
	}
	if err := mb.DeleteFolder("work"); err != nil {
		t.Errorf("delete emptied parent = %v", err)
	}
}

func TestRenameFolderPreservesUIDState(t *testing.T) {
	_, mb := newTestStore(t)

	f, err := mb.CreateFolder("old")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	f.Append(NewMessage("one\r\n"))
	f.Append(NewMessage("two\r\n"))

	if err := mb.RenameFolder("old", "new"); err != nil {
		t.Fatalf("RenameFolder() error = %v", err)
	}

	renamed, err := mb.Folder("new")
	if err != nil {
		t.Fatalf("Folder(new) error = %v", err)
	}
	if renamed.MessageCount() != 2 || renamed.UIDNext() != 3 {
		t.Errorf("renamed folder: count=%d uidNext=%d, want 2/3", renamed.MessageCount(), renamed.UIDNext())
	}
	if _, err := mb.Folder("old"); !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("old name still resolves: %v", err)
	}
}

func TestRenameInboxMovesMessages(t *testing.T) {
	_, mb := newTestStore(t)

	inbox := mb.Inbox()
	inbox.Append(NewMessage("one\r\n"))
	inbox.Append(NewMessage("two\r\n"))

	if err := mb.RenameFolder(Inbox, "Archive"); err != nil {
		t.Fatalf("RenameFolder() error = %v", err)
	}

	if inbox.MessageCount() != 0 {
		t.Errorf("INBOX should be emptied, has %d messages", inbox.MessageCount())
	}
	archive, err := mb.Folder("Archive")
	if err != nil {
		t.Fatalf("Folder(Archive) error = %v", err)
	}
	if archive.MessageCount() != 2 {
		t.Errorf("Archive has %d messages, want 2", archive.MessageCount())
	}
	// INBOX still exists and is still first.
	if mb.Folders()[0].Name() != Inbox {
		t.Errorf("first folder = %q, want INBOX", mb.Folders()[0].Name())
	}
}
