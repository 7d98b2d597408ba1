package imap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/infodancer/mailmock/internal/server"
	"github.com/infodancer/mailmock/internal/store"
)

// definedFlags is the flag set advertised by SELECT.
const definedFlags = `\Answered \Flagged \Deleted \Seen \Draft`

type selectCommand struct {
	examine bool
}

func (c *selectCommand) Name() string {
	if c.examine {
		return "EXAMINE"
	}
	return "SELECT"
}

func (c *selectCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	name, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}

	if sess.State() != StateAuthenticated && sess.State() != StateSelected {
		return respBad(conn, req.Tag, "not authenticated")
	}

	if sess.State() == StateSelected {
		sess.deselect()
		if err := untagged(conn, "OK [CLOSED] Previous mailbox closed"); err != nil {
			return err
		}
	}

	folder, err := sess.mailbox.Folder(name)
	if err != nil {
		return respNo(conn, req.Tag, "no such mailbox")
	}

	if err := untagged(conn, "%d EXISTS", folder.MessageCount()); err != nil {
		return err
	}
	if err := untagged(conn, "0 RECENT"); err != nil {
		return err
	}
	if err := untagged(conn, "FLAGS (%s)", definedFlags); err != nil {
		return err
	}
	if err := untagged(conn, "OK [UIDVALIDITY %d] UIDs valid", folder.UIDValidity()); err != nil {
		return err
	}
	if err := untagged(conn, "OK [UIDNEXT %d] Predicted next UID", folder.UIDNext()); err != nil {
		return err
	}
	if err := untagged(conn, "OK [PERMANENTFLAGS (%s \\*)] Flags permitted", definedFlags); err != nil {
		return err
	}
	if err := untagged(conn, `LIST () "." %s`, quoteString(folder.Name())); err != nil {
		return err
	}

	sess.selectFolder(folder, c.examine)
	if c.examine {
		return respOK(conn, req.Tag, "[READ-ONLY] EXAMINE completed")
	}
	return respOK(conn, req.Tag, "[READ-WRITE] SELECT completed")
}

// requireAuthenticated gates mailbox management commands.
func requireAuthenticated(sess *Session, conn *server.Connection, req *Request) (bool, error) {
	if sess.State() != StateAuthenticated && sess.State() != StateSelected {
		return false, respBad(conn, req.Tag, "not authenticated")
	}
	return true, nil
}

type createCommand struct{}

func (c *createCommand) Name() string { return "CREATE" }

func (c *createCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	name, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	// A trailing hierarchy delimiter is allowed and ignored.
	name = strings.TrimSuffix(name, store.HierarchyDelimiter)
	if _, err := sess.mailbox.CreateFolder(name); err != nil {
		if errors.Is(err, store.ErrFolderExists) {
			return respNo(conn, req.Tag, "mailbox already exists")
		}
		return respNo(conn, req.Tag, "CREATE failed")
	}
	return respOK(conn, req.Tag, "CREATE completed")
}

type deleteCommand struct{}

func (c *deleteCommand) Name() string { return "DELETE" }

func (c *deleteCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	name, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	switch err := sess.mailbox.DeleteFolder(name); {
	case err == nil:
		return respOK(conn, req.Tag, "DELETE completed")
	case errors.Is(err, store.ErrFolderNotFound):
		return respNo(conn, req.Tag, "no such mailbox")
	case errors.Is(err, store.ErrFolderNotDeleted):
		return respNo(conn, req.Tag, "INBOX cannot be deleted")
	case errors.Is(err, store.ErrFolderHasChildren):
		return respNo(conn, req.Tag, "mailbox has inferior hierarchical names")
	default:
		return respNo(conn, req.Tag, "DELETE failed")
	}
}

type renameCommand struct{}

func (c *renameCommand) Name() string { return "RENAME" }

func (c *renameCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	oldName, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	newName, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	switch err := sess.mailbox.RenameFolder(oldName, newName); {
	case err == nil:
		return respOK(conn, req.Tag, "RENAME completed")
	case errors.Is(err, store.ErrFolderNotFound):
		return respNo(conn, req.Tag, "no such mailbox")
	case errors.Is(err, store.ErrFolderExists):
		return respNo(conn, req.Tag, "target mailbox already exists")
	default:
		return respNo(conn, req.Tag, "RENAME failed")
	}
}

type listCommand struct{}

func (c *listCommand) Name() string { return "LIST" }

func (c *listCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	ref, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	pattern, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	// An empty pattern asks for the hierarchy delimiter and root name.
	if pattern == "" {
		if err := untagged(conn, `LIST (\Noselect) "." ""`); err != nil {
			return err
		}
		return respOK(conn, req.Tag, "LIST completed")
	}

	full := ref + pattern
	for _, folder := range sess.mailbox.Folders() {
		if !matchMailbox(full, folder.Name()) {
			continue
		}
		if err := untagged(conn, `LIST () "." %s`, quoteString(folder.Name())); err != nil {
			return err
		}
	}
	return respOK(conn, req.Tag, "LIST completed")
}

// matchMailbox implements LIST wildcard matching: "*" matches any sequence,
// "%" matches any sequence not crossing the hierarchy delimiter.
func matchMailbox(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(name); i++ {
			if matchMailbox(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	case '%':
		for i := 0; i <= len(name); i++ {
			if matchMailbox(pattern[1:], name[i:]) {
				return true
			}
			if i < len(name) && name[i] == store.HierarchyDelimiter[0] {
				return false
			}
		}
		return false
	default:
		if name == "" || name[0] != pattern[0] {
			return false
		}
		return matchMailbox(pattern[1:], name[1:])
	}
}

type statusCommand struct{}

func (c *statusCommand) Name() string { return "STATUS" }

func (c *statusCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	name, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	items, err := p.ParenList()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	folder, err := sess.mailbox.Folder(name)
	if err != nil {
		return respNo(conn, req.Tag, "no such mailbox")
	}

	var parts []string
	for _, item := range strings.Fields(items) {
		switch strings.ToUpper(item) {
		case "MESSAGES":
			parts = append(parts, fmt.Sprintf("MESSAGES %d", folder.MessageCount()))
		case "UIDNEXT":
			parts = append(parts, fmt.Sprintf("UIDNEXT %d", folder.UIDNext()))
		case "UIDVALIDITY":
			parts = append(parts, fmt.Sprintf("UIDVALIDITY %d", folder.UIDValidity()))
		case "RECENT":
			parts = append(parts, "RECENT 0")
		case "UNSEEN":
			unseen := 0
			for _, msg := range folder.Messages() {
				if !msg.HasFlag(store.FlagSeen) {
					unseen++
				}
			}
			parts = append(parts, fmt.Sprintf("UNSEEN %d", unseen))
		default:
			return syntaxErrorf("unknown STATUS item %q", item)
		}
	}

	if err := untagged(conn, "STATUS %s (%s)", quoteString(folder.Name()), strings.Join(parts, " ")); err != nil {
		return err
	}
	return respOK(conn, req.Tag, "STATUS completed")
}

type appendCommand struct{}

func (c *appendCommand) Name() string { return "APPEND" }

func (c *appendCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	name, err := p.Mailbox()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}

	var flags []string
	if ch, ok := p.peek(); ok && ch == '(' {
		flags, err = p.FlagList()
		if err != nil {
			return err
		}
		if err := p.SP(); err != nil {
			return err
		}
	}

	var date time.Time
	if ch, ok := p.peek(); ok && ch == '"' {
		raw, err := p.Quoted()
		if err != nil {
			return err
		}
		date, err = parseDateTime(raw)
		if err != nil {
			return syntaxErrorf("invalid date-time %q", raw)
		}
		if err := p.SP(); err != nil {
			return err
		}
	}

	content, err := p.Literal()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireAuthenticated(sess, conn, req); !ok {
		return err
	}

	folder, err := sess.mailbox.Folder(name)
	if err != nil {
		return respNo(conn, req.Tag, "[TRYCREATE] no such mailbox")
	}

	msg := store.NewMessage(content)
	if len(flags) > 0 {
		msg.ReplaceFlags(flags)
	}
	if date.IsZero() {
		date = sess.backend.clock()
	}
	msg.SetDate(date)

	uid := folder.Append(msg)
	sess.backend.collector.MessageDelivered(int64(msg.Size()))
	return respOK(conn, req.Tag, "[APPENDUID %d %d] APPEND completed", folder.UIDValidity(), uid)
}

// parseDateTime parses the IMAP date-time format, with or without the
// leading space on single-digit days.
func parseDateTime(s string) (time.Time, error) {
	t, err := time.Parse("2-Jan-2006 15:04:05 -0700", s)
	if err != nil {
		t, err = time.Parse("_2-Jan-2006 15:04:05 -0700", s)
	}
	return t, err
}
