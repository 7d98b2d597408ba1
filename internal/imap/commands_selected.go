package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
	"github.com/infodancer/mailmock/internal/store"
)

// requireSelected gates commands on the selected state.
func requireSelected(sess *Session, conn *server.Connection, req *Request) (bool, error) {
	if sess.State() != StateSelected {
		return false, respBad(conn, req.Tag, "no mailbox selected")
	}
	return true, nil
}

// resolveTargets maps a sequence set to current 1-based sequence numbers.
// With uid set, the sequence set names UIDs and the wildcard stands for the
// highest UID in the folder.
func resolveTargets(folder *store.Folder, set *SeqSet, uid bool) []int {
	msgs := folder.Messages()
	if !uid {
		var targets []int
		for _, n := range set.Resolve(uint32(len(msgs))) {
			targets = append(targets, int(n))
		}
		return targets
	}

	var maxUID uint32
	for _, m := range msgs {
		if m.UID() > maxUID {
			maxUID = m.UID()
		}
	}
	wanted := make(map[uint32]bool)
	for _, n := range set.Resolve(maxUID) {
		wanted[n] = true
	}
	var targets []int
	for i, m := range msgs {
		if wanted[m.UID()] {
			targets = append(targets, i+1)
		}
	}
	return targets
}

type closeCommand struct {
	expunge bool
}

func (c *closeCommand) Name() string {
	if c.expunge {
		return "CLOSE"
	}
	return "UNSELECT"
}

func (c *closeCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	if err := req.Parser.End(); err != nil {
		return err
	}
	if ok, err := requireSelected(sess, conn, req); !ok {
		return err
	}

	if c.expunge && !sess.readOnly {
		removed := sess.folder.Expunge()
		for range removed {
			sess.backend.collector.MessageExpunged("imap")
		}
	}
	sess.deselect()
	return respOK(conn, req.Tag, "%s completed", c.Name())
}

type expungeCommand struct{}

func (c *expungeCommand) Name() string { return "EXPUNGE" }

func (c *expungeCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser

	var set *SeqSet
	if req.UID {
		if err := p.SP(); err != nil {
			return err
		}
		var err error
		set, err = p.SeqSet()
		if err != nil {
			return err
		}
	}
	if err := p.End(); err != nil {
		return err
	}
	if ok, err := requireSelected(sess, conn, req); !ok {
		return err
	}
	if sess.readOnly {
		return respNo(conn, req.Tag, "mailbox is read-only")
	}

	if set == nil {
		for _, seq := range sess.folder.Expunge() {
			sess.backend.collector.MessageExpunged("imap")
			if err := untagged(conn, "%d EXPUNGE", seq); err != nil {
				return err
			}
		}
		return respOK(conn, req.Tag, "EXPUNGE completed")
	}

	// UID EXPUNGE removes only the deleted messages named by the set,
	// highest sequence number first.
	msgs := sess.folder.Messages()
	targetSeqs := make(map[int]bool)
	for _, seq := range resolveTargets(sess.folder, set, true) {
		targetSeqs[seq] = true
	}
	for seq := len(msgs); seq >= 1; seq-- {
		if !targetSeqs[seq] || !msgs[seq-1].HasFlag(store.FlagDeleted) {
			continue
		}
		if err := sess.folder.Remove(seq); err != nil {
			continue
		}
		sess.backend.collector.MessageExpunged("imap")
		if err := untagged(conn, "%d EXPUNGE", seq); err != nil {
			return err
		}
	}
	return respOK(conn, req.Tag, "EXPUNGE completed")
}

type storeCommand struct{}

func (c *storeCommand) Name() string { return "STORE" }

func (c *storeCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	set, err := p.SeqSet()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	item, err := p.Atom()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	flags, err := p.FlagList()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}

	item = strings.ToUpper(item)
	silent := strings.HasSuffix(item, ".SILENT")
	item = strings.TrimSuffix(item, ".SILENT")
	if item != "FLAGS" && item != "+FLAGS" && item != "-FLAGS" {
		return syntaxErrorf("unknown STORE item %q", item)
	}

	if ok, err := requireSelected(sess, conn, req); !ok {
		return err
	}
	if sess.readOnly {
		return respNo(conn, req.Tag, "mailbox is read-only")
	}

	msgs := sess.folder.Messages()
	for _, seq := range resolveTargets(sess.folder, set, req.UID) {
		msg := msgs[seq-1]
		switch item {
		case "FLAGS":
			msg.ReplaceFlags(flags)
		case "+FLAGS":
			for _, flag := range flags {
				msg.SetFlag(flag)
			}
		case "-FLAGS":
			for _, flag := range flags {
				msg.ClearFlag(flag)
			}
		}

		if silent {
			continue
		}
		line := fmt.Sprintf("FLAGS (%s)", strings.Join(msg.Flags(), " "))
		if req.UID {
			line = fmt.Sprintf("UID %d %s", msg.UID(), line)
		}
		if err := untagged(conn, "%d FETCH (%s)", seq, line); err != nil {
			return err
		}
	}
	return respOK(conn, req.Tag, "STORE completed")
}

type copyCommand struct{}

func (c *copyCommand) Name() string { return "COPY" }

func (c *copyCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	set, err := p.SeqSet()
	if err != nil {
		return err
	}
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
	if ok, err := requireSelected(sess, conn, req); !ok {
		return err
	}

	dest, err := sess.mailbox.Folder(name)
	if err != nil {
		return respNo(conn, req.Tag, "[TRYCREATE] no such mailbox")
	}

	msgs := sess.folder.Messages()
	var srcUIDs, destUIDs []string
	for _, seq := range resolveTargets(sess.folder, set, req.UID) {
		src := msgs[seq-1]
		cp := store.NewMessage(src.Content())
		cp.ReplaceFlags(src.Flags())
		cp.SetDate(src.Date())
		uid := dest.Append(cp)
		srcUIDs = append(srcUIDs, fmt.Sprintf("%d", src.UID()))
		destUIDs = append(destUIDs, fmt.Sprintf("%d", uid))
	}

	if len(destUIDs) == 0 {
		return respOK(conn, req.Tag, "COPY completed")
	}
	return respOK(conn, req.Tag, "[COPYUID %d %s %s] COPY completed",
		dest.UIDValidity(), strings.Join(srcUIDs, ","), strings.Join(destUIDs, ","))
}
