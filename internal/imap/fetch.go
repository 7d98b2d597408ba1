package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
	"github.com/infodancer/mailmock/internal/store"
)

// internalDateLayout is the IMAP date-time format used by INTERNALDATE.
const internalDateLayout = "02-Jan-2006 15:04:05 -0700"

// fetchMacros expands the FETCH item macros of RFC 9051 §6.4.5.
var fetchMacros = map[string][]string{
	"ALL":  {"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE"},
	"FAST": {"FLAGS", "INTERNALDATE", "RFC822.SIZE"},
	"FULL": {"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE", "BODY[]"},
}

type fetchCommand struct{}

func (c *fetchCommand) Name() string { return "FETCH" }

func (c *fetchCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
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

	var rawItems string
	if ch, ok := p.peek(); ok && ch == '(' {
		rawItems, err = p.ParenList()
		if err != nil {
			return err
		}
		if err := p.End(); err != nil {
			return err
		}
	} else {
		rawItems = p.Remaining()
		p.pos = len(p.input)
	}

	items, err := parseFetchItems(rawItems, req.UID)
	if err != nil {
		return err
	}
	if ok, err := requireSelected(sess, conn, req); !ok {
		return err
	}

	msgs := sess.folder.Messages()
	for _, seq := range resolveTargets(sess.folder, set, req.UID) {
		msg := msgs[seq-1]
		var parts []string
		for _, item := range items {
			part, err := fetchItem(sess, msg, item)
			if err != nil {
				return respBad(conn, req.Tag, "%s", err.Error())
			}
			parts = append(parts, part)
		}
		if err := untagged(conn, "%d FETCH (%s)", seq, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return respOK(conn, req.Tag, "FETCH completed")
}

// parseFetchItems normalizes the item list, expanding macros. UID FETCH
// always reports the UID item.
func parseFetchItems(raw string, uid bool) ([]string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, syntaxErrorf("FETCH requires items")
	}

	var items []string
	if len(fields) == 1 {
		if macro, ok := fetchMacros[strings.ToUpper(fields[0])]; ok {
			fields = macro
		}
	}
	for _, f := range fields {
		items = append(items, strings.ToUpper(f))
	}

	if uid {
		hasUID := false
		for _, item := range items {
			if item == "UID" {
				hasUID = true
				break
			}
		}
		if !hasUID {
			items = append([]string{"UID"}, items...)
		}
	}
	return items, nil
}

// fetchItem renders one FETCH data item for a message.
func fetchItem(sess *Session, msg *store.Message, item string) (string, error) {
	switch item {
	case "FLAGS":
		return fmt.Sprintf("FLAGS (%s)", strings.Join(msg.Flags(), " ")), nil
	case "UID":
		return fmt.Sprintf("UID %d", msg.UID()), nil
	case "RFC822.SIZE":
		return fmt.Sprintf("RFC822.SIZE %d", msg.Size()), nil
	case "INTERNALDATE":
		return fmt.Sprintf("INTERNALDATE %q", msg.Date().Format(internalDateLayout)), nil
	case "ENVELOPE":
		return "ENVELOPE " + envelopeString(msg.Content()), nil
	case "BODY[]", "RFC822":
		if !sess.readOnly {
			msg.SetFlag(store.FlagSeen)
		}
		return "BODY[] " + literalString(msg.Content()), nil
	case "BODY.PEEK[]":
		return "BODY[] " + literalString(msg.Content()), nil
	default:
		return "", syntaxErrorf("unknown FETCH item %q", item)
	}
}
