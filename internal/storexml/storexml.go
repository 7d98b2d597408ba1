// Package storexml persists a mailbox store as an XML document. Message
// content is stored with line breaks replaced by escape markers so the
// document survives XML whitespace handling unchanged.
package storexml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/infodancer/mailmock/internal/store"
)

type xmlStore struct {
	XMLName   xml.Name     `xml:"mailstore"`
	Mailboxes []xmlMailbox `xml:"mailbox"`
}

type xmlMailbox struct {
	Username string      `xml:"username,attr"`
	Secret   string      `xml:"secret,attr"`
	Email    string      `xml:"email,attr"`
	Folders  []xmlFolder `xml:"folder"`
}

type xmlFolder struct {
	Name        string       `xml:"name,attr"`
	UIDNext     uint32       `xml:"uidnext,attr"`
	UIDValidity uint32       `xml:"uidvalidity,attr"`
	Messages    []xmlMessage `xml:"message"`
}

type xmlMessage struct {
	UID     uint32   `xml:"uid,attr"`
	Date    string   `xml:"date,attr"`
	Flags   []string `xml:"flags>flag"`
	Content string   `xml:"content"`
}

// Save writes the store as an XML document.
func Save(w io.Writer, st *store.Store) error {
	doc := xmlStore{}
	for _, mb := range st.Mailboxes() {
		xmb := xmlMailbox{
			Username: mb.Username(),
			Secret:   mb.Secret(),
			Email:    mb.Email(),
		}
		for _, folder := range mb.Folders() {
			xf := xmlFolder{
				Name:        folder.Name(),
				UIDNext:     folder.UIDNext(),
				UIDValidity: folder.UIDValidity(),
			}
			for _, msg := range folder.Messages() {
				xf.Messages = append(xf.Messages, xmlMessage{
					UID:     msg.UID(),
					Date:    msg.Date().UTC().Format(time.RFC3339),
					Flags:   msg.Flags(),
					Content: escapeContent(msg.Content()),
				})
			}
			xmb.Folders = append(xmb.Folders, xf)
		}
		doc.Mailboxes = append(doc.Mailboxes, xmb)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	return enc.Close()
}

// Load reads an XML document written by Save and reconstructs the store.
func Load(r io.Reader) (*store.Store, error) {
	var doc xmlStore
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}

	st := store.New()
	for _, xmb := range doc.Mailboxes {
		mb, err := st.CreateMailbox(xmb.Username, xmb.Secret, xmb.Email)
		if err != nil {
			return nil, fmt.Errorf("mailbox %q: %w", xmb.Username, err)
		}
		for _, xf := range xmb.Folders {
			folder, err := mb.Folder(xf.Name)
			if err != nil {
				folder, err = mb.CreateFolder(xf.Name)
				if err != nil {
					return nil, fmt.Errorf("folder %q: %w", xf.Name, err)
				}
			}
			for _, xm := range xf.Messages {
				content, err := unescapeContent(xm.Content)
				if err != nil {
					return nil, fmt.Errorf("message %d in %q: %w", xm.UID, xf.Name, err)
				}
				msg := store.NewMessage(content)
				msg.SetUID(xm.UID)
				if xm.Date != "" {
					date, err := time.Parse(time.RFC3339, xm.Date)
					if err != nil {
						return nil, fmt.Errorf("message %d in %q: %w", xm.UID, xf.Name, err)
					}
					msg.SetDate(date)
				}
				if len(xm.Flags) > 0 {
					msg.ReplaceFlags(xm.Flags)
				}
				folder.Restore(msg)
			}
			folder.RestoreUIDState(xf.UIDNext, xf.UIDValidity)
		}
	}
	return st, nil
}

// escapeContent replaces backslashes and line breaks with escape markers so
// message content survives as a single line of character data.
func escapeContent(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			out = append(out, '\\', '\\')
		case '\r':
			out = append(out, '\\', 'r')
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// unescapeContent reverses escapeContent.
func unescapeContent(s string) (string, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("truncated escape sequence")
		}
		switch s[i] {
		case '\\':
			out = append(out, '\\')
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		default:
			return "", fmt.Errorf("unknown escape sequence %q", s[i-1:i+1])
		}
	}
	return string(out), nil
}
