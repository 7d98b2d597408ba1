package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// envelopeString builds the FETCH ENVELOPE structure from a message's
// headers: (date subject from sender reply-to to cc bcc in-reply-to
// message-id). Missing fields render as NIL; sender and reply-to default to
// the from addresses.
func envelopeString(content string) string {
	entity, err := message.Read(strings.NewReader(content))
	if err != nil && entity == nil {
		return "(NIL NIL NIL NIL NIL NIL NIL NIL NIL NIL)"
	}
	header := mail.Header{Header: entity.Header}

	from := addressListString(&header, "From")
	sender := addressListString(&header, "Sender")
	if sender == "NIL" {
		sender = from
	}
	replyTo := addressListString(&header, "Reply-To")
	if replyTo == "NIL" {
		replyTo = from
	}

	return fmt.Sprintf("(%s %s %s %s %s %s %s %s %s %s)",
		nilOrQuoted(entity.Header.Get("Date")),
		nilOrQuoted(entity.Header.Get("Subject")),
		from,
		sender,
		replyTo,
		addressListString(&header, "To"),
		addressListString(&header, "Cc"),
		addressListString(&header, "Bcc"),
		nilOrQuoted(entity.Header.Get("In-Reply-To")),
		nilOrQuoted(entity.Header.Get("Message-Id")),
	)
}

// addressListString renders one address header as an envelope address list:
// ((name adl mailbox host) ...), or NIL when absent or unparsable.
func addressListString(header *mail.Header, key string) string {
	addrs, err := header.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return "NIL"
	}

	var sb strings.Builder
	sb.WriteByte('(')
	for _, addr := range addrs {
		mailbox, host := addr.Address, ""
		if at := strings.LastIndexByte(addr.Address, '@'); at >= 0 {
			mailbox, host = addr.Address[:at], addr.Address[at+1:]
		}
		fmt.Fprintf(&sb, "(%s NIL %s %s)",
			nilOrQuoted(addr.Name), nilOrQuoted(mailbox), nilOrQuoted(host))
	}
	sb.WriteByte(')')
	return sb.String()
}
