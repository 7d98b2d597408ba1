package imap

import (
	"fmt"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

// untagged writes one untagged response line.
func untagged(conn *server.Connection, format string, args ...any) error {
	return conn.WriteLine("* " + fmt.Sprintf(format, args...))
}

// tagged writes the tagged completion response for a command.
func tagged(conn *server.Connection, tag, status, format string, args ...any) error {
	return conn.WriteLine(tag + " " + status + " " + fmt.Sprintf(format, args...))
}

func respOK(conn *server.Connection, tag, format string, args ...any) error {
	return tagged(conn, tag, "OK", format, args...)
}

func respNo(conn *server.Connection, tag, format string, args ...any) error {
	return tagged(conn, tag, "NO", format, args...)
}

func respBad(conn *server.Connection, tag, format string, args ...any) error {
	return tagged(conn, tag, "BAD", format, args...)
}

// quoteString renders s as an IMAP quoted string, falling back to literal
// syntax when the value contains line breaks.
func quoteString(s string) string {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Sprintf("{%d}\r\n%s", len(s), s)
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// nilOrQuoted renders an optional string field, NIL when empty.
func nilOrQuoted(s string) string {
	if s == "" {
		return "NIL"
	}
	return quoteString(s)
}

// literalString renders s as an IMAP literal.
func literalString(s string) string {
	return fmt.Sprintf("{%d}\r\n%s", len(s), s)
}
