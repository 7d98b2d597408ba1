package imap

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/infodancer/mailmock/internal/logging"
	"github.com/infodancer/mailmock/internal/server"
)

// Handler returns the connection handler for the backend.
func (b *Backend) Handler() server.ConnectionHandler {
	return func(ctx context.Context, conn *server.Connection) {
		b.handle(ctx, conn)
	}
}

// handle runs one IMAP session to completion.
func (b *Backend) handle(ctx context.Context, conn *server.Connection) {
	logger := logging.FromContext(ctx)
	sess := NewSession(b)

	if err := untagged(conn, "OK %s mailmock IMAP service ready", b.hostname); err != nil {
		logger.Error("failed to send greeting", "error", err.Error())
		return
	}

	for sess.State() != StateLogout {
		select {
		case <-ctx.Done():
			return
		default:
		}

		text, err := readCommand(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("read failed, closing session", "error", err.Error())
			}
			return
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		conn.AddCommand(text)

		if err := b.dispatch(ctx, sess, conn, text); err != nil {
			logger.Debug("command aborted session", "error", err.Error())
			return
		}
	}
}

// dispatch parses the tag and command name and runs the command. A syntax
// error anywhere produces a tagged BAD without touching session state.
func (b *Backend) dispatch(ctx context.Context, sess *Session, conn *server.Connection, text string) error {
	p := NewParser(text)

	tag, err := p.Atom()
	if err != nil {
		return conn.WriteLine("* BAD missing command tag")
	}
	if err := p.SP(); err != nil {
		return respBad(conn, tag, "missing command name")
	}
	name, err := p.Atom()
	if err != nil {
		return respBad(conn, tag, "missing command name")
	}
	name = strings.ToUpper(name)

	uid := false
	if name == "UID" {
		if err := p.SP(); err != nil {
			return respBad(conn, tag, "UID requires a command")
		}
		sub, err := p.Atom()
		if err != nil {
			return respBad(conn, tag, "UID requires a command")
		}
		name = strings.ToUpper(sub)
		if !uidCommands[name] {
			return respBad(conn, tag, "UID %s not supported", name)
		}
		uid = true
	}

	if b.cfg.CommandDisabled(name) {
		return respBad(conn, tag, "command disabled")
	}
	cmd, found := GetCommand(name)
	if !found {
		return respBad(conn, tag, "unknown command")
	}

	b.collector.CommandProcessed("imap", name)
	req := &Request{Tag: tag, Name: name, UID: uid, Parser: p}
	err = cmd.Execute(ctx, sess, conn, req)

	var syntaxErr *SyntaxError
	if errors.As(err, &syntaxErr) {
		return respBad(conn, tag, "%s", syntaxErr.Error())
	}
	return err
}

// readCommand reads one complete command, assembling literal continuations.
// A line ending in a synchronizing {n} literal marker triggers a
// continuation request before the payload is read; {n+} literals are read
// immediately. The returned text preserves the literal markers and payloads
// so the parser can re-walk them without I/O.
func readCommand(conn *server.Connection) (string, error) {
	var sb strings.Builder

	line, err := conn.ReadLine()
	if err != nil {
		return "", err
	}
	for {
		n, sync, found := trailingLiteral(line)
		if !found {
			sb.WriteString(line)
			return sb.String(), nil
		}
		if sync {
			if err := conn.WriteLine("+ Ready for literal data"); err != nil {
				return "", err
			}
		}
		payload, err := conn.ReadBytes(n)
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
		sb.Write(payload)

		line, err = conn.ReadLine()
		if err != nil {
			return "", err
		}
	}
}

// trailingLiteral recognizes a {n} or {n+} marker at the end of a line.
func trailingLiteral(line string) (n int, sync, found bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false, false
	}
	inner := line[open+1 : len(line)-1]
	sync = true
	if strings.HasSuffix(inner, "+") {
		sync = false
		inner = inner[:len(inner)-1]
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 0 {
		return 0, false, false
	}
	return n, sync, true
}
