package imap

import (
	"context"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

// capabilities builds the capability list for the current connection state.
func (b *Backend) capabilities(conn *server.Connection) string {
	caps := []string{"IMAP4rev2", "LITERAL+"}
	if b.tlsConfig != nil && !conn.IsTLS() {
		caps = append(caps, "STARTTLS")
	}
	for _, mech := range b.registry.Names() {
		caps = append(caps, "AUTH="+mech)
	}
	return strings.Join(caps, " ")
}

type capabilityCommand struct{}

func (c *capabilityCommand) Name() string { return "CAPABILITY" }

func (c *capabilityCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	if err := req.Parser.End(); err != nil {
		return err
	}
	if err := untagged(conn, "CAPABILITY %s", sess.backend.capabilities(conn)); err != nil {
		return err
	}
	return respOK(conn, req.Tag, "CAPABILITY completed")
}

type noopCommand struct{}

func (c *noopCommand) Name() string { return "NOOP" }

func (c *noopCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	if err := req.Parser.End(); err != nil {
		return err
	}
	// A NOOP poll reports the current message count so clients notice
	// deliveries that happened since the folder was selected.
	if sess.State() == StateSelected {
		if err := untagged(conn, "%d EXISTS", sess.folder.MessageCount()); err != nil {
			return err
		}
	}
	return respOK(conn, req.Tag, "NOOP completed")
}

type logoutCommand struct{}

func (c *logoutCommand) Name() string { return "LOGOUT" }

func (c *logoutCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	if err := req.Parser.End(); err != nil {
		return err
	}
	sess.state = StateLogout
	if err := untagged(conn, "BYE %s logging out", sess.backend.hostname); err != nil {
		return err
	}
	return respOK(conn, req.Tag, "LOGOUT completed")
}

type starttlsCommand struct{}

func (c *starttlsCommand) Name() string { return "STARTTLS" }

func (c *starttlsCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	if err := req.Parser.End(); err != nil {
		return err
	}
	if sess.State() != StateNotAuthenticated {
		return respBad(conn, req.Tag, "STARTTLS only valid before authentication")
	}
	if conn.IsTLS() {
		return respBad(conn, req.Tag, "TLS already active")
	}
	if sess.backend.tlsConfig == nil {
		return respNo(conn, req.Tag, "STARTTLS not available")
	}

	if err := respOK(conn, req.Tag, "Begin TLS negotiation now"); err != nil {
		return err
	}
	if err := conn.UpgradeToTLS(sess.backend.tlsConfig); err != nil {
		return err
	}
	sess.backend.collector.TLSConnectionEstablished("imap")
	return nil
}
