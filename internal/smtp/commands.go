package smtp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/server"
)

type heloCommand struct{}

func (c *heloCommand) Name() string { return "HELO" }

func (c *heloCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if args == "" {
		return replySyntax("HELO requires a domain"), nil
	}
	sess.abortTransaction()
	sess.helloName = args
	sess.extended = false
	return Reply{Code: 250, Message: fmt.Sprintf("%s Hello %s", sess.Hostname(), args)}, nil
}

type ehloCommand struct{}

func (c *ehloCommand) Name() string { return "EHLO" }

func (c *ehloCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if args == "" {
		return replySyntax("EHLO requires a domain"), nil
	}
	sess.abortTransaction()
	sess.helloName = args
	sess.extended = true

	lines := []string{fmt.Sprintf("%s Hello %s", sess.Hostname(), args)}
	if mechs := sess.backend.registry.Names(); len(mechs) > 0 {
		lines = append(lines, "AUTH "+strings.Join(mechs, " "))
	}
	if sess.starttlsAvailable(conn) {
		lines = append(lines, "STARTTLS")
	}
	lines = append(lines, "HELP")
	return Reply{Code: 250, Lines: lines}, nil
}

type mailCommand struct{}

func (c *mailCommand) Name() string { return "MAIL" }

func (c *mailCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if reply, ok := sess.requireReady(); !ok {
		return reply, nil
	}
	if sess.txn != nil {
		return replyBadSequence("Nested MAIL command"), nil
	}

	sender, err := parsePath(args, "FROM")
	if err != nil {
		return replySyntax(err.Error()), nil
	}
	sess.txn = &Transaction{Sender: sender, Received: sess.backend.clock()}
	return Reply{Code: 250, Enhanced: EnhancedAddressOK, Message: "Sender OK"}, nil
}

type rcptCommand struct{}

func (c *rcptCommand) Name() string { return "RCPT" }

func (c *rcptCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if reply, ok := sess.requireReady(); !ok {
		return reply, nil
	}
	if sess.txn == nil {
		return replyBadSequence("Need MAIL command"), nil
	}

	rcpt, err := parsePath(args, "TO")
	if err != nil {
		return replySyntax(err.Error()), nil
	}
	if rcpt == "" {
		return replySyntax("empty recipient"), nil
	}
	sess.txn.Recipients = append(sess.txn.Recipients, rcpt)
	return Reply{Code: 250, Enhanced: EnhancedDestValid, Message: "Recipient OK"}, nil
}

type rsetCommand struct{}

func (c *rsetCommand) Name() string { return "RSET" }

func (c *rsetCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	sess.abortTransaction()
	return replyOK("OK"), nil
}

type noopCommand struct{}

func (c *noopCommand) Name() string { return "NOOP" }

func (c *noopCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	return replyOK("OK"), nil
}

type quitCommand struct{}

func (c *quitCommand) Name() string { return "QUIT" }

func (c *quitCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	return Reply{Code: 221, Enhanced: EnhancedOK, Message: sess.Hostname() + " Service closing transmission channel"}, nil
}

type vrfyCommand struct{}

func (c *vrfyCommand) Name() string { return "VRFY" }

func (c *vrfyCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if args == "" {
		return replySyntax("VRFY requires an address"), nil
	}
	mbox, err := sess.backend.store.FindMailbox(args)
	if err != nil {
		return Reply{Code: 252, Message: "Cannot VRFY user, but will accept message and attempt delivery"}, nil
	}
	return Reply{Code: 250, Enhanced: EnhancedDestValid, Message: "<" + mbox.Email() + ">"}, nil
}

type starttlsCommand struct{}

func (c *starttlsCommand) Name() string { return "STARTTLS" }

func (c *starttlsCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if args != "" {
		return replySyntax("STARTTLS takes no parameters"), nil
	}
	if conn.IsTLS() {
		return replyBadSequence("TLS already active"), nil
	}
	if !sess.starttlsAvailable(conn) {
		return Reply{Code: 502, Enhanced: EnhancedInvalidCommand, Message: "STARTTLS not available"}, nil
	}
	return Reply{Code: 220, Message: "Ready to start TLS"}, nil
}

type authCommand struct{}

func (c *authCommand) Name() string { return "AUTH" }

func (c *authCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if !sess.Greeted() {
		return replyBadSequence("Send HELO/EHLO first"), nil
	}
	if sess.Authenticated() {
		return replyBadSequence("Already authenticated"), nil
	}

	mech, rest, _ := strings.Cut(args, " ")
	if mech == "" {
		return replySyntax("AUTH requires a mechanism"), nil
	}

	srv, creds, err := sess.backend.registry.Server(mech)
	if err != nil {
		return Reply{Code: 504, Enhanced: EnhancedInvalidParams, Message: "Unrecognized authentication type"}, nil
	}

	var initial []byte
	if rest != "" {
		initial, err = sasl.DecodeInitialResponse(rest)
		if err != nil {
			return Reply{Code: 501, Enhanced: EnhancedSyntaxError, Message: "Invalid initial response"}, nil
		}
	}

	err = sasl.Exchange(srv, initial,
		func(challenge string) error { return conn.WriteLine("334 " + challenge) },
		conn.ReadLine)

	mechName := strings.ToUpper(mech)
	switch {
	case err == nil:
		sess.setAuthenticated(creds.Username)
		sess.backend.collector.AuthAttempt("smtp", mechName, true)
		return Reply{Code: 235, Enhanced: EnhancedAuthOK, Message: "Authentication successful"}, nil
	case errors.Is(err, sasl.ErrCancelled):
		sess.backend.collector.AuthAttempt("smtp", mechName, false)
		return Reply{Code: 501, Enhanced: EnhancedSyntaxError, Message: "Authentication cancelled"}, nil
	case errors.Is(err, sasl.ErrMalformedResponse):
		sess.backend.collector.AuthAttempt("smtp", mechName, false)
		return Reply{Code: 501, Enhanced: EnhancedSyntaxError, Message: "Invalid response"}, nil
	case errors.Is(err, sasl.ErrAuthFailed):
		sess.backend.collector.AuthAttempt("smtp", mechName, false)
		return Reply{Code: 535, Enhanced: EnhancedAuthCredentials, Message: "Authentication credentials invalid"}, nil
	default:
		return Reply{}, err
	}
}

// requireReady gates the transaction commands on the HELO/EHLO greeting and,
// when configured, on authentication.
func (s *Session) requireReady() (Reply, bool) {
	if !s.Greeted() {
		return replyBadSequence("Send HELO/EHLO first"), false
	}
	if s.backend.cfg.AuthRequired && !s.Authenticated() {
		return Reply{Code: 530, Enhanced: EnhancedAuthRequired, Message: "Authentication required"}, false
	}
	return Reply{}, true
}

// starttlsAvailable reports whether the session can offer STARTTLS.
func (s *Session) starttlsAvailable(conn *server.Connection) bool {
	return s.backend.tlsConfig != nil && !conn.IsTLS()
}
