package pop3

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/server"
)

type userCommand struct{}

func (c *userCommand) Name() string { return "USER" }

func (c *userCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state != StateAuthorization {
		return errResponse("command not valid in this state"), nil
	}
	if len(args) != 1 {
		return errResponse("USER requires a name"), nil
	}
	sess.username = args[0]
	return ok("send PASS"), nil
}

type passCommand struct{}

func (c *passCommand) Name() string { return "PASS" }

func (c *passCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state != StateAuthorization {
		return errResponse("command not valid in this state"), nil
	}
	if sess.username == "" {
		return errResponse("send USER first"), nil
	}
	if len(args) == 0 {
		return errResponse("PASS requires a password"), nil
	}

	// Passwords may contain spaces; everything after the verb counts.
	password := strings.Join(args, " ")
	stored, found := sess.backend.lookupSecret(sess.username)
	okAuth := found && sasl.VerifySecret(stored, password)
	sess.backend.collector.AuthAttempt("pop3", "USERPASS", okAuth)
	if !okAuth {
		sess.username = ""
		return errResponse("invalid credentials"), nil
	}

	if err := sess.openTransaction(sess.username); err != nil {
		return errResponse("maildrop unavailable"), nil
	}
	count, size := sess.scanListing()
	return ok(okMaildrop(count, size)), nil
}

type apopCommand struct{}

func (c *apopCommand) Name() string { return "APOP" }

func (c *apopCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state != StateAuthorization {
		return errResponse("command not valid in this state"), nil
	}
	if len(args) != 2 {
		return errResponse("APOP requires a name and a digest"), nil
	}
	username, digest := args[0], strings.ToLower(args[1])

	stored, found := sess.backend.lookupSecret(username)
	okAuth := found && !strings.HasPrefix(stored, "$2") &&
		subtle.ConstantTimeCompare([]byte(digest), []byte(apopDigest(sess.banner, stored))) == 1
	sess.backend.collector.AuthAttempt("pop3", "APOP", okAuth)
	if !okAuth {
		return errResponse("invalid credentials"), nil
	}

	if err := sess.openTransaction(username); err != nil {
		return errResponse("maildrop unavailable"), nil
	}
	count, size := sess.scanListing()
	return ok(okMaildrop(count, size)), nil
}

// apopDigest is the lowercase hex MD5 of the greeting banner concatenated
// with the shared secret (RFC 1939 §7).
func apopDigest(banner, secret string) string {
	sum := md5.Sum([]byte(banner + secret))
	return hex.EncodeToString(sum[:])
}

type authCommand struct{}

func (c *authCommand) Name() string { return "AUTH" }

func (c *authCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state != StateAuthorization {
		return errResponse("command not valid in this state"), nil
	}
	if len(args) == 0 {
		return Response{OK: true, Lines: sess.backend.registry.Names(), Multiline: true}, nil
	}
	if len(args) > 2 {
		return errResponse("too many arguments"), nil
	}

	mech := strings.ToUpper(args[0])
	srv, creds, err := sess.backend.registry.Server(mech)
	if err != nil {
		return errResponse("unsupported mechanism"), nil
	}

	var initial []byte
	if len(args) == 2 {
		initial, err = sasl.DecodeInitialResponse(args[1])
		if err != nil {
			return errResponse("invalid initial response"), nil
		}
	}

	err = sasl.Exchange(srv, initial,
		func(challenge string) error { return conn.WriteLine("+ " + challenge) },
		conn.ReadLine)

	switch {
	case err == nil:
		sess.backend.collector.AuthAttempt("pop3", mech, true)
		if err := sess.openTransaction(creds.Username); err != nil {
			return errResponse("maildrop unavailable"), nil
		}
		count, size := sess.scanListing()
		return ok(okMaildrop(count, size)), nil
	case errors.Is(err, sasl.ErrCancelled):
		sess.backend.collector.AuthAttempt("pop3", mech, false)
		return errResponse("authentication cancelled"), nil
	case errors.Is(err, sasl.ErrMalformedResponse):
		sess.backend.collector.AuthAttempt("pop3", mech, false)
		return errResponse("invalid response"), nil
	case errors.Is(err, sasl.ErrAuthFailed):
		sess.backend.collector.AuthAttempt("pop3", mech, false)
		return errResponse("invalid credentials"), nil
	default:
		return Response{}, err
	}
}

type capaCommand struct{}

func (c *capaCommand) Name() string { return "CAPA" }

func (c *capaCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	lines := []string{"TOP", "UIDL", "USER", "RESP-CODES"}
	if mechs := sess.backend.registry.Names(); len(mechs) > 0 {
		lines = append(lines, "SASL "+strings.Join(mechs, " "))
	}
	if sess.backend.tlsConfig != nil && !conn.IsTLS() {
		lines = append(lines, "STLS")
	}
	lines = append(lines, "IMPLEMENTATION mailmock")
	return Response{OK: true, Message: "capability list follows", Lines: lines}, nil
}

type stlsCommand struct{}

func (c *stlsCommand) Name() string { return "STLS" }

func (c *stlsCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state != StateAuthorization {
		return errResponse("command not valid in this state"), nil
	}
	if conn.IsTLS() {
		return errResponse("TLS already active"), nil
	}
	if sess.backend.tlsConfig == nil {
		return errResponse("STLS not available"), nil
	}
	return ok("begin TLS negotiation"), nil
}
