package imap

import (
	"context"
	"errors"
	"strings"

	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/server"
)

type loginCommand struct{}

func (c *loginCommand) Name() string { return "LOGIN" }

func (c *loginCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	username, err := p.Astring()
	if err != nil {
		return err
	}
	if err := p.SP(); err != nil {
		return err
	}
	password, err := p.Astring()
	if err != nil {
		return err
	}
	if err := p.End(); err != nil {
		return err
	}

	if sess.State() != StateNotAuthenticated {
		return respBad(conn, req.Tag, "already authenticated")
	}

	mbox, lookupErr := sess.backend.store.GetMailbox(username)
	okAuth := lookupErr == nil && sasl.VerifySecret(mbox.Secret(), password)
	sess.backend.collector.AuthAttempt("imap", "LOGIN", okAuth)
	if !okAuth {
		return respNo(conn, req.Tag, "LOGIN failed")
	}

	if err := sess.setAuthenticated(username); err != nil {
		return respNo(conn, req.Tag, "LOGIN failed")
	}
	return respOK(conn, req.Tag, "[CAPABILITY %s] LOGIN completed", sess.backend.capabilities(conn))
}

type authenticateCommand struct{}

func (c *authenticateCommand) Name() string { return "AUTHENTICATE" }

func (c *authenticateCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error {
	p := req.Parser
	if err := p.SP(); err != nil {
		return err
	}
	mech, err := p.Atom()
	if err != nil {
		return err
	}

	var initial []byte
	if !p.Empty() {
		if err := p.SP(); err != nil {
			return err
		}
		arg, err := p.Atom()
		if err != nil {
			return err
		}
		initial, err = sasl.DecodeInitialResponse(arg)
		if err != nil {
			return syntaxErrorf("invalid initial response")
		}
	}
	if err := p.End(); err != nil {
		return err
	}

	if sess.State() != StateNotAuthenticated {
		return respBad(conn, req.Tag, "already authenticated")
	}

	srv, creds, err := sess.backend.registry.Server(mech)
	if err != nil {
		return respNo(conn, req.Tag, "unsupported authentication mechanism")
	}

	err = sasl.Exchange(srv, initial,
		func(challenge string) error { return conn.WriteLine("+ " + challenge) },
		conn.ReadLine)

	mechName := strings.ToUpper(mech)
	switch {
	case err == nil:
		sess.backend.collector.AuthAttempt("imap", mechName, true)
		if err := sess.setAuthenticated(creds.Username); err != nil {
			return respNo(conn, req.Tag, "AUTHENTICATE failed")
		}
		return respOK(conn, req.Tag, "[CAPABILITY %s] AUTHENTICATE completed", sess.backend.capabilities(conn))
	case errors.Is(err, sasl.ErrCancelled):
		sess.backend.collector.AuthAttempt("imap", mechName, false)
		return respBad(conn, req.Tag, "AUTHENTICATE cancelled")
	case errors.Is(err, sasl.ErrMalformedResponse):
		sess.backend.collector.AuthAttempt("imap", mechName, false)
		return respBad(conn, req.Tag, "invalid authentication response")
	case errors.Is(err, sasl.ErrAuthFailed):
		sess.backend.collector.AuthAttempt("imap", mechName, false)
		return respNo(conn, req.Tag, "AUTHENTICATE failed")
	default:
		return err
	}
}
