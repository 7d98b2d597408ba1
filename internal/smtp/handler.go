package smtp

import (
	"context"
	"errors"
	"io"
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

// handle runs one SMTP session to completion.
func (b *Backend) handle(ctx context.Context, conn *server.Connection) {
	logger := logging.FromContext(ctx)
	sess := NewSession(b)

	if err := conn.WriteLine("220 " + b.hostname + " ESMTP mailmock service ready"); err != nil {
		logger.Error("failed to send greeting", "error", err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("read failed, closing session", "error", err.Error())
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		name, args := ParseCommand(line)
		conn.AddCommand(line)

		if b.cfg.CommandDisabled(name) {
			if err := writeReply(conn, Reply{Code: 502, Enhanced: EnhancedInvalidCommand, Message: "Command disabled"}); err != nil {
				return
			}
			continue
		}

		cmd, ok := GetCommand(name)
		if !ok {
			if err := writeReply(conn, Reply{Code: 500, Enhanced: EnhancedInvalidCommand, Message: "Unrecognized command"}); err != nil {
				return
			}
			continue
		}

		b.collector.CommandProcessed("smtp", name)
		reply, err := cmd.Execute(ctx, sess, conn, args)
		if err != nil {
			logger.Debug("command aborted session", "command", name, "error", err.Error())
			return
		}
		if err := writeReply(conn, reply); err != nil {
			return
		}

		switch name {
		case "QUIT":
			return
		case "STARTTLS":
			if reply.Code == 220 {
				if err := conn.UpgradeToTLS(b.tlsConfig); err != nil {
					logger.Error("TLS upgrade failed", "error", err.Error())
					return
				}
				b.collector.TLSConnectionEstablished("smtp")
				sess.reset()
			}
		}
	}
}

// writeReply sends a formatted reply, one wire line at a time.
func writeReply(conn *server.Connection, r Reply) error {
	return conn.WriteLines(strings.Split(r.String(), "\r\n"))
}
