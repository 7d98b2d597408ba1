package pop3

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

// handle runs one POP3 session to completion.
func (b *Backend) handle(ctx context.Context, conn *server.Connection) {
	logger := logging.FromContext(ctx)

	banner := b.banner()
	sess := NewSession(b, banner)

	if err := conn.WriteLine("+OK POP3 mailmock server ready " + banner); err != nil {
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
			if err := conn.WriteLine("-ERR command disabled"); err != nil {
				return
			}
			continue
		}

		cmd, found := GetCommand(name)
		if !found {
			if err := conn.WriteLine("-ERR unknown command"); err != nil {
				return
			}
			continue
		}

		b.collector.CommandProcessed("pop3", name)
		resp, err := cmd.Execute(ctx, sess, conn, args)
		if err != nil {
			logger.Debug("command aborted session", "command", name, "error", err.Error())
			return
		}
		if err := conn.WriteLines(resp.WireLines()); err != nil {
			return
		}

		switch name {
		case "QUIT":
			return
		case "STLS":
			if resp.OK {
				if err := conn.UpgradeToTLS(b.tlsConfig); err != nil {
					logger.Error("TLS upgrade failed", "error", err.Error())
					return
				}
				b.collector.TLSConnectionEstablished("pop3")
			}
		}
	}
}
