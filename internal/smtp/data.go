package smtp

import (
	"context"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

type dataCommand struct{}

func (c *dataCommand) Name() string { return "DATA" }

func (c *dataCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error) {
	if reply, ok := sess.requireReady(); !ok {
		return reply, nil
	}
	if sess.txn == nil {
		return replyBadSequence("Need MAIL command"), nil
	}
	if len(sess.txn.Recipients) == 0 {
		return replyBadSequence("Need RCPT command"), nil
	}

	if err := conn.WriteLine("354 Start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return Reply{}, err
	}

	body, err := readDataBody(conn)
	if err != nil {
		return Reply{}, err
	}

	txn := sess.txn
	txn.Data = body
	sess.txn = nil

	sess.backend.deliver(txn.Recipients, body)
	sess.backend.archive(txn)
	return replyOK("Message accepted for delivery"), nil
}

// readDataBody reads a dot-terminated message body from the connection. A
// line containing only "." ends the body without being stored; any other line
// beginning with "." loses one leading dot.
func readDataBody(conn *server.Connection) (string, error) {
	var lines []string
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return "", err
		}
		if line == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\r\n"), nil
}
