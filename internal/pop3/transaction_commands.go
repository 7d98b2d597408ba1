package pop3

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

func okMaildrop(count, size int) string {
	return fmt.Sprintf("maildrop has %d messages (%d octets)", count, size)
}

// requireTransaction gates a command on the transaction state.
func requireTransaction(sess *Session) (Response, bool) {
	if sess.state != StateTransaction {
		return errResponse("command not valid in this state"), false
	}
	return Response{}, true
}

// parseMessageNumber parses a 1-based message number argument.
func parseMessageNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid message number %q", arg)
	}
	return n, nil
}

type statCommand struct{}

func (c *statCommand) Name() string { return "STAT" }

func (c *statCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}
	count, size := sess.scanListing()
	return ok(fmt.Sprintf("%d %d", count, size)), nil
}

type listCommand struct{}

func (c *listCommand) Name() string { return "LIST" }

func (c *listCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}

	if len(args) == 1 {
		num, err := parseMessageNumber(args[0])
		if err != nil {
			return errResponse(err.Error()), nil
		}
		msg, resp, found := sess.message(num)
		if !found {
			return resp, nil
		}
		return ok(fmt.Sprintf("%d %d", num, msg.Size())), nil
	}

	count, size := sess.scanListing()
	lines := make([]string, 0, count)
	for i, msg := range sess.messages {
		if sess.deleted[i+1] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.Size()))
	}
	return Response{
		OK:        true,
		Message:   okMaildrop(count, size),
		Lines:     lines,
		Multiline: true,
	}, nil
}

type uidlCommand struct{}

func (c *uidlCommand) Name() string { return "UIDL" }

func (c *uidlCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}

	if len(args) == 1 {
		num, err := parseMessageNumber(args[0])
		if err != nil {
			return errResponse(err.Error()), nil
		}
		msg, resp, found := sess.message(num)
		if !found {
			return resp, nil
		}
		return ok(fmt.Sprintf("%d %d", num, msg.UID())), nil
	}

	var lines []string
	for i, msg := range sess.messages {
		if sess.deleted[i+1] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.UID()))
	}
	return Response{
		OK:        true,
		Message:   "unique-id listing follows",
		Lines:     lines,
		Multiline: true,
	}, nil
}

type retrCommand struct{}

func (c *retrCommand) Name() string { return "RETR" }

func (c *retrCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}
	if len(args) != 1 {
		return errResponse("RETR requires a message number"), nil
	}
	num, err := parseMessageNumber(args[0])
	if err != nil {
		return errResponse(err.Error()), nil
	}
	msg, resp, found := sess.message(num)
	if !found {
		return resp, nil
	}
	return Response{
		OK:        true,
		Message:   fmt.Sprintf("%d octets", msg.Size()),
		Lines:     contentLines(msg.Content()),
		Multiline: true,
	}, nil
}

type topCommand struct{}

func (c *topCommand) Name() string { return "TOP" }

func (c *topCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}
	if len(args) != 2 {
		return errResponse("TOP requires a message number and a line count"), nil
	}
	num, err := parseMessageNumber(args[0])
	if err != nil {
		return errResponse(err.Error()), nil
	}
	bodyLines, err := strconv.Atoi(args[1])
	if err != nil || bodyLines < 0 {
		return errResponse("invalid line count"), nil
	}
	msg, resp, found := sess.message(num)
	if !found {
		return resp, nil
	}

	lines := contentLines(msg.Content())
	headers := lines
	var body []string
	for i, line := range lines {
		if line == "" {
			headers = lines[:i+1]
			body = lines[i+1:]
			break
		}
	}
	if bodyLines < len(body) {
		body = body[:bodyLines]
	}
	return Response{
		OK:        true,
		Message:   "top of message follows",
		Lines:     append(append([]string{}, headers...), body...),
		Multiline: true,
	}, nil
}

type deleCommand struct{}

func (c *deleCommand) Name() string { return "DELE" }

func (c *deleCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}
	if len(args) != 1 {
		return errResponse("DELE requires a message number"), nil
	}
	num, err := parseMessageNumber(args[0])
	if err != nil {
		return errResponse(err.Error()), nil
	}
	if _, resp, found := sess.message(num); !found {
		return resp, nil
	}
	sess.deleted[num] = true
	return ok(fmt.Sprintf("message %d deleted", num)), nil
}

type rsetCommand struct{}

func (c *rsetCommand) Name() string { return "RSET" }

func (c *rsetCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if resp, okState := requireTransaction(sess); !okState {
		return resp, nil
	}
	sess.deleted = make(map[int]bool)
	count, size := sess.scanListing()
	return ok(okMaildrop(count, size)), nil
}

type noopCommand struct{}

func (c *noopCommand) Name() string { return "NOOP" }

func (c *noopCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	return ok(""), nil
}

type quitCommand struct{}

func (c *quitCommand) Name() string { return "QUIT" }

func (c *quitCommand) Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error) {
	if sess.state == StateTransaction {
		removed := sess.commitDeletions()
		return ok(fmt.Sprintf("%s signing off (%d messages removed)", sess.backend.hostname, removed)), nil
	}
	return ok(sess.backend.hostname + " signing off"), nil
}

// contentLines splits stored message content into wire lines.
func contentLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\r\n")
}
