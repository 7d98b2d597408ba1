package smtp

import (
	"context"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

// Command is one executable SMTP command. Commands are stateless; per-session
// state lives on the Session, shared state on the Backend.
type Command interface {
	// Name returns the command verb, e.g. "MAIL".
	Name() string

	// Execute processes the command and returns the reply to send. Commands
	// that need additional round trips (DATA, AUTH) perform them on conn and
	// return the final reply.
	Execute(ctx context.Context, sess *Session, conn *server.Connection, args string) (Reply, error)
}

var commandRegistry = make(map[string]Command)

// RegisterCommand adds a command to the registry, replacing any command of
// the same name.
func RegisterCommand(cmd Command) {
	commandRegistry[strings.ToUpper(cmd.Name())] = cmd
}

// GetCommand looks up a command by name, case-insensitively.
func GetCommand(name string) (Command, bool) {
	cmd, ok := commandRegistry[strings.ToUpper(name)]
	return cmd, ok
}

// ParseCommand splits a command line into its verb and argument string.
func ParseCommand(line string) (name, args string) {
	name, args, _ = strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToUpper(name), strings.TrimSpace(args)
}

func init() {
	RegisterCommand(&heloCommand{})
	RegisterCommand(&ehloCommand{})
	RegisterCommand(&mailCommand{})
	RegisterCommand(&rcptCommand{})
	RegisterCommand(&dataCommand{})
	RegisterCommand(&rsetCommand{})
	RegisterCommand(&noopCommand{})
	RegisterCommand(&quitCommand{})
	RegisterCommand(&vrfyCommand{})
	RegisterCommand(&authCommand{})
	RegisterCommand(&starttlsCommand{})
}
