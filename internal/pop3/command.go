package pop3

import (
	"context"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

// Command represents a POP3 command that can be executed.
type Command interface {
	// Name returns the command name, e.g. "RETR".
	Name() string

	// Execute processes the command and returns a response. Commands that
	// need additional round trips (AUTH) perform them on conn and return the
	// final response.
	Execute(ctx context.Context, sess *Session, conn *server.Connection, args []string) (Response, error)
}

var commandRegistry = make(map[string]Command)

// RegisterCommand registers a command, replacing any command of the same
// name.
func RegisterCommand(cmd Command) {
	commandRegistry[strings.ToUpper(cmd.Name())] = cmd
}

// GetCommand retrieves a command from the registry by name.
func GetCommand(name string) (Command, bool) {
	cmd, ok := commandRegistry[strings.ToUpper(name)]
	return cmd, ok
}

// ParseCommand splits a command line into its name and arguments.
func ParseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}

func init() {
	RegisterCommand(&userCommand{})
	RegisterCommand(&passCommand{})
	RegisterCommand(&apopCommand{})
	RegisterCommand(&authCommand{})
	RegisterCommand(&capaCommand{})
	RegisterCommand(&stlsCommand{})
	RegisterCommand(&statCommand{})
	RegisterCommand(&listCommand{})
	RegisterCommand(&retrCommand{})
	RegisterCommand(&topCommand{})
	RegisterCommand(&deleCommand{})
	RegisterCommand(&rsetCommand{})
	RegisterCommand(&noopCommand{})
	RegisterCommand(&uidlCommand{})
	RegisterCommand(&quitCommand{})
}
