package imap

import (
	"context"
	"strings"

	"github.com/infodancer/mailmock/internal/server"
)

// Request is one parsed command dispatch: the client tag, the command name,
// and the parser positioned at the argument list. UID marks the UID variant
// of FETCH, STORE, COPY, and EXPUNGE.
type Request struct {
	Tag    string
	Name   string
	UID    bool
	Parser *Parser
}

// Command represents an IMAP command that can be executed. Commands write
// their own untagged and tagged responses.
type Command interface {
	// Name returns the command name, e.g. "SELECT".
	Name() string

	// Execute processes the command. A returned *SyntaxError produces a
	// tagged BAD; any other error aborts the session.
	Execute(ctx context.Context, sess *Session, conn *server.Connection, req *Request) error
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

// uidCommands are the commands reachable through the UID prefix.
var uidCommands = map[string]bool{
	"FETCH":   true,
	"STORE":   true,
	"COPY":    true,
	"EXPUNGE": true,
}

func init() {
	RegisterCommand(&capabilityCommand{})
	RegisterCommand(&noopCommand{})
	RegisterCommand(&logoutCommand{})
	RegisterCommand(&starttlsCommand{})
	RegisterCommand(&loginCommand{})
	RegisterCommand(&authenticateCommand{})
	RegisterCommand(&selectCommand{examine: false})
	RegisterCommand(&selectCommand{examine: true})
	RegisterCommand(&createCommand{})
	RegisterCommand(&deleteCommand{})
	RegisterCommand(&renameCommand{})
	RegisterCommand(&listCommand{})
	RegisterCommand(&statusCommand{})
	RegisterCommand(&appendCommand{})
	RegisterCommand(&closeCommand{expunge: true})
	RegisterCommand(&closeCommand{expunge: false})
	RegisterCommand(&expungeCommand{})
	RegisterCommand(&storeCommand{})
	RegisterCommand(&fetchCommand{})
	RegisterCommand(&copyCommand{})
}
