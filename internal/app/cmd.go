package app

import (
	"fmt"
	"strings"
)

// Command selects what the process does.
type Command string

const (
	// CommandServe migrates the database and serves HTTP. It is the default.
	CommandServe Command = "serve"
	// CommandMigrate applies pending migrations and exits.
	CommandMigrate Command = "migrate"
)

// ParseCommand splits args into the subcommand and its flags.
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return CommandServe, args, nil
	}
	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandMigrate:
		return cmd, args[1:], nil
	default:
		return "", nil, fmt.Errorf("unknown command %q (want %s or %s)", args[0], CommandServe, CommandMigrate)
	}
}
