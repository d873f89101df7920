package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hamlink/js8relay/pkg/lxmf"
)

// CommandContext carries everything a handler needs about the request.
type CommandContext struct {
	Sender  lxmf.Identity
	Args    []string
	IsAdmin bool
}

// CommandFunc handles one command and returns the reply text.
type CommandFunc func(ctx context.Context, cc CommandContext) (string, error)

// Command is one registered bot command.
type Command struct {
	Name        string
	Usage       string
	Description string
	AdminOnly   bool
	Handler     CommandFunc
}

// Registry dispatches prefixed mesh messages to command handlers.
type Registry struct {
	prefix   string
	commands map[string]Command
}

func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:   prefix,
		commands: make(map[string]Command),
	}
}

func (r *Registry) Register(cmd Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// IsCommand reports whether the content looks like a command invocation.
func (r *Registry) IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), r.prefix)
}

// Dispatch parses and runs a command. Unknown commands and permission
// failures come back as reply text, not errors; an error from a handler
// means the command itself failed.
func (r *Registry) Dispatch(ctx context.Context, sender lxmf.Identity, isAdmin bool, content string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return "", nil
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], r.prefix))
	cmd, ok := r.commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command %s%s. Send %shelp for the list.", r.prefix, name, r.prefix), nil
	}
	if cmd.AdminOnly && !isAdmin {
		return fmt.Sprintf("%s%s is admin only.", r.prefix, name), nil
	}

	reply, err := cmd.Handler(ctx, CommandContext{
		Sender:  sender,
		Args:    fields[1:],
		IsAdmin: isAdmin,
	})
	if err != nil {
		return "", fmt.Errorf("command %s: %w", name, err)
	}
	return reply, nil
}

// Help renders the command list, hiding admin commands from regular users.
func (r *Registry) Help(isAdmin bool) string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range names {
		cmd := r.commands[name]
		if cmd.AdminOnly && !isAdmin {
			continue
		}
		usage := cmd.Usage
		if usage == "" {
			usage = r.prefix + cmd.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, cmd.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
