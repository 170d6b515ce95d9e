// internal/repl/commands.go
package repl

import (
	"strings"

	"github.com/chzyer/readline"
)

// Command is one FreakWAN verb and the argument values offered for completion
type Command struct {
	Verb string
	Args []string
}

// CommandModel is the read-only completion tree of known verbs. It never validates input.
type CommandModel struct {
	commands []Command
}

// NewCommandModel creates a model from cmds, kept in the given order
func NewCommandModel(cmds ...Command) *CommandModel {
	out := make([]Command, len(cmds))
	for i, c := range cmds {
		out[i] = Command{Verb: c.Verb, Args: append([]string(nil), c.Args...)}
	}
	return &CommandModel{commands: out}
}

// DefaultCommands returns the verbs understood by FreakWAN nodes
func DefaultCommands() *CommandModel {
	return NewCommandModel(
		Command{Verb: "!automsg", Args: []string{"on", "off"}},
		Command{Verb: "!bat"},
		Command{Verb: "!bw", Args: []string{"7800", "10400", "15600", "20800", "31250", "41700", "62500", "125000", "250000", "500000"}},
		Command{Verb: "!cr", Args: []string{"5", "6", "7", "8"}},
		Command{Verb: "!sf", Args: []string{"6", "7", "8", "9", "10", "11", "12"}},
		Command{Verb: "!pw", Args: []string{"2", "5", "10", "15", "20"}},
		Command{Verb: "!preset", Args: []string{"superfar", "veryfar", "far", "mid", "fast"}},
		Command{Verb: "!ls"},
		Command{Verb: "!help"},
	)
}

// Commands returns a copy of the verbs in the model
func (m *CommandModel) Commands() []Command {
	return NewCommandModel(m.commands...).commands
}

// Completer builds the readline prefix completer for the model
func (m *CommandModel) Completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(m.commands))
	for _, c := range m.commands {
		args := make([]readline.PrefixCompleterInterface, 0, len(c.Args))
		for _, a := range c.Args {
			args = append(args, readline.PcItem(a))
		}
		items = append(items, readline.PcItem(c.Verb, args...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Suggest returns the full lines the model offers for a partially typed line, in
// model order
func (m *CommandModel) Suggest(line string) []string {
	fields := strings.Fields(line)
	trailingSpace := strings.HasSuffix(line, " ")

	var out []string
	switch {
	case len(fields) == 0:
		for _, c := range m.commands {
			out = append(out, c.Verb)
		}

	case len(fields) == 1 && !trailingSpace:
		for _, c := range m.commands {
			if strings.HasPrefix(c.Verb, fields[0]) {
				out = append(out, c.Verb)
			}
		}

	case len(fields) == 1 || (len(fields) == 2 && !trailingSpace):
		cmd, ok := m.lookup(fields[0])
		if !ok {
			return nil
		}
		partial := ""
		if len(fields) == 2 {
			partial = fields[1]
		}
		for _, a := range cmd.Args {
			if strings.HasPrefix(a, partial) {
				out = append(out, cmd.Verb+" "+a)
			}
		}
	}

	return out
}

func (m *CommandModel) lookup(verb string) (Command, bool) {
	for _, c := range m.commands {
		if c.Verb == verb {
			return c, true
		}
	}
	return Command{}, false
}
