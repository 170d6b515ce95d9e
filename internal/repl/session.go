// internal/repl/session.go
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"freakble/internal/model"
	"freakble/internal/protocol"
)

// Prompt is shown while waiting for operator input
const Prompt = "Φ] "

// Console is the operator terminal a session reads from and prints to
type Console interface {
	Readline() (string, error)
	Stdout() io.Writer
	Close() error
}

// State is the session's position in its read-eval cycle
type State int32

const (
	StateIdle State = iota
	StatePrompting
	StateDispatching
	StateTerminated
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrompting:
		return "prompting"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session turns operator lines into outbound frames and prints inbound frames
type Session struct {
	link     protocol.Link
	console  Console
	commands *CommandModel
	logger   *zap.Logger

	outMu     sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
}

// NewSession creates a session and installs its printer as the link's receive callback
func NewSession(link protocol.Link, console Console, commands *CommandModel, logger *zap.Logger) *Session {
	if commands == nil {
		commands = DefaultCommands()
	}
	s := &Session{
		link:     link,
		console:  console,
		commands: commands,
		logger:   logger.With(zap.String("component", "repl")),
	}
	link.SetReceiveCallback(s.Print)
	return s
}

// State returns the current state
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Commands returns the completion model in use
func (s *Session) Commands() *CommandModel {
	return s.commands
}

// Print writes one inbound frame to the console
func (s *Session) Print(frame model.Frame) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if _, err := fmt.Fprintln(s.console.Stdout(), frame.String()); err != nil {
		s.logger.Debug("Console write failed", zap.Error(err))
	}
}

// Run reads lines until end of input, interrupt or cancellation. Every line, empty
// ones included, is sent unchanged as one frame. After cancellation the console is
// closed before Run returns.
func (s *Session) Run(ctx context.Context) (model.Outcome, error) {
	stop := context.AfterFunc(ctx, s.closeConsole)
	defer func() {
		stop()
		if ctx.Err() != nil {
			s.closeConsole()
		}
	}()

	for {
		if ctx.Err() != nil {
			return s.terminate(model.OutcomeStopRequested, nil)
		}

		s.setState(StatePrompting)
		line, err := s.console.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) || ctx.Err() != nil {
				return s.terminate(model.OutcomeStopRequested, nil)
			}
			return s.terminate(model.OutcomeStopRequested, fmt.Errorf("failed to read input: %w", err))
		}

		s.setState(StateDispatching)
		if err := s.link.Send(ctx, model.Frame(line)); err != nil {
			if ctx.Err() != nil {
				return s.terminate(model.OutcomeStopRequested, nil)
			}
			return s.terminate(model.OutcomeStopRequested, err)
		}
	}
}

func (s *Session) terminate(outcome model.Outcome, err error) (model.Outcome, error) {
	s.setState(StateTerminated)
	s.logger.Debug("Session terminated", zap.Stringer("outcome", outcome), zap.Error(err))
	return outcome, err
}

func (s *Session) closeConsole() {
	s.closeOnce.Do(func() {
		if err := s.console.Close(); err != nil {
			s.logger.Debug("Console close failed", zap.Error(err))
		}
	})
}

// NewConsole opens a readline terminal completing from commands
func NewConsole(commands *CommandModel) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		AutoComplete:    commands.Completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}
