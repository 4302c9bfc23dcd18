// Package cli runs the interactive command loop on top of the manager.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/manager"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

const prompt = "> "

// Shell reads commands line by line and drives the manager.
// It is the manager's only caller, so no locking is needed here.
type Shell struct {
	mgr    *manager.Manager
	in     io.Reader
	out    io.Writer
	logger logger.Logger
	prompt bool
}

// New creates a shell. The prompt is printed only when in is a terminal.
func New(mgr *manager.Manager, in io.Reader, out io.Writer, log logger.Logger) *Shell {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	return &Shell{
		mgr:    mgr,
		in:     in,
		out:    out,
		logger: log,
		prompt: interactive,
	}
}

// Run processes commands until exit, end of input or ctx cancellation.
// Command errors are printed and the loop continues.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		readErr <- sc.Err()
	}()

	s.println(banner())
	for {
		if s.prompt {
			_, _ = fmt.Fprint(s.out, prompt)
		}

		select {
		case <-ctx.Done():
			s.println("\ninterrupted, stopping monitors")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}

			quit, err := s.Exec(ctx, line)
			if err != nil {
				s.printError(err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Exec runs a single command line. quit is true for the exit command.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	cmd, args := fields[0], fields[1:]
	s.logger.Debug("command received", logger.String("command", cmd), logger.Int("args", len(args)))

	switch cmd {
	case "new":
		return false, s.cmdNew(ctx, line, args)
	case "select":
		return false, s.cmdSelect(line, args)
	case "delete", "del":
		return false, s.cmdDelete(line, args)
	case "update":
		return false, s.cmdUpdate(ctx, line, args)
	case "current":
		return false, s.cmdCurrent(ctx)
	case "list", "l":
		return false, s.cmdList(ctx)
	case "info":
		return false, s.cmdInfo(ctx)
	case "tokens":
		return false, s.cmdTokens()
	case "token":
		return false, s.cmdToken(line, args)
	case "next":
		return false, s.cmdNext()
	case "delay":
		return false, s.cmdDelay(line, args)
	case "ping":
		return false, s.cmdPing()
	case "help", "?":
		s.println(usage)
		return false, nil
	case "exit", "quit", "q":
		return true, nil
	default:
		return false, &InputError{Line: line, Usage: "help"}
	}
}

func (s *Shell) printError(err error) {
	var inErr *InputError
	switch {
	case errors.As(err, &inErr):
		s.println(inErr.Error())
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, manager.ErrNoSelection):
		s.println(err.Error())
		s.printShort(s.mgr.List(context.Background()))
	default:
		s.println("error: " + err.Error())
	}
	s.logger.Debug("command failed", logger.Error(err))
}

func (s *Shell) println(msg string) {
	_, _ = fmt.Fprintln(s.out, msg)
}

func banner() string {
	return fmt.Sprintf("%s %s, type 'help' for commands", version.Name, version.Version)
}

const usage = `commands:
  new <url> [expires_at]   create a short link and start monitoring it
  select <id>              select a resource
  delete|del <id>          stop monitoring a resource
  update <url>             re-point the selected resource
  current                  show the selected resource
  list|l                   list resources
  info                     show resources in detail
  tokens                   list credentials
  token <n>                select credential n
  next                     rotate to the next credential
  delay <n>[m]             set the ping interval in seconds (or minutes)
  ping                     probe every resource now
  help                     show this help
  exit                     stop all monitors and quit`
