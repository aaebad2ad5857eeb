// Package interactive provides the interactive command-line interface
// for chanmux-probe.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/chanmux/chanmux-go/cmd/chanmux-probe/probe"
)

// Shell handles interactive mode for chanmux-probe.
type Shell struct {
	probe *probe.Probe
	rl    *readline.Instance
}

// New creates a shell on p. Output of p is redirected to the shell so
// notifications do not garble the prompt.
func New(p *probe.Probe) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	p.SetOutput(rl.Stdout())
	return &Shell{probe: p, rl: rl}, nil
}

// Stdout returns a writer that is safe to use while the prompt is shown.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the command loop. It calls cancel when the user quits.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if !Execute(ctx, s.probe, s.rl.Stdout(), line) {
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), Help)
}

// Help lists the shell commands.
const Help = `
chanmux Probe Commands:
  Channels:
    read <channel>           - Open a reader and print its notifications
    write <channel> <value>  - Write a value and wait for the result
    close <handle>           - Close a reader
    pause <handle>           - Stop notifications of a reader
    resume <handle>          - Restart notifications of a reader
    list                     - List open readers
    channels                 - List channels of the data sources

  General:
    help                     - Show this help
    quit                     - Exit probe

  Values:
    numbers, true/false, JSON arrays, anything else is text
    "quoted" values are always text
`

// Execute runs one command line against p and writes the response to out.
// It returns false when the line asks to quit.
func Execute(ctx context.Context, p *probe.Probe, out io.Writer, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(out, Help)

	case "read", "r":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: read <channel>")
			fmt.Fprintln(out, "  Example: read sim://sine(0,10,20,0.5)")
			return true
		}
		id, err := p.Read(args[0])
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintf(out, "Reading %s as handle %d\n", args[0], id)

	case "write", "w":
		if len(args) < 2 {
			fmt.Fprintln(out, "Usage: write <channel> <value>")
			fmt.Fprintln(out, "  Example: write loc://setpoint 42")
			return true
		}
		value := probe.ParseValue(strings.Join(args[1:], " "))
		if err := p.Write(ctx, args[0], value); err != nil {
			fmt.Fprintf(out, "Write failed: %v\n", err)
			return true
		}
		fmt.Fprintln(out, "OK")

	case "close", "c":
		withHandle(out, "close", args, p.Close)

	case "pause", "p":
		withHandle(out, "pause", args, p.Pause)

	case "resume":
		withHandle(out, "resume", args, p.Resume)

	case "list", "l":
		handles := p.Handles()
		if len(handles) == 0 {
			fmt.Fprintln(out, "No open readers")
			return true
		}
		fmt.Fprintf(out, "\nOpen Readers (%d):\n", len(handles))
		fmt.Fprintln(out, "-------------------------------------------")
		for _, h := range handles {
			state := "disconnected"
			if h.Connected {
				state = "connected"
			}
			if h.Paused {
				state += ", paused"
			}
			value := "-"
			if h.HasValue {
				value = probe.FormatValue(h.Value)
			}
			fmt.Fprintf(out, "  [%d] %s (%s) = %s\n", h.ID, h.Channel, state, value)
		}

	case "channels", "ch":
		chans := p.Channels()
		if len(chans) == 0 {
			fmt.Fprintln(out, "No channels")
			return true
		}
		for _, props := range chans {
			fmt.Fprintf(out, "  %v  connected=%v write=%v readers=%v writers=%v\n",
				props["name"], props["connected"], props["write_connected"],
				props["read_usage"], props["write_usage"])
		}

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func withHandle(out io.Writer, name string, args []string, fn func(int) error) {
	if len(args) != 1 {
		fmt.Fprintf(out, "Usage: %s <handle>\n", name)
		fmt.Fprintln(out, "  Use 'list' to see handles")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(out, "Invalid handle: %s\n", args[0])
		return
	}
	if err := fn(id); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "OK")
}
