// Package confirm implements the Confirmation Manager: the ASK/AUTO/FORCE
// state machine that gates tool execution behind a per-call user prompt.
// No teacher package provides an analog for this (the agent executes
// tools unconditionally); the reader/writer prompt loop here is built in
// the teacher's idiom — small, explicit state, no hidden globals — since no
// third-party library in the example pack supplies an interactive
// line-confirmation primitive to reach for instead.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Mode is the manager's current confirmation posture.
type Mode int

const (
	Ask Mode = iota
	Auto
	Force
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "AUTO"
	case Force:
		return "FORCE"
	default:
		return "ASK"
	}
}

// Request describes the tool call a caller wants confirmed, shaped to
// render a useful preview without the manager needing to know about any
// specific tool's argument schema.
type Request struct {
	ToolName    string
	Description string
	// Preview is a short rendering of the call's effect: a content preview
	// for write_file, the command line for shell_exec, the target path for
	// deletions. Callers build this; the manager just displays it.
	Preview string
}

// Manager implements the confirm/cycle/reset state machine from spec §4.6.
// It is single-threaded by design: the prompt loop must never run
// concurrently with itself, since it owns the terminal's stdin while
// active.
type Manager struct {
	mode Mode
	in   *bufio.Scanner
	out  io.Writer
}

// New constructs a Manager that prompts over in/out. Pass os.Stdin/os.Stdout
// in production; tests inject strings.Reader/bytes.Buffer.
func New(in io.Reader, out io.Writer) *Manager {
	return &Manager{mode: Ask, in: bufio.NewScanner(in), out: out}
}

// Mode returns the manager's current posture.
func (m *Manager) Mode() Mode { return m.mode }

// Confirm decides whether req may proceed. In Auto or Force it returns true
// without interaction. In Ask it prompts on the manager's io.Writer and
// reads a single-key answer from its io.Reader: Y confirms once, A
// confirms and switches to Auto, N declines, and ? reprints help and
// re-prompts.
func (m *Manager) Confirm(req Request) bool {
	if m.mode == Auto || m.mode == Force {
		return true
	}

	for {
		fmt.Fprintf(m.out, "\n%s\n", req.Description)
		if req.Preview != "" {
			fmt.Fprintf(m.out, "  %s\n", req.Preview)
		}
		fmt.Fprint(m.out, "Allow? [y]es / [a]lways / [n]o / [?]help: ")

		if !m.in.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(m.in.Text()))

		switch answer {
		case "y", "yes":
			return true
		case "a", "always":
			m.mode = Auto
			return true
		case "n", "no", "":
			return false
		case "?", "help":
			fmt.Fprintln(m.out, "y = allow this call only")
			fmt.Fprintln(m.out, "a = allow this and all future calls this session (AUTO mode)")
			fmt.Fprintln(m.out, "n = deny this call")
			continue
		default:
			fmt.Fprintf(m.out, "Unrecognized answer %q, type ? for help.\n", answer)
			continue
		}
	}
}

// Cycle advances ASK -> AUTO -> FORCE -> ASK, for a keybinding callable
// from the host at idle.
func (m *Manager) Cycle() Mode {
	switch m.mode {
	case Ask:
		m.mode = Auto
	case Auto:
		m.mode = Force
	case Force:
		m.mode = Ask
	}
	return m.mode
}

// Reset returns the manager to ASK, invoked on explicit session reset.
func (m *Manager) Reset() {
	m.mode = Ask
}
