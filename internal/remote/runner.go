package remote

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Runner executes commands on the brick. The controller depends on this
// interface rather than a live session so its state machine is testable
// without network latency.
type Runner interface {
	// Run executes a command and returns its combined output
	Run(ctx context.Context, cmd string) (string, error)
	// Stream executes a command with its output wired to the operator
	Stream(ctx context.Context, cmd string, stdout, stderr io.Writer) error
}

// ExitStatus extracts a remote command's exit status when the command ran
// to completion, as opposed to failing at the transport layer
func ExitStatus(err error) (int, bool) {
	var exitErr interface{ ExitStatus() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}

// shellQuote makes a value safe to splice into a remote shell command
func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// joinCommand builds a remote shell command from a program and its arguments
func joinCommand(cmd string, args ...string) string {
	var b strings.Builder
	b.WriteString(shellQuote(cmd))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}
