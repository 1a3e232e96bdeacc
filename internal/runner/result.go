package runner

import (
	"fmt"
	"strings"
	"time"
)

// Request describes one process invocation.
type Request struct {
	Path  string   // executable, absolute or resolved via PATH
	Args  []string // arguments, not pre-quoted
	Stdin string   // optional text written to the process's stdin
}

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	Command   string        // diagnostic rendering of the command line
	ExitCode  int           // process exit code
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if either stream exceeded the size cap
	// StdoutTruncated is true when stdout alone exceeded the size cap, so
	// Stdout is not the complete output.
	StdoutTruncated bool
	StartedAt time.Time     // when the process was spawned
	Duration  time.Duration // wall time until exit
}

// StartError is returned by Run when the process could not be spawned,
// e.g. because the executable does not exist.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExecutionFailure is returned by Execute when a process exits non-zero.
type ExecutionFailure struct {
	RunID    string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecutionFailure) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("command %s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %s exited with status %d: %s", e.Command, e.ExitCode, msg)
}
