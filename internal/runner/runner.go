// Package runner executes external commands with a bounded wait, output
// size limits and structured logging.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"
)

// Runner executes commands. The zero value is usable: it applies the
// default timeout and output cap and logs nowhere.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int // bytes per stream
	Logger    *log.Logger
}

const (
	defaultTimeout   = 5 * time.Minute
	defaultMaxOutput = 16 << 20
)

// Run spawns req.Path with req.Args and waits for it to exit or for the
// timeout to elapse. A Result is returned for every process that ran,
// whatever its exit code. An error is returned when the process could not
// be started or did not finish in time.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("empty executable path")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	logger := r.logger()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID := uuid.New().String()
	command := FormatCommand(req.Path, req.Args)

	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}
	// Do not wait on pipes held open by grandchildren after a kill.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: maxOutput}
	errW := &limitWriter{buf: &stderr, limit: maxOutput}
	cmd.Stdout = outW
	cmd.Stderr = errW

	logger.Info("run start", "run_id", runID, "command", command)
	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Error("run aborted", "run_id", runID, "duration", elapsed, "err", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s: %w", command, timeout, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", command, ctxErr)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Binary not found or other exec error.
			logger.Error("run failed to start", "run_id", runID, "err", runErr)
			return nil, &StartError{Path: req.Path, Err: runErr}
		}
	}

	return &Result{
		RunID:     runID,
		Command:   command,
		ExitCode:  exitCode,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: outW.dropped || errW.dropped,
		StartedAt: started,
		Duration:  elapsed,

		StdoutTruncated: outW.dropped,
	}, nil
}

// Execute is Run with exit-status mapping: a zero exit returns the Result,
// a non-zero exit returns the Result together with an *ExecutionFailure.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	res, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := r.logger()
	if res.ExitCode != 0 {
		logger.Error("run failed",
			"run_id", res.RunID,
			"exit_code", res.ExitCode,
			"duration", res.Duration,
			"stderr", strings.TrimSpace(string(res.Stderr)))
		return res, &ExecutionFailure{
			RunID:    res.RunID,
			Command:  res.Command,
			ExitCode: res.ExitCode,
			Stderr:   string(res.Stderr),
		}
	}
	logger.Info("run done",
		"run_id", res.RunID,
		"duration", res.Duration,
		"bytes", len(res.Stdout),
		"truncated", res.Truncated)
	return res, nil
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return discard
}

var discard = log.New(io.Discard)

// FormatCommand renders path and args as a single line for logs and error
// messages. Words are POSIX-quoted where needed so the line stays readable.
func FormatCommand(path string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{path}, args...) {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", w)
		}
		words = append(words, q)
	}
	return strings.Join(words, " ")
}

// limitWriter writes up to limit bytes to buf, then discards the rest and
// sets dropped.
type limitWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.dropped = true
		}
		return len(p), nil // discard
	}
	if len(p) > remaining {
		w.dropped = true
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
