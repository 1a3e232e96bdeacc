package gateway

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deixis/fabricbridge/internal/platform"
	"github.com/deixis/fabricbridge/internal/runner"
	"github.com/deixis/fabricbridge/internal/shellquote"
)

// CommandRunner executes a request and maps a non-zero exit to
// *runner.ExecutionFailure. Implemented by runner.Runner.
type CommandRunner interface {
	Execute(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Invoker runs a tool binary with arguments and optional input text.
// The strategy is chosen once from the platform profile.
type Invoker interface {
	Invoke(ctx context.Context, bin string, args []string, input string) (*runner.Result, error)
}

func newInvoker(p *platform.Profile, r CommandRunner, tempDir string, logger *log.Logger) Invoker {
	if p.Style == platform.Bridged {
		return &bridgedInvoker{bridge: p.Bridge, runner: r, tempDir: tempDir, logger: logger}
	}
	return &directInvoker{runner: r}
}

// directInvoker passes an argument vector straight to the binary. Input
// text is written to its stdin.
type directInvoker struct {
	runner CommandRunner
}

func (d *directInvoker) Invoke(ctx context.Context, bin string, args []string, input string) (*runner.Result, error) {
	return d.runner.Execute(ctx, runner.Request{Path: bin, Args: args, Stdin: input})
}

// bridgedInvoker renders a single command line for the bridge shell:
//
//	<read> <tmp> | <exec...> <bin> <args...>
//
// Input text travels through a per-call temporary file that is removed
// once the shell exits, whatever the outcome.
type bridgedInvoker struct {
	bridge  platform.Bridge
	runner  CommandRunner
	tempDir string
	logger  *log.Logger
}

func (b *bridgedInvoker) Invoke(ctx context.Context, bin string, args []string, input string) (res *runner.Result, err error) {
	d := b.bridge.Dialect

	argv := append(slices.Clone(b.bridge.Exec), bin)
	argv = append(argv, args...)
	line, err := shellquote.Command(d, argv...)
	if err != nil {
		return nil, invalidf("%v", err)
	}

	if input != "" {
		path, werr := b.writeInput(input)
		if werr != nil {
			return nil, werr
		}
		defer func() {
			rmErr := os.Remove(path)
			if rmErr == nil || errors.Is(rmErr, fs.ErrNotExist) {
				return
			}
			b.logger.Error("removing temporary input", "path", path, "err", rmErr)
			if err == nil {
				err = &TemporaryResourceError{Op: "remove", Path: path, Err: rmErr}
			}
		}()

		qpath, qerr := shellquote.Quote(d, path)
		if qerr != nil {
			return nil, &TemporaryResourceError{Op: "create", Path: path, Err: qerr}
		}
		line = b.bridge.ReadCommand + " " + qpath + " | " + line
	}
	if d == shellquote.PowerShell {
		// Pipe text to native commands as UTF-8 and surface their exit code.
		line = "$OutputEncoding = [System.Text.UTF8Encoding]::new($false); " + line + "; exit $LASTEXITCODE"
	}

	shellArgs := append(slices.Clone(b.bridge.ShellArgs), line)
	return b.runner.Execute(ctx, runner.Request{Path: b.bridge.Shell, Args: shellArgs})
}

func (b *bridgedInvoker) writeInput(input string) (string, error) {
	f, err := os.CreateTemp(b.tempDir, "fabricbridge-*.txt")
	if err != nil {
		return "", &TemporaryResourceError{Op: "create", Err: err}
	}
	path := f.Name()

	data := input
	if b.bridge.Dialect == shellquote.PowerShell && !strings.HasPrefix(data, "\ufeff") {
		// Windows PowerShell only reads a file as UTF-8 when it has a BOM.
		data = "\ufeff" + data
	}
	_, werr := f.WriteString(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return "", &TemporaryResourceError{Op: "write", Path: path, Err: werr}
	}
	return path, nil
}

// unavailable maps a start failure caused by a missing executable to
// ErrToolUnavailable and passes every other error through.
func unavailable(tool, path string, err error) error {
	var se *runner.StartError
	if !errors.As(err, &se) {
		return err
	}
	if errors.Is(se.Err, exec.ErrNotFound) || errors.Is(se.Err, fs.ErrNotExist) {
		return NewErrToolUnavailable(tool, path, err)
	}
	return err
}
