package gateway

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidArgument is wrapped by errors for request values the gateway
// refuses to pass to a tool.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// FormatError is returned when a tool's output does not have the expected
// shape, e.g. a listing that is not a list.
type FormatError struct {
	Tool   string
	Reason string
	Output string // offending output, shortened
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected %s output: %s", e.Tool, e.Reason)
}

func formatErr(tool, reason string, out []byte) *FormatError {
	s := string(out)
	if len(s) > maxErrOutput {
		cut := maxErrOutput
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return &FormatError{Tool: tool, Reason: reason, Output: s}
}

const maxErrOutput = 200

// ErrOutputTruncated is wrapped by OutputTruncatedError.
var ErrOutputTruncated = errors.New("output truncated")

// OutputTruncatedError is returned when a tool exited successfully but its
// stdout exceeded the capture limit, so only part of it was read.
type OutputTruncatedError struct {
	Tool  string
	RunID string
}

func (e *OutputTruncatedError) Error() string {
	return fmt.Sprintf("%s output exceeded the capture limit (run %s); raise max_output in the config", e.Tool, e.RunID)
}

func (e *OutputTruncatedError) Unwrap() error { return ErrOutputTruncated }

// TemporaryResourceError is returned when the temporary input file of a
// bridged invocation cannot be created, written, or removed.
type TemporaryResourceError struct {
	Op   string // "create", "write" or "remove"
	Path string
	Err  error
}

func (e *TemporaryResourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("temporary input file: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("temporary input file %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *TemporaryResourceError) Unwrap() error { return e.Err }

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	// ImportPath is the Go module path for go install.
	ImportPath string
}

// knownTools maps tool names to their install metadata.
var knownTools = map[string]toolInfo{
	"fabric": {ImportPath: "github.com/danielmiessler/fabric/cmd/fabric@latest"},
	"yt":     {ImportPath: "github.com/danielmiessler/yt@latest"},
}

// ErrToolUnavailable is returned when an executable cannot be started
// because it is not installed where the platform profile expects it.
// It includes install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Path string
	Info *toolInfo
	Err  error
}

// NewErrToolUnavailable builds an ErrToolUnavailable for the named tool.
func NewErrToolUnavailable(name, path string, err error) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name, Path: path, Err: err}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but was not found at %s.", e.Name, e.Path)
	if e.Info != nil && e.Info.ImportPath != "" {
		fmt.Fprintf(&b, "\nInstall: go install %s", e.Info.ImportPath)
		fmt.Fprintf(&b, "\nOr set %s_path in the fabricbridge config.", e.Name)
	}
	return b.String()
}

func (e ErrToolUnavailable) Unwrap() error { return e.Err }
