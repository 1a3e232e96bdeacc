// Package shellquote quotes words for interpolation into a shell command
// string. Every value that reaches the bridged invocation path goes through
// Quote before concatenation.
package shellquote

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Dialect selects the quoting rules of the target shell.
type Dialect string

const (
	// POSIX quotes for sh-compatible shells.
	POSIX Dialect = "posix"
	// PowerShell quotes for Windows PowerShell and pwsh.
	PowerShell Dialect = "powershell"
)

// ErrUnquotable is returned for words no dialect can represent safely.
var ErrUnquotable = errors.New("word cannot be quoted")

// ParseDialect maps a config value to a Dialect. Empty means def.
func ParseDialect(s string, def Dialect) (Dialect, error) {
	switch s {
	case "":
		return def, nil
	case string(POSIX):
		return POSIX, nil
	case string(PowerShell):
		return PowerShell, nil
	}
	return "", fmt.Errorf("unknown shell dialect %q", s)
}

// Quote returns s quoted so that the shell reads it back as exactly one
// literal word.
func Quote(d Dialect, s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", ErrUnquotable)
	}
	switch d {
	case POSIX:
		q, err := syntax.Quote(s, syntax.LangPOSIX)
		if err != nil {
			// POSIX mode refuses non-printable runes; a single-quoted
			// word carries them literally.
			return quoteSingle(s), nil
		}
		return q, nil
	case PowerShell:
		return quotePowerShell(s), nil
	}
	return "", fmt.Errorf("unknown shell dialect %q", d)
}

// Join quotes every word and joins them with single spaces.
func Join(d Dialect, words ...string) (string, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		q, err := Quote(d, w)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

// Command quotes argv as a command invocation. PowerShell parses a quoted
// first word as a string expression, so the call operator is prepended.
func Command(d Dialect, argv ...string) (string, error) {
	line, err := Join(d, argv...)
	if err != nil {
		return "", err
	}
	if d == PowerShell {
		return "& " + line, nil
	}
	return line, nil
}

func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// PowerShell single-quoted strings are fully literal. The only escape is a
// doubled quote, and the typographic single quotes act as delimiters too.
func quotePowerShell(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '‘', '’', '‚', '‛':
			b.WriteRune(r)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
