// Package platform resolves the process-wide PlatformProfile: where the
// fabric and yt binaries live and whether they are invoked directly or
// through a bridging shell.
package platform

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/deixis/fabricbridge/internal/config"
	"github.com/deixis/fabricbridge/internal/shellquote"
)

// OS name constants for GOOS comparisons.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)

// Style is how the external tools are invoked.
type Style int

const (
	// Direct runs the binary with an argument vector.
	Direct Style = iota
	// Bridged runs a quoted command string through a secondary shell.
	Bridged
)

func (s Style) String() string {
	switch s {
	case Direct:
		return "direct"
	case Bridged:
		return "bridged"
	default:
		return "unknown"
	}
}

// ErrUnsupportedPlatform is wrapped by UnsupportedPlatformError.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// UnsupportedPlatformError is returned by Resolve for an OS outside the
// supported set. The service must not start.
type UnsupportedPlatformError struct {
	GOOS string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported operating system %q (supported: darwin, linux, windows)", e.GOOS)
}

func (e *UnsupportedPlatformError) Unwrap() error { return ErrUnsupportedPlatform }

// Bridge is the secondary shell layer used by the Bridged style.
type Bridge struct {
	Shell       string             // shell executable on the host
	ShellArgs   []string           // flags preceding the command string
	Dialect     shellquote.Dialect // quoting rules of Shell
	ReadCommand string             // prints a host file to stdout
	Exec        []string           // prefix entering the bridged environment
}

// Profile is resolved once at startup and never modified.
type Profile struct {
	GOOS       string
	FabricPath string
	YTPath     string
	Style      Style
	Bridge     Bridge
}

const windowsPowerShell = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`

// DefaultWindowsPathMap maps a Windows home directory to its WSL home.
// It assumes the WSL user name matches the Windows one.
var DefaultWindowsPathMap = PathMap{
	{From: `C:\Users\`, To: "/home/"},
}

// Resolve builds the Profile for goos. home is the user's home directory
// on the host. cfg may override binary paths, the invocation style, and the
// bridge.
func Resolve(goos, home string, cfg *config.Config) (*Profile, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}

	var p *Profile
	switch goos {
	case Darwin, Linux:
		p = &Profile{
			GOOS:       goos,
			FabricPath: filepath.Join(home, ".local", "bin", "fabric"),
			YTPath:     filepath.Join(home, ".local", "bin", "yt"),
			Style:      Direct,
			Bridge: Bridge{
				Shell:       "/bin/sh",
				ShellArgs:   []string{"-c"},
				Dialect:     shellquote.POSIX,
				ReadCommand: "cat",
			},
		}
	case Windows:
		pm := DefaultWindowsPathMap
		if len(cfg.Bridge.PathMap) > 0 {
			pm = pathMapFromConfig(cfg.Bridge.PathMap)
		}
		bridgeHome := pm.Apply(home)
		p = &Profile{
			GOOS:       goos,
			FabricPath: path.Join(bridgeHome, ".local", "bin", "fabric"),
			YTPath:     path.Join(bridgeHome, ".local", "bin", "yt"),
			Style:      Bridged,
			Bridge: Bridge{
				Shell:       windowsPowerShell,
				ShellArgs:   []string{"-NoProfile", "-NonInteractive", "-Command"},
				Dialect:     shellquote.PowerShell,
				ReadCommand: "Get-Content -Raw",
				Exec:        []string{"wsl", "-e"},
			},
		}
	default:
		return nil, &UnsupportedPlatformError{GOOS: goos}
	}

	if cfg.FabricPath != "" {
		p.FabricPath = cfg.FabricPath
	}
	if cfg.YTPath != "" {
		p.YTPath = cfg.YTPath
	}
	switch cfg.Invocation {
	case "direct":
		p.Style = Direct
	case "bridged":
		p.Style = Bridged
	}

	b := cfg.Bridge
	if b.Shell != "" {
		p.Bridge.Shell = b.Shell
	}
	if b.ShellArgs != nil {
		p.Bridge.ShellArgs = b.ShellArgs
	}
	if b.ReadCommand != "" {
		p.Bridge.ReadCommand = b.ReadCommand
	}
	if b.Exec != nil {
		p.Bridge.Exec = b.Exec
	}
	d, err := shellquote.ParseDialect(b.Dialect, p.Bridge.Dialect)
	if err != nil {
		return nil, err
	}
	p.Bridge.Dialect = d

	return p, nil
}

// Binary returns the configured path of a tool by name.
func (p *Profile) Binary(tool string) string {
	switch tool {
	case "fabric":
		return p.FabricPath
	case "yt":
		return p.YTPath
	}
	return ""
}

// PathRewrite replaces the prefix From of a host path with To.
type PathRewrite struct {
	From string
	To   string
}

// PathMap is an ordered list of prefix rewrites from host path conventions
// to the bridged environment's conventions.
type PathMap []PathRewrite

func pathMapFromConfig(rs []config.PathRewrite) PathMap {
	pm := make(PathMap, 0, len(rs))
	for _, r := range rs {
		pm = append(pm, PathRewrite{From: r.From, To: r.To})
	}
	return pm
}

// Apply rewrites p with the first matching rule (prefixes compare
// case-insensitively, as Windows paths do) and converts backslashes to
// forward slashes. Paths no rule matches only get the separator change.
func (pm PathMap) Apply(p string) string {
	for _, r := range pm {
		if len(p) >= len(r.From) && strings.EqualFold(p[:len(r.From)], r.From) {
			p = r.To + p[len(r.From):]
			break
		}
	}
	return strings.ReplaceAll(p, `\`, "/")
}
