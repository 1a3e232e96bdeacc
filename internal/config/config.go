// Package config loads and validates the optional fabricbridge YAML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server and runner.
const (
	DefaultAddr      = "127.0.0.1:49152"
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 16 << 20 // 16 MB
	DefaultMaxBody   = 8 << 20  // 8 MB
	DefaultJournal   = 64
	DefaultLogLevel  = "info"
)

// DefaultAllowedOrigins are the origins allowed to call the API when none
// are configured: local pages and the Obsidian desktop app.
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"app://obsidian.md",
}

// Config holds the parsed configuration file.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version        int          `yaml:"version"`
	Addr           string       `yaml:"addr"`       // loopback host:port
	RawTimeout     string       `yaml:"timeout"`    // e.g. "5m", "30s"
	RawMaxOutput   int          `yaml:"max_output"` // bytes per stream
	RawMaxBody     int64        `yaml:"max_body"`   // request body bytes
	RawJournal     int          `yaml:"journal"`    // recent runs kept in memory
	AllowedOrigins []string     `yaml:"allowed_origins"`
	LogFile        string       `yaml:"log_file"`
	LogLevel       string       `yaml:"log_level"`
	FabricPath     string       `yaml:"fabric_path"` // overrides the platform default
	YTPath         string       `yaml:"yt_path"`     // overrides the platform default
	Invocation     string       `yaml:"invocation"`  // "", "direct" or "bridged"
	Bridge         BridgeConfig `yaml:"bridge"`
}

// BridgeConfig describes the secondary shell used for bridged invocations.
// Empty fields fall back to the platform defaults.
type BridgeConfig struct {
	Shell       string        `yaml:"shell"`        // e.g. powershell.exe
	ShellArgs   []string      `yaml:"shell_args"`   // e.g. [-Command]
	Dialect     string        `yaml:"dialect"`      // "powershell" or "posix"
	ReadCommand string        `yaml:"read_command"` // e.g. gc, cat
	Exec        []string      `yaml:"exec"`         // e.g. [wsl, -e]
	PathMap     []PathRewrite `yaml:"path_map"`     // host path -> bridge path
}

// PathRewrite maps a host path prefix to the bridge environment's prefix.
type PathRewrite struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// MaxBodyBytes returns the configured request body limit or the default.
func (c *Config) MaxBodyBytes() int64 {
	if c.RawMaxBody > 0 {
		return c.RawMaxBody
	}
	return DefaultMaxBody
}

// JournalSize returns how many recent runs are kept for inspection.
func (c *Config) JournalSize() int {
	if c.RawJournal > 0 {
		return c.RawJournal
	}
	return DefaultJournal
}

// ListenAddr returns the configured address or the default.
func (c *Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return DefaultAddr
}

// Origins returns the configured origin allow-list, falling back to defaults.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return DefaultAllowedOrigins
}

// Level returns the configured log level name, falling back to "info".
func (c *Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return DefaultLogLevel
}

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	host, _, err := net.SplitHostPort(c.ListenAddr())
	if err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalid, c.ListenAddr(), err)
	}
	if !isLoopback(host) {
		return fmt.Errorf("%w: addr %q is not a loopback address", ErrInvalid, c.ListenAddr())
	}
	if !slices.Contains([]string{"", "direct", "bridged"}, c.Invocation) {
		return fmt.Errorf("%w: invocation %q (want direct or bridged)", ErrInvalid, c.Invocation)
	}
	if !slices.Contains([]string{"", "posix", "powershell"}, c.Bridge.Dialect) {
		return fmt.Errorf("%w: bridge dialect %q (want posix or powershell)", ErrInvalid, c.Bridge.Dialect)
	}
	for _, r := range c.Bridge.PathMap {
		if r.From == "" {
			return fmt.Errorf("%w: path_map entry with empty from", ErrInvalid)
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fabricbridge", "config.yaml"), nil
}

// Load reads the config file at path. An empty path means DefaultPath.
// If the file does not exist, a default Config is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return &Config{}, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
