// Package gateway turns fabric and yt requests into process invocations.
// It picks the invocation strategy once from the platform profile, runs the
// tools, decodes their listings, and records every run in the journal.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deixis/fabricbridge/internal/journal"
	"github.com/deixis/fabricbridge/internal/platform"
	"github.com/deixis/fabricbridge/internal/runner"
)

// Tool names as they appear in logs, journal records, and errors.
const (
	Fabric = "fabric"
	YT     = "yt"
)

// Gateway holds the resolved platform profile and the invocation strategy
// derived from it. It is safe for concurrent use.
type Gateway struct {
	profile *platform.Profile
	invoker Invoker
	bridge  platform.Bridge
	journal journal.Store
	logger  *log.Logger
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	journal journal.Store
	logger  *log.Logger
	tempDir string
}

// WithJournal records every run in s.
func WithJournal(s journal.Store) Option {
	return func(o *options) { o.journal = s }
}

// WithLogger sets the logger for gateway events.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTempDir places bridged input files in dir instead of os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// New creates a Gateway for profile p running commands through r.
func New(p *platform.Profile, r CommandRunner, opts ...Option) *Gateway {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	return &Gateway{
		profile: p,
		invoker: newInvoker(p, r, o.tempDir, o.logger),
		bridge:  p.Bridge,
		journal: o.journal,
		logger:  o.logger,
	}
}

// Profile returns the platform profile the gateway was built with.
func (g *Gateway) Profile() *platform.Profile { return g.profile }

// Journal returns the run journal, or nil if none is attached.
func (g *Gateway) Journal() journal.Store { return g.journal }

// ApplyPattern runs a fabric pattern over text with the given model and
// returns fabric's output. An empty model leaves fabric on its default.
func (g *Gateway) ApplyPattern(ctx context.Context, pattern, model, text string) (string, error) {
	if err := checkWord("pattern", pattern, true); err != nil {
		return "", err
	}
	if err := checkWord("model", model, false); err != nil {
		return "", err
	}
	args := []string{"-sp", pattern}
	if model != "" {
		args = append(args, "--model", model)
	}
	res, err := g.invoke(ctx, Fabric, args, text)
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

// SetModel changes fabric's default model.
func (g *Gateway) SetModel(ctx context.Context, model string) (string, error) {
	if err := checkWord("model", model, true); err != nil {
		return "", err
	}
	res, err := g.invoke(ctx, Fabric, []string{"--changeDefaultModel", model}, "")
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

// ListModels returns the models fabric offers, without section headers or
// blank entries, in fabric's order.
func (g *Gateway) ListModels(ctx context.Context) ([]Model, error) {
	res, err := g.invoke(ctx, Fabric, []string{"--listmodels"}, "")
	if err != nil {
		return nil, err
	}
	entries, err := DecodeList(Fabric, res.Stdout)
	if err != nil {
		g.logger.Error("decoding model list", "run_id", res.RunID, "err", err)
		return nil, err
	}
	models := FilterModels(entries)
	g.logger.Info("models listed", "count", len(models))
	return models, nil
}

// ListPatterns returns the pattern names fabric knows about.
func (g *Gateway) ListPatterns(ctx context.Context) ([]string, error) {
	res, err := g.invoke(ctx, Fabric, []string{"--list"}, "")
	if err != nil {
		return nil, err
	}
	entries, err := DecodeList(Fabric, res.Stdout)
	if err != nil {
		g.logger.Error("decoding pattern list", "run_id", res.RunID, "err", err)
		return nil, err
	}
	names, err := PatternNames(Fabric, entries)
	if err != nil {
		g.logger.Error("decoding pattern list", "run_id", res.RunID, "err", err)
		return nil, err
	}
	return names, nil
}

// Transcript fetches the transcript of the video at rawURL with yt.
func (g *Gateway) Transcript(ctx context.Context, rawURL string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}
	res, err := g.invoke(ctx, YT, []string{rawURL}, "")
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

// ApplyPatternToVideo fetches a transcript and feeds it to a fabric
// pattern. If the transcript fetch fails its error is returned as is and
// fabric is not run.
func (g *Gateway) ApplyPatternToVideo(ctx context.Context, pattern, model, rawURL string) (string, error) {
	if err := checkWord("pattern", pattern, true); err != nil {
		return "", err
	}
	if err := checkWord("model", model, false); err != nil {
		return "", err
	}
	transcript, err := g.Transcript(ctx, rawURL)
	if err != nil {
		return "", err
	}
	g.logger.Info("transcript fetched, applying pattern", "pattern", pattern, "bytes", len(transcript))
	return g.ApplyPattern(ctx, pattern, model, transcript)
}

// invoke runs tool through the invocation strategy and journals the run.
func (g *Gateway) invoke(ctx context.Context, tool string, args []string, input string) (*runner.Result, error) {
	bin := g.profile.Binary(tool)
	res, err := g.invoker.Invoke(ctx, bin, args, input)
	if res != nil {
		g.record(tool, res)
	}
	if err == nil && res.StdoutTruncated {
		err = &OutputTruncatedError{Tool: tool, RunID: res.RunID}
	}
	if err != nil {
		if res == nil {
			target, path := tool, bin
			if g.profile.Style == platform.Bridged {
				target, path = "bridge shell", g.bridge.Shell
			}
			err = unavailable(target, path, err)
		}
		g.logger.Error("tool failed", "tool", tool, "err", err)
		return nil, err
	}
	return res, nil
}

func (g *Gateway) record(tool string, res *runner.Result) {
	if g.journal == nil {
		return
	}
	rec := &journal.Record{
		ID:        res.RunID,
		Tool:      tool,
		Command:   res.Command,
		ExitCode:  res.ExitCode,
		Stderr:    string(res.Stderr),
		Truncated: res.Truncated,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if err := g.journal.Save(rec); err != nil {
		g.logger.Warn("journal save failed", "run_id", res.RunID, "err", err)
	}
}

// checkWord rejects values fabric would parse as flags.
func checkWord(field, v string, required bool) error {
	if v == "" {
		if required {
			return invalidf("%s is required", field)
		}
		return nil
	}
	if strings.HasPrefix(v, "-") {
		return invalidf("%s %q must not start with '-'", field, v)
	}
	if strings.ContainsAny(v, "\x00\r\n") {
		return invalidf("%s contains control characters", field)
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return invalidf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidf("url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return invalidf("url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

// IsExecutionFailure reports whether err is a non-zero tool exit and
// returns it.
func IsExecutionFailure(err error) (*runner.ExecutionFailure, bool) {
	var f *runner.ExecutionFailure
	ok := errors.As(err, &f)
	return f, ok
}
