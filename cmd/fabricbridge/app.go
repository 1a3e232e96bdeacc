package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/fabricbridge/internal/config"
	"github.com/deixis/fabricbridge/internal/gateway"
	"github.com/deixis/fabricbridge/internal/journal"
	fbmcp "github.com/deixis/fabricbridge/internal/mcp"
	"github.com/deixis/fabricbridge/internal/platform"
	"github.com/deixis/fabricbridge/internal/runner"
	"github.com/deixis/fabricbridge/internal/server"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app is the wired process: one profile, one gateway, one server.
type app struct {
	logger  *log.Logger
	profile *platform.Profile
	journal *journal.LRU
	gateway *gateway.Gateway
	mcp     *mcpsdk.Server
	server  *server.Server
	closers []io.Closer
}

// setup resolves the platform for the running OS and wires the app.
func setup(cfg *config.Config) (*app, error) {
	logger, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	a, err := newApp(runtime.GOOS, home, cfg, logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

// newApp resolves the platform profile and builds every component. It
// fails before anything listens if goos is unsupported.
func newApp(goos, home string, cfg *config.Config, logger *log.Logger) (*app, error) {
	profile, err := platform.Resolve(goos, home, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("platform resolved",
		"os", profile.GOOS,
		"invocation", profile.Style,
		"fabric", profile.FabricPath,
		"yt", profile.YTPath,
	)

	r := &runner.Runner{
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Logger:    logger.WithPrefix("runner"),
	}
	runs := journal.NewLRU(cfg.JournalSize())
	gw := gateway.New(profile, r,
		gateway.WithJournal(runs),
		gateway.WithLogger(logger.WithPrefix("gateway")),
	)
	mcpServer := fbmcp.NewServer(gw, runs)
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return mcpServer },
		nil,
	)

	srv := server.New(server.Config{
		Addr:           cfg.ListenAddr(),
		AllowedOrigins: cfg.Origins(),
		MaxBody:        cfg.MaxBodyBytes(),
		Platform:       profile.GOOS,
		Invocation:     profile.Style.String(),
	}, gw,
		server.WithJournal(runs),
		server.WithMCP(mcpHandler),
		server.WithLogger(logger.WithPrefix("http")),
	)

	return &app{
		logger:  logger,
		profile: profile,
		journal: runs,
		gateway: gw,
		mcp:     mcpServer,
		server:  srv,
	}, nil
}

// serve runs the HTTP server until ctx is done or the server fails.
func (a *app) serve(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err, ok := <-a.server.Err(); ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Stop(stopCtx)
	})
	return g.Wait()
}

// Close releases the log file, if any.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// newLogger builds the service logger. Output goes to cfg.LogFile when set,
// otherwise to fallback. The returned closer is nil for fallback.
func newLogger(cfg *config.Config, fallback io.Writer) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level())
	if err != nil {
		return nil, nil, fmt.Errorf("log_level: %w", err)
	}

	w := fallback
	var closer io.Closer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}

	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "fabricbridge",
		Level:           level,
		ReportTimestamp: true,
	})
	return logger, closer, nil
}
