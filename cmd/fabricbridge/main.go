// Command fabricbridge serves the local fabric and yt tools over HTTP and MCP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deixis/fabricbridge"
	"github.com/deixis/fabricbridge/internal/config"
	fbmcp "github.com/deixis/fabricbridge/internal/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("fabricbridge: ")

	cmd := "serve"
	var args []string
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serveMain(args)
	case "mcp":
		err = mcpMain(args)
	case "models":
		err = modelsMain(args)
	case "patterns":
		err = patternsMain(args)
	case "version":
		fmt.Println(fabricbridge.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "fabricbridge: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: fabricbridge [command] [flags]

Commands:
  serve       Serve the HTTP API on the loopback interface (default)
  mcp         Serve the MCP tools over stdio
  models      List the models fabric offers
  patterns    List the installed fabric patterns
  version     Print the version
  help        Show this help

Use "fabricbridge <command> -h" for command-specific flags.`)
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	addr := fs.String("addr", "", "listen address, overrides the config file (e.g. 127.0.0.1:49152)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, *addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.serve(ctx)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(fbmcp.Instructions)
		return nil
	}

	cfg, err := loadConfig(*configPath, "")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// --- models / patterns ---

func modelsMain(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	return listMain(*configPath, *jsonFlag, func(ctx context.Context, a *app) ([]string, error) {
		models, err := a.gateway.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(models))
		for i, m := range models {
			names[i] = m.Name
		}
		return names, nil
	})
}

func patternsMain(args []string) error {
	fs := flag.NewFlagSet("patterns", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	return listMain(*configPath, *jsonFlag, func(ctx context.Context, a *app) ([]string, error) {
		return a.gateway.ListPatterns(ctx)
	})
}

func listMain(configPath string, asJSON bool, list func(context.Context, *app) ([]string, error)) error {
	cfg, err := loadConfig(configPath, "")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := list(ctx, a)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(names)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// --- shared ---

func loadConfig(path, addrOverride string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if addrOverride != "" {
		cfg.Addr = addrOverride
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
