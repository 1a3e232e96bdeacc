// Package mcp provides the fabricbridge MCP server, exposing the gateway
// operations as tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/deixis/fabricbridge"
	"github.com/deixis/fabricbridge/internal/gateway"
	"github.com/deixis/fabricbridge/internal/journal"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// Backend runs the tool operations. Implemented by *gateway.Gateway.
type Backend interface {
	ApplyPattern(ctx context.Context, pattern, model, text string) (string, error)
	ApplyPatternToVideo(ctx context.Context, pattern, model, url string) (string, error)
	SetModel(ctx context.Context, model string) (string, error)
	ListModels(ctx context.Context) ([]gateway.Model, error)
	ListPatterns(ctx context.Context) ([]string, error)
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	backend Backend
	store   journal.Store // nil disables fabric_inspect lookups
}

// NewServer creates an MCP server with all fabricbridge tools registered.
// store may be nil.
func NewServer(b Backend, store journal.Store) *mcp.Server {
	h := &handler{backend: b, store: store}

	s := mcp.NewServer(&mcp.Implementation{Name: "fabricbridge", Version: fabricbridge.Version}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "fabric_patterns",
		Description: "List the fabric patterns installed on this machine.",
	}, h.patternsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "fabric_models",
		Description: "List the models fabric can use, without vendor headings.",
	}, h.modelsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "fabric_apply",
		Description: `Run a fabric pattern over text and return its output.

The text is passed to fabric on standard input, never through a shell, so it may
contain quotes, newlines, and shell metacharacters.`,
	}, h.applyHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "fabric_youtube",
		Description: `Fetch a video transcript with yt and run a fabric pattern over it.

If yt fails, fabric is not run and the yt failure is reported.`,
	}, h.youtubeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "fabric_set_model",
		Description: "Change fabric's default model. This persists in fabric's own configuration.",
	}, h.setModelHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "fabric_inspect",
		Description: `Show a recent fabric or yt run by run_id.

Use the run_id reported by a failed tool call. Returns the exact command line,
exit code, stderr, and timing.`,
	}, h.inspectHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

// failResult reports err with the run ID and exit code when a command ran.
func failResult(err error) (*mcp.CallToolResult, any, error) {
	if f, ok := gateway.IsExecutionFailure(err); ok {
		return errorResult(fmt.Sprintf("%v\nRun: %s (exit %d)", err, f.RunID, f.ExitCode))
	}
	var te *gateway.OutputTruncatedError
	if errors.As(err, &te) {
		return errorResult(fmt.Sprintf("%v\nRun: %s", err, te.RunID))
	}
	return errorResult(err.Error())
}
