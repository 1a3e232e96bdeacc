package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/fabricbridge/internal/journal"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID reported by a failed fabric or yt call"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if h.store == nil {
		return errorResult("run journal is disabled")
	}

	rec, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatRecord(rec))
}

func formatRecord(rec *journal.Record) string {
	var b strings.Builder

	status := "ok"
	if !rec.OK() {
		status = fmt.Sprintf("exit %d", rec.ExitCode)
	}
	fmt.Fprintf(&b, "Run: %s (%s, %s)\n", rec.ID, rec.Tool, status)
	fmt.Fprintf(&b, "Command: %s\n", rec.Command)
	fmt.Fprintf(&b, "Started: %s, took %s\n", rec.StartedAt.Format(time.RFC3339), rec.Duration.Round(time.Millisecond))
	if rec.Truncated {
		fmt.Fprintln(&b, "Output was truncated.")
	}

	if stderr := strings.TrimRight(rec.Stderr, "\n"); stderr != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Stderr:")
		for _, line := range strings.Split(stderr, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}
