package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listParams struct{}

type applyParams struct {
	Pattern string `json:"pattern" jsonschema:"name of an installed fabric pattern, e.g. summarize"`
	Model   string `json:"model,omitempty" jsonschema:"model to run the pattern with; fabric's default model when empty"`
	Text    string `json:"text" jsonschema:"input text for the pattern"`
}

type youtubeParams struct {
	Pattern string `json:"pattern" jsonschema:"name of an installed fabric pattern, e.g. extract_wisdom"`
	Model   string `json:"model,omitempty" jsonschema:"model to run the pattern with; fabric's default model when empty"`
	URL     string `json:"url" jsonschema:"http or https URL of the video"`
}

type setModelParams struct {
	Model string `json:"model" jsonschema:"model name as listed by fabric_models"`
}

func (h *handler) patternsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ listParams) (*mcp.CallToolResult, any, error) {
	patterns, err := h.backend.ListPatterns(ctx)
	if err != nil {
		return failResult(err)
	}
	if len(patterns) == 0 {
		return textResult("No patterns installed.")
	}
	return textResult(strings.Join(patterns, "\n"))
}

func (h *handler) modelsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ listParams) (*mcp.CallToolResult, any, error) {
	models, err := h.backend.ListModels(ctx)
	if err != nil {
		return failResult(err)
	}
	if len(models) == 0 {
		return textResult("No models available.")
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return textResult(strings.Join(names, "\n"))
}

func (h *handler) applyHandler(ctx context.Context, _ *mcp.CallToolRequest, params applyParams) (*mcp.CallToolResult, any, error) {
	if params.Pattern == "" {
		return errorResult("pattern is required")
	}
	out, err := h.backend.ApplyPattern(ctx, params.Pattern, params.Model, params.Text)
	if err != nil {
		return failResult(err)
	}
	return textResult(out)
}

func (h *handler) youtubeHandler(ctx context.Context, _ *mcp.CallToolRequest, params youtubeParams) (*mcp.CallToolResult, any, error) {
	if params.Pattern == "" {
		return errorResult("pattern is required")
	}
	if params.URL == "" {
		return errorResult("url is required")
	}
	out, err := h.backend.ApplyPatternToVideo(ctx, params.Pattern, params.Model, params.URL)
	if err != nil {
		return failResult(err)
	}
	return textResult(out)
}

func (h *handler) setModelHandler(ctx context.Context, _ *mcp.CallToolRequest, params setModelParams) (*mcp.CallToolResult, any, error) {
	if params.Model == "" {
		return errorResult("model is required")
	}
	out, err := h.backend.SetModel(ctx, params.Model)
	if err != nil {
		return failResult(err)
	}
	if strings.TrimSpace(out) == "" {
		out = "Default model set to " + params.Model + "."
	}
	return textResult(out)
}
