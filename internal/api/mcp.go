package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/ha-config-assistant/internal/buildinfo"
	"github.com/nugget/ha-config-assistant/internal/generator"
	"github.com/nugget/ha-config-assistant/internal/preview"
)

// NewMCPHandler exposes the assistant's tools over MCP's streamable
// HTTP transport. The caller mounts it (see Deps.MCP).
func NewMCPHandler(deps Deps, logger *slog.Logger) http.Handler {
	return server.NewStreamableHTTPServer(
		newMCPServer(deps, logger),
		server.WithStateLess(true),
	)
}

func newMCPServer(deps Deps, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(
		"ha-config-assistant",
		buildinfo.Version,
		server.WithToolCapabilities(true),
	)
	t := &mcpTools{deps: deps, logger: logger.With("component", "mcp")}

	s.AddTool(mcp.NewTool("suggest_entities",
		mcp.WithDescription("Search the Home Assistant entity catalog by name, area or domain"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text search, e.g. 'kitchen light'")),
		mcp.WithString("domain", mcp.Description("Optional domain filter, e.g. 'light'")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.suggestEntities)

	s.AddTool(mcp.NewTool("generate_config",
		mcp.WithDescription("Generate Home Assistant YAML from a natural-language request"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("What the configuration should do")),
		mcp.WithString("type", mcp.Description("Artifact type: "+strings.Join(generator.Types, ", ")+" (default automation)")),
	), t.generateConfig)

	s.AddTool(mcp.NewTool("validate_config",
		mcp.WithDescription("Validate Home Assistant YAML against syntax, structure and the entity catalog"),
		mcp.WithString("config", mcp.Required(), mcp.Description("YAML document")),
		mcp.WithString("type", mcp.Description("Artifact type (default automation)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.validateConfig)

	s.AddTool(mcp.NewTool("preview_config",
		mcp.WithDescription("Render a human-readable HTML preview of Home Assistant YAML"),
		mcp.WithString("config", mcp.Required(), mcp.Description("YAML document")),
		mcp.WithString("type", mcp.Description("Artifact type (default automation)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.previewConfig)

	return s
}

type mcpTools struct {
	deps   Deps
	logger *slog.Logger
}

// optionalString extracts an optional string argument from the request.
func optionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, _ := args[key].(string)
	return val
}

// optionalInt extracts an optional numeric argument, falling back to def.
func optionalInt(req mcp.CallToolRequest, key string, def int) int {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if f, ok := args[key].(float64); ok && f > 0 {
		return int(f)
	}
	return def
}

func configType(req mcp.CallToolRequest) string {
	if t := optionalString(req, "type"); t != "" {
		return t
	}
	return generator.TypeAutomation
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *mcpTools) suggestEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return nil, err
	}
	if t.deps.Catalog == nil {
		return mcp.NewToolResultError("entity catalog not available"), nil
	}

	var domains []string
	if d := optionalString(req, "domain"); d != "" {
		domains = []string{d}
	}
	limit := optionalInt(req, "limit", defaultSuggestionLimit)

	return jsonResult(t.deps.Catalog.Suggest(query, domains, limit))
}

func (t *mcpTools) generateConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("prompt cannot be empty"), nil
	}
	if t.deps.Generator == nil {
		return mcp.NewToolResultError("config generator not available"), nil
	}

	res := t.deps.Generator.Generate(ctx, generator.Request{Prompt: prompt, Type: configType(req)})
	t.logger.Info("mcp generate_config", "success", res.Success, "entities", len(res.EntitiesUsed))
	return jsonResult(res)
}

func (t *mcpTools) validateConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := req.RequireString("config")
	if err != nil {
		return nil, err
	}
	if t.deps.Generator == nil {
		return mcp.NewToolResultError("config generator not available"), nil
	}
	return jsonResult(t.deps.Generator.Validate(ctx, cfg, configType(req)))
}

func (t *mcpTools) previewConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := req.RequireString("config")
	if err != nil {
		return nil, err
	}
	if t.deps.Catalog == nil {
		return mcp.NewToolResultError("entity catalog not available"), nil
	}
	return jsonResult(preview.Render(t.deps.Catalog, cfg, configType(req)))
}
