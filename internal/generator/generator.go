// Package generator turns natural-language requests into Home Assistant
// configuration documents and checks documents against the live entity
// catalog.
//
// A generation extracts candidate entities from the prompt, builds a
// bounded context from the catalog, renders the prompt template for the
// artifact type, calls the completion provider and post-processes the
// reply into YAML plus an explanation. Provider failures in the primary
// call are reported in the result, never returned as errors; failures in
// the optional steps (explanation, model-assisted validation) are logged
// and ignored.
package generator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/llm"
	"github.com/nugget/ha-config-assistant/internal/prompts"
)

// Artifact types.
const (
	TypeAutomation   = "automation"
	TypeScript       = "script"
	TypeScene        = "scene"
	TypeDashboard    = "dashboard"
	TypeCard         = "card"
	TypeSensor       = "sensor"
	TypeBinarySensor = "binary_sensor"
	TypeTemplate     = "template"
)

// Types lists every supported artifact type.
var Types = []string{
	TypeAutomation, TypeScript, TypeScene, TypeDashboard,
	TypeCard, TypeSensor, TypeBinarySensor, TypeTemplate,
}

// Completer is the part of [llm.Manager] the generator uses.
type Completer interface {
	Configured() bool
	GenerateConfig(ctx context.Context, prompt, systemPrompt string, opts ...llm.CallOption) (*llm.Response, error)
	ValidateConfig(ctx context.Context, configYAML, configType string, opts ...llm.CallOption) (*llm.Verdict, error)
	ImproveConfig(ctx context.Context, configYAML, request, configType string, opts ...llm.CallOption) (*llm.Response, error)
	ExplainConfig(ctx context.Context, configYAML, configType string, opts ...llm.CallOption) (string, error)
}

var (
	errNotConfigured = errors.New("LLM client not configured")
	errNoCatalog     = errors.New("entity catalog not initialized")
)

// Request is one generation request.
type Request struct {
	Prompt          string         `json:"prompt"`
	Type            string         `json:"type"`
	Context         map[string]any `json:"context,omitempty"`
	IncludeEntities []string       `json:"include_entities,omitempty"`
}

// Result is the outcome of a generation or improvement. When Success is
// false the reason is the only warning and every other field is empty.
type Result struct {
	Config       string   `json:"config"`
	Explanation  string   `json:"explanation"`
	EntitiesUsed []string `json:"entities_used"`
	Warnings     []string `json:"warnings"`
	Success      bool     `json:"success"`
}

func failed(prefix string, err error) *Result {
	return &Result{
		EntitiesUsed: []string{},
		Warnings:     []string{prefix + err.Error()},
	}
}

// Generator orchestrates generation, improvement and validation.
type Generator struct {
	catalog *catalog.Catalog
	llm     Completer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a generator. llm may be unconfigured; generation then
// fails softly and validation runs local checks only.
func New(cat *catalog.Catalog, completer Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		catalog: cat,
		llm:     completer,
		logger:  logger.With("component", "generator"),
		now:     time.Now,
	}
}

func (g *Generator) ready() error {
	if g.llm == nil || !g.llm.Configured() {
		return errNotConfigured
	}
	if g.catalog == nil {
		return errNoCatalog
	}
	return nil
}

// Generate produces a configuration document for req.
func (g *Generator) Generate(ctx context.Context, req Request, opts ...llm.CallOption) *Result {
	if req.Type == "" {
		req.Type = TypeAutomation
	}
	log := g.logger.With("type", req.Type)

	if err := g.ready(); err != nil {
		log.Error("error generating configuration", "error", err)
		return failed("Generation failed: ", err)
	}

	candidates := g.ExtractEntities(req.Prompt)
	candidates = dedupe(append(candidates, req.IncludeEntities...))
	log.Debug("candidate entities", "count", len(candidates))

	gctx := g.BuildContext(req.Type, candidates, req.Context)
	system := prompts.GenerationPrompt(req.Type, gctx.PromptVars())

	resp, err := g.llm.GenerateConfig(ctx, req.Prompt, system, opts...)
	if err != nil {
		log.Error("error generating configuration", "error", err)
		return failed("Generation failed: ", err)
	}

	res := g.postProcess(ctx, resp.Content, req.Type)
	log.Info("configuration generated",
		"provider", resp.Provider,
		"model", resp.Model,
		"tokens", resp.TokensUsed,
		"entities", len(res.EntitiesUsed),
		"warnings", len(res.Warnings),
	)
	return res
}

// Improve rewrites configYAML according to request and post-processes
// the replacement like a generation.
func (g *Generator) Improve(ctx context.Context, configYAML, request, configType string, opts ...llm.CallOption) *Result {
	if configType == "" {
		configType = TypeAutomation
	}
	if err := g.ready(); err != nil {
		return failed("Improvement failed: ", err)
	}

	resp, err := g.llm.ImproveConfig(ctx, configYAML, request, configType, opts...)
	if err != nil {
		g.logger.Error("error improving configuration", "type", configType, "error", err)
		return failed("Improvement failed: ", err)
	}
	return g.postProcess(ctx, resp.Content, configType)
}

// dedupe removes repeats and empty strings, keeping first occurrence
// order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
