package generator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/ha-config-assistant/internal/catalog/catalogtest"
	"github.com/nugget/ha-config-assistant/internal/llm"
	"github.com/nugget/ha-config-assistant/internal/prompts"
)

// fakeLLM is a scripted Completer.
type fakeLLM struct {
	configured bool

	content    string
	genErr     error
	explain    string
	explainErr error
	verdict    *llm.Verdict
	verdictErr error

	prompt, system string
	explainCalls   int
}

func (f *fakeLLM) Configured() bool { return f.configured }

func (f *fakeLLM) GenerateConfig(_ context.Context, prompt, system string, _ ...llm.CallOption) (*llm.Response, error) {
	f.prompt, f.system = prompt, system
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &llm.Response{Content: f.content, Model: "fake-model", Provider: "fake"}, nil
}

func (f *fakeLLM) ValidateConfig(context.Context, string, string, ...llm.CallOption) (*llm.Verdict, error) {
	if f.verdictErr != nil {
		return nil, f.verdictErr
	}
	if f.verdict == nil {
		return &llm.Verdict{Valid: true}, nil
	}
	return f.verdict, nil
}

func (f *fakeLLM) ImproveConfig(_ context.Context, configYAML, request, _ string, _ ...llm.CallOption) (*llm.Response, error) {
	f.prompt = request
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &llm.Response{Content: f.content}, nil
}

func (f *fakeLLM) ExplainConfig(context.Context, string, string, ...llm.CallOption) (string, error) {
	f.explainCalls++
	return f.explain, f.explainErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, f *fakeLLM) *Generator {
	t.Helper()
	g := New(catalogtest.New(t, catalogtest.Home()), f, discardLogger())
	g.now = func() time.Time { return time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC) }
	return g
}

func TestExtractEntities(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	tests := []struct {
		prompt  string
		want    []string
		notWant []string
	}{
		{
			prompt: "Turn on the kitchen light at sunset",
			want:   []string{"light.kitchen"},
		},
		{
			prompt:  "Close the GARAGE door at night",
			want:    []string{"cover.garage_door"},
			notWant: []string{"zone.home"},
		},
		{
			prompt: "Warn me when the bedroom gets too warm",
			want:   []string{"sensor.bedroom_temperature"},
		},
		{
			prompt: "nothing relevant here",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			got := g.ExtractEntities(tt.prompt)
			for _, w := range tt.want {
				if !slices.Contains(got, w) {
					t.Errorf("ExtractEntities(%q) = %v, missing %s", tt.prompt, got, w)
				}
			}
			for _, nw := range tt.notWant {
				if slices.Contains(got, nw) {
					t.Errorf("ExtractEntities(%q) = %v, should not contain %s", tt.prompt, got, nw)
				}
			}
			if tt.want == nil && len(got) != 0 {
				t.Errorf("ExtractEntities(%q) = %v, want none", tt.prompt, got)
			}
			if len(got) != len(dedupe(got)) {
				t.Errorf("ExtractEntities(%q) has duplicates: %v", tt.prompt, got)
			}
		})
	}
}

func TestExtractEntities_NeverFabricates(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	for _, id := range g.ExtractEntities("turn on the attic light and the patio fans") {
		if !g.catalog.Has(id) {
			t.Errorf("extracted %s which is not in the catalog", id)
		}
	}
}

func TestBuildContext(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	c := g.BuildContext(TypeAutomation, []string{"light.kitchen", "light.nowhere"}, nil)

	if c.CurrentTime != "2024-05-01T07:00:00Z" {
		t.Errorf("CurrentTime = %q", c.CurrentTime)
	}
	if len(c.Entities) != 1 || c.Entities["light.kitchen"].Area != "Kitchen" {
		t.Errorf("Entities = %+v", c.Entities)
	}
	wantServices := []string{"light.toggle", "light.turn_off", "light.turn_on", "notify.mobile_app_phone", "switch.turn_off", "switch.turn_on"}
	if !slices.Equal(c.Services, wantServices) {
		t.Errorf("Services = %v, want %v", c.Services, wantServices)
	}
	if slices.Contains(c.Services, "homeassistant.restart") {
		t.Error("services outside the allow-list must not be offered")
	}
}

func TestBuildContext_ServicesOnlyForAutomationsAndScripts(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	for _, typ := range []string{TypeDashboard, TypeScene, TypeTemplate} {
		if c := g.BuildContext(typ, nil, nil); len(c.Services) != 0 {
			t.Errorf("%s context has services %v", typ, c.Services)
		}
	}
	if c := g.BuildContext(TypeScript, nil, nil); len(c.Services) == 0 {
		t.Error("script context should list services")
	}
}

func TestBuildContext_OverridesWin(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	c := g.BuildContext(TypeAutomation, []string{"light.kitchen"}, map[string]any{
		"current_time": "2030-01-01T00:00:00Z",
		"services":     []any{"scene.turn_on"},
		"occupants":    2,
	})

	if c.CurrentTime != "2030-01-01T00:00:00Z" {
		t.Errorf("CurrentTime = %q", c.CurrentTime)
	}
	if !slices.Equal(c.Services, []string{"scene.turn_on"}) {
		t.Errorf("Services = %v", c.Services)
	}
	if c.Extra["occupants"] != 2 {
		t.Errorf("Extra = %v", c.Extra)
	}
	if vars := c.PromptVars(); !strings.Contains(vars.Entities, "- occupants: 2") {
		t.Errorf("extra context missing from prompt: %q", vars.Entities)
	}
}

func TestBuildContext_EntityOverridesReplaceComputed(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	c := g.BuildContext(TypeAutomation, []string{"light.kitchen"}, map[string]any{
		"entities": map[string]any{
			"fan.attic": map[string]any{"name": "Attic Fan", "domain": "fan", "area": "Attic"},
		},
		"current_states": map[string]any{
			"fan.attic": map[string]any{"state": "off", "attributes": map[string]any{}},
		},
	})

	if _, ok := c.Entities["light.kitchen"]; ok || c.Entities["fan.attic"].Name != "Attic Fan" {
		t.Errorf("Entities = %v", c.Entities)
	}
	if _, ok := c.Extra["entities"]; ok {
		t.Errorf("entities override landed in Extra: %v", c.Extra)
	}

	vars := c.PromptVars()
	if want := "- fan.attic (Attic Fan) - fan in Attic - Current state: off"; vars.Entities != want {
		t.Errorf("Entities = %q, want %q", vars.Entities, want)
	}
	if vars.CurrentStates != "- fan.attic: off" {
		t.Errorf("CurrentStates = %q", vars.CurrentStates)
	}
}

func TestBuildContext_MalformedEntityOverrideKeptAsExtra(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	c := g.BuildContext(TypeAutomation, []string{"light.kitchen"}, map[string]any{
		"entities": "fan.attic",
	})

	if _, ok := c.Entities["light.kitchen"]; !ok {
		t.Errorf("computed entities replaced by malformed override: %v", c.Entities)
	}
	if c.Extra["entities"] != "fan.attic" {
		t.Errorf("Extra = %v", c.Extra)
	}
}

func TestPromptVars(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{})

	vars := g.BuildContext(TypeAutomation, []string{"switch.coffee_maker", "light.kitchen"}, nil).PromptVars()

	wantEntities := "- light.kitchen (Kitchen Light) - light in Kitchen - Current state: on\n" +
		"- switch.coffee_maker (Coffee Maker) - switch in No Area - Current state: off"
	if vars.Entities != wantEntities {
		t.Errorf("Entities =\n%s\nwant\n%s", vars.Entities, wantEntities)
	}
	if vars.CurrentStates != "- light.kitchen: on\n- switch.coffee_maker: off" {
		t.Errorf("CurrentStates = %q", vars.CurrentStates)
	}
	if !strings.HasPrefix(vars.Services, "- light.toggle\n") {
		t.Errorf("Services = %q", vars.Services)
	}

	empty := g.BuildContext(TypeDashboard, nil, nil).PromptVars()
	if empty.Entities != "No specific entities identified" || empty.CurrentStates != "No current states available" {
		t.Errorf("empty vars = %+v", empty)
	}
}

func TestGenerate_KitchenLight(t *testing.T) {
	f := &fakeLLM{
		configured: true,
		content: "Here you go:\n```yaml\nalias: Kitchen on\ntrigger:\n  - platform: sun\n    event: sunset\n" +
			"action:\n  - service: light.turn_on\n    target:\n      entity_id: light.kitchen\n```\nEnjoy!",
		explain: "Turns on the kitchen light at sunset.",
	}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "turn on the kitchen light", Type: TypeAutomation})

	if !res.Success {
		t.Fatalf("Success = false, warnings %v", res.Warnings)
	}
	if strings.Contains(res.Config, "```") || strings.Contains(res.Config, "Enjoy") {
		t.Errorf("fence or prose left in config: %q", res.Config)
	}
	if !slices.Equal(res.EntitiesUsed, []string{"light.kitchen"}) {
		t.Errorf("EntitiesUsed = %v", res.EntitiesUsed)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
	if res.Explanation != "Turns on the kitchen light at sunset." {
		t.Errorf("Explanation = %q", res.Explanation)
	}

	if !strings.Contains(f.system, prompts.Placeholder) {
		t.Error("system prompt should still carry the request placeholder")
	}
	if !strings.Contains(f.system, "- light.kitchen (Kitchen Light) - light in Kitchen") {
		t.Errorf("system prompt missing kitchen light context:\n%s", f.system)
	}
	if f.prompt != "turn on the kitchen light" {
		t.Errorf("user prompt = %q", f.prompt)
	}

	doc, err := ParseYAML(res.Config)
	if err != nil {
		t.Fatalf("generated config does not re-parse: %v", err)
	}
	if errs := checkAutomation(doc); len(errs) != 0 {
		t.Errorf("re-parsed config fails structure checks: %v", errs)
	}
}

func TestGenerate_AtticHasNoFabricatedEntities(t *testing.T) {
	f := &fakeLLM{
		configured: true,
		content:    "alias: Attic\ntrigger:\n  - platform: time\n    at: '07:00:00'\naction: []\n",
		explainErr: errors.New("boom"),
	}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "turn on the attic light"})

	if !res.Success {
		t.Fatalf("Success = false: %v", res.Warnings)
	}
	if len(res.EntitiesUsed) != 0 {
		t.Errorf("EntitiesUsed = %v, want empty", res.EntitiesUsed)
	}
	if res.Explanation != "This automation configuration has been generated based on your request." {
		t.Errorf("Explanation = %q", res.Explanation)
	}
}

func TestGenerate_UnknownEntityWarns(t *testing.T) {
	f := &fakeLLM{
		configured: true,
		content:    "trigger: []\naction:\n  - service: light.turn_on\n    entity_id: light.attic\n",
	}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "attic light", Type: TypeAutomation})

	if !res.Success {
		t.Fatal("unknown entities must not fail the generation")
	}
	if !slices.Equal(res.EntitiesUsed, []string{"light.attic"}) {
		t.Errorf("EntitiesUsed = %v", res.EntitiesUsed)
	}
	if !slices.Equal(res.Warnings, []string{"Entity 'light.attic' not found in Home Assistant"}) {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestGenerate_ExplanationFallsBackToEntityNames(t *testing.T) {
	f := &fakeLLM{
		configured: true,
		content:    "sequence:\n  - service: switch.turn_on\n    entity_id: switch.coffee_maker\n  - service: light.turn_on\n    entity_id: light.kitchen\n",
		explainErr: &llm.Error{Type: llm.ErrorTypeServer, Message: "server error"},
	}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "morning coffee", Type: TypeScript})

	if !res.Success {
		t.Fatalf("explanation failure must not fail the generation: %v", res.Warnings)
	}
	if want := "This script works with: Coffee Maker, Kitchen Light"; res.Explanation != want {
		t.Errorf("Explanation = %q, want %q", res.Explanation, want)
	}
	if f.explainCalls != 1 {
		t.Errorf("explain calls = %d, want 1", f.explainCalls)
	}
}

func TestGenerate_HardFailures(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
		want string
	}{
		{
			name: "unconfigured",
			llm:  &fakeLLM{},
			want: "Generation failed: LLM client not configured",
		},
		{
			name: "provider error",
			llm:  &fakeLLM{configured: true, genErr: &llm.Error{Type: llm.ErrorTypeAuth, Message: "authentication failed"}},
			want: "Generation failed: auth authentication failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, tt.llm)
			res := g.Generate(context.Background(), Request{Prompt: "turn on the kitchen light"})

			if res.Success {
				t.Fatal("Success = true")
			}
			if !slices.Equal(res.Warnings, []string{tt.want}) {
				t.Errorf("Warnings = %v, want [%s]", res.Warnings, tt.want)
			}
			if res.Config != "" || res.Explanation != "" || len(res.EntitiesUsed) != 0 {
				t.Errorf("failed result should be empty: %+v", res)
			}
		})
	}
}

func TestGenerate_MissingCatalog(t *testing.T) {
	g := New(nil, &fakeLLM{configured: true}, discardLogger())
	res := g.Generate(context.Background(), Request{Prompt: "x"})
	if res.Success || res.Warnings[0] != "Generation failed: entity catalog not initialized" {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerate_RepairsEntityIDTemplates(t *testing.T) {
	f := &fakeLLM{
		configured: true,
		content:    "action:\n  - service: light.turn_on\n    entity_id: {{ states('input_text.target') }}\n",
		explain:    "ok",
	}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "x", Type: TypeScript})

	if !strings.Contains(res.Config, `entity_id: '{{ states(''input_text.target'') }}'`) {
		t.Errorf("Config not repaired: %q", res.Config)
	}
	if _, err := ParseYAML(res.Config); err != nil {
		t.Errorf("repaired config does not parse: %v", err)
	}
}

func TestGenerate_UnparseableReturnsRaw(t *testing.T) {
	raw := "alias: [unclosed\n  trigger: : :"
	f := &fakeLLM{configured: true, content: raw}
	g := newTestGenerator(t, f)

	res := g.Generate(context.Background(), Request{Prompt: "x"})

	if !res.Success {
		t.Fatal("unparseable output should still succeed")
	}
	if res.Config != raw {
		t.Errorf("Config = %q, want raw reply", res.Config)
	}
	if res.Explanation != "Configuration generated but may need manual review" {
		t.Errorf("Explanation = %q", res.Explanation)
	}
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "Post-processing error: ") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestImprove(t *testing.T) {
	f := &fakeLLM{configured: true, content: "```\nsequence:\n  - delay: '00:00:05'\n```", explain: "Waits five seconds."}
	g := newTestGenerator(t, f)

	res := g.Improve(context.Background(), "sequence: []", "add a delay", TypeScript)

	if !res.Success || res.Config != "sequence:\n  - delay: '00:00:05'" {
		t.Errorf("result = %+v", res)
	}
	if f.prompt != "add a delay" {
		t.Errorf("request = %q", f.prompt)
	}

	failing := newTestGenerator(t, &fakeLLM{configured: true, genErr: errors.New("boom")})
	if res := failing.Improve(context.Background(), "a: 1", "b", ""); res.Success || !strings.HasPrefix(res.Warnings[0], "Improvement failed: ") {
		t.Errorf("failed improve = %+v", res)
	}
}
