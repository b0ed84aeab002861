package generator

import (
	"bytes"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/nugget/ha-config-assistant/internal/catalog/catalogtest"
)

func TestExtractYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "  alias: x\n", "alias: x"},
		{"fenced", "```yaml\nalias: x\n```", "alias: x"},
		{"prose around", "Sure!\n```yaml\nalias: x\nmode: single\n```\nLet me know.", "alias: x\nmode: single"},
		{"second block dropped", "```\na: 1\n```\ntext\n```\nb: 2\n```", "a: 1"},
		{"unterminated", "```yaml\na: 1\n", "a: 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractYAML(tt.input); got != tt.want {
				t.Errorf("extractYAML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"quotes bare value", "  entity_id: light.kitchen", "  entity_id: 'light.kitchen'"},
		{"keeps quoted", `entity_id: "light.kitchen"`, `entity_id: "light.kitchen"`},
		{"keeps single quoted", "entity_id: 'light.kitchen'", "entity_id: 'light.kitchen'"},
		{"keeps block scalar", "entity_id: >", "entity_id: >"},
		{"keeps list form", "entity_id:", "entity_id:"},
		{"escapes quotes", "entity_id: {{ states('x') }}", "entity_id: '{{ states(''x'') }}'"},
		{"other keys untouched", "alias: kitchen", "alias: kitchen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairYAML(tt.input); got != tt.want {
				t.Errorf("repairYAML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestReferencedIDs(t *testing.T) {
	text := "entity_id: light.kitchen\nservice: light.turn_on\ntarget: light.kitchen\nversion: 2.5\nbad: .x\nalso: x.\nsensor.temp_2"
	got := ReferencedIDs(text)
	want := []string{"light.kitchen", "light.turn_on", "sensor.temp_2"}
	if !slices.Equal(got, want) {
		t.Errorf("ReferencedIDs = %v, want %v", got, want)
	}
}

func TestParseYAML(t *testing.T) {
	doc, err := ParseYAML("trigger: []\naction: []\n")
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		t.Errorf("doc = %T, want map[string]any", doc)
	}

	_, err = ParseYAML("a: [b")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Unwrap() == nil {
		t.Errorf("error = %v, want *ParseError", err)
	}
}

func TestCheckReferences_ServicesSkippedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := New(catalogtest.New(t, catalogtest.Home()), &fakeLLM{}, logger)

	ids, warnings := g.checkReferences("service: light.turn_on\nentity_id: light.attic", "missing %s")

	if !slices.Equal(ids, []string{"light.attic"}) {
		t.Errorf("ids = %v, want [light.attic]", ids)
	}
	if !slices.Equal(warnings, []string{"missing light.attic"}) {
		t.Errorf("warnings = %v", warnings)
	}
	if !strings.Contains(buf.String(), "service=light.turn_on") {
		t.Errorf("skipped service not logged: %q", buf.String())
	}
}
