package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// mcpCall sends one JSON-RPC message to the in-process server and
// returns the decoded result object.
func mcpCall(t *testing.T, f *fixture, method string, params any) map[string]any {
	t.Helper()
	s := newMCPServer(f.deps, discardLogger())

	p, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":%s}`, method, p)
	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(msg)))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result map[string]any `json:"result"`
		Error  any            `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("%s returned error: %v", method, resp.Error)
	}
	return resp.Result
}

// toolText returns the first text content of a tools/call result.
func toolText(t *testing.T, result map[string]any) string {
	t.Helper()
	content, _ := result["content"].([]any)
	if len(content) == 0 {
		t.Fatalf("no content in %v", result)
	}
	first, _ := content[0].(map[string]any)
	text, _ := first["text"].(string)
	return text
}

func TestMCPToolsList(t *testing.T) {
	f := newFixture(t)
	result := mcpCall(t, f, "tools/list", map[string]any{})

	tools, _ := result["tools"].([]any)
	names := map[string]bool{}
	for _, tool := range tools {
		m, _ := tool.(map[string]any)
		name, _ := m["name"].(string)
		names[name] = true
	}
	for _, want := range []string{"suggest_entities", "generate_config", "validate_config", "preview_config"} {
		if !names[want] {
			t.Errorf("tool %q not listed (got %v)", want, names)
		}
	}
}

func TestMCPSuggestEntities(t *testing.T) {
	f := newFixture(t)
	result := mcpCall(t, f, "tools/call", map[string]any{
		"name":      "suggest_entities",
		"arguments": map[string]any{"query": "lamp", "domain": "light", "limit": 3},
	})

	var got []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("tool text is not JSON: %v", err)
	}
	if len(got) == 0 || got[0]["entity_id"] != "light.living_room_lamp" {
		t.Errorf("suggestions = %v", got)
	}
}

func TestMCPGenerateConfig(t *testing.T) {
	f := newFixture(t)

	t.Run("blank prompt", func(t *testing.T) {
		result := mcpCall(t, f, "tools/call", map[string]any{
			"name":      "generate_config",
			"arguments": map[string]any{"prompt": "  "},
		})
		if result["isError"] != true {
			t.Errorf("isError = %v, want true", result["isError"])
		}
	})

	t.Run("generates", func(t *testing.T) {
		result := mcpCall(t, f, "tools/call", map[string]any{
			"name":      "generate_config",
			"arguments": map[string]any{"prompt": "kitchen light at sunset"},
		})
		text := toolText(t, result)
		if !strings.Contains(text, `"success":true`) || !strings.Contains(text, "light.kitchen") {
			t.Errorf("generate_config = %s", text)
		}
	})
}

func TestMCPValidateAndPreview(t *testing.T) {
	f := newFixture(t)

	result := mcpCall(t, f, "tools/call", map[string]any{
		"name":      "validate_config",
		"arguments": map[string]any{"config": "alias: only"},
	})
	if text := toolText(t, result); !strings.Contains(text, `"valid":false`) {
		t.Errorf("validate_config = %s", text)
	}

	result = mcpCall(t, f, "tools/call", map[string]any{
		"name":      "preview_config",
		"arguments": map[string]any{"config": kitchenAutomation},
	})
	if text := toolText(t, result); !strings.Contains(text, "config-preview") {
		t.Errorf("preview_config = %s", text)
	}
}
