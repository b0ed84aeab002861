package deploy

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Unix(1700000000, 0)

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		yaml      string
		wantID    string
		wantAlias string
		check     func(t *testing.T, body map[string]any)
	}{
		{
			name: "automation defaults",
			typ:  "automation",
			yaml: "trigger:\n  - platform: sun\n    event: sunset\naction:\n  - service: light.turn_on\n",
			wantID:    "ai_generated_1700000000",
			wantAlias: DefaultAutomationAlias,
			check: func(t *testing.T, body map[string]any) {
				if body["description"] != DefaultDescription {
					t.Errorf("description = %v", body["description"])
				}
				if body["mode"] != DefaultMode {
					t.Errorf("mode = %v", body["mode"])
				}
				if c, ok := body["condition"].([]any); !ok || len(c) != 0 {
					t.Errorf("condition = %#v, want empty list", body["condition"])
				}
				if a, ok := body["action"].([]any); !ok || len(a) != 1 {
					t.Errorf("action = %#v, want one action", body["action"])
				}
			},
		},
		{
			name:      "automation keeps alias and plural keys",
			typ:       "automation",
			yaml:      "alias: Porch\nmode: restart\ntriggers:\n  - trigger: state\nactions:\n  - action: light.turn_on\n",
			wantID:    "ai_generated_1700000000",
			wantAlias: "Porch",
			check: func(t *testing.T, body map[string]any) {
				if body["mode"] != "restart" {
					t.Errorf("mode = %v, want restart", body["mode"])
				}
				if tr, ok := body["trigger"].([]any); !ok || len(tr) != 1 {
					t.Errorf("trigger = %#v, want the triggers list", body["trigger"])
				}
			},
		},
		{
			name:      "script",
			typ:       "script",
			yaml:      "sequence:\n  - delay: 5\n",
			wantID:    "ai_generated_script_1700000000",
			wantAlias: DefaultScriptAlias,
			check: func(t *testing.T, body map[string]any) {
				if s, ok := body["sequence"].([]any); !ok || len(s) != 1 {
					t.Errorf("sequence = %#v", body["sequence"])
				}
			},
		},
		{
			name:      "scene",
			typ:       "scene",
			yaml:      "name: Movie\nentities:\n  light.kitchen: off\n",
			wantID:    "ai_generated_scene_1700000000",
			wantAlias: "Movie",
			check: func(t *testing.T, body map[string]any) {
				if e, ok := body["entities"].(map[string]any); !ok || len(e) != 1 {
					t.Errorf("entities = %#v", body["entities"])
				}
			},
		},
		{
			name:      "empty scene",
			typ:       "scene",
			yaml:      "",
			wantID:    "ai_generated_scene_1700000000",
			wantAlias: DefaultSceneName,
			check: func(t *testing.T, body map[string]any) {
				if e, ok := body["entities"].(map[string]any); !ok || len(e) != 0 {
					t.Errorf("entities = %#v, want empty map", body["entities"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Build(tt.typ, tt.yaml, fixedNow)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if doc.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", doc.ID, tt.wantID)
			}
			if doc.Alias != tt.wantAlias {
				t.Errorf("Alias = %q, want %q", doc.Alias, tt.wantAlias)
			}
			tt.check(t, doc.Body)
		})
	}
}

func TestBuild_Unsupported(t *testing.T) {
	_, err := Build("dashboard", "title: x", fixedNow)
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("Build() error = %v, want *UnsupportedError", err)
	}
	if got, want := err.Error(), "Deployment for dashboard not yet implemented"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestBuild_InvalidYAML(t *testing.T) {
	for _, text := range []string{"alias: [unclosed", "- just\n- a list\n"} {
		if _, err := Build("automation", text, fixedNow); err == nil {
			t.Errorf("Build(%q) should fail", text)
		}
	}
}
