package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runArgs(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = run(context.Background(), &out, &errOut, args)
	return out.String(), err
}

// writeFile writes body under a temp dir and returns the path.
func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// offlineConfig has no Home Assistant and an unusable provider, so only
// local checks run.
func offlineConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("HACFG_API_KEY", "")
	t.Setenv("HOMEASSISTANT_URL", "")
	t.Setenv("HOMEASSISTANT_TOKEN", "")
	return writeFile(t, "config.yaml", "provider:\n  name: openai\nlog_level: error\n")
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, err := runArgs(t, args...)
		if err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out, "Usage: hacfg") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"generate without prompt", []string{"generate"}, "usage: hacfg generate"},
		{"validate without file", []string{"validate"}, "usage: hacfg validate"},
		{"type without value", []string{"validate", "-type"}, "-type requires a value"},
		{"unknown provider", []string{"models", "bogus"}, "unknown provider"},
		{"missing explicit config", []string{"-config", "/nonexistent/config.yaml", "validate", "x.yaml"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runArgs(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runArgs(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "hacfg ") || !strings.Contains(out, "go_version:") {
		t.Errorf("text version output:\n%s", out)
	}

	out, err = runArgs(t, "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json version output: %v\n%s", err, out)
	}
	for _, k := range []string{"version", "git_commit", "go_version"} {
		if info[k] == "" {
			t.Errorf("version json missing %q", k)
		}
	}
}

func TestRun_Models(t *testing.T) {
	out, err := runArgs(t, "models", "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "anthropic (default claude-3-sonnet-20240229)") {
		t.Errorf("models output:\n%s", out)
	}

	out, err = runArgs(t, "-o=json", "models")
	if err != nil {
		t.Fatal(err)
	}
	var all map[string][]string
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatal(err)
	}
	if len(all["ollama"]) == 0 || len(all["openai"]) == 0 {
		t.Errorf("models json = %v", all)
	}
}

func TestRun_Validate(t *testing.T) {
	cfg := offlineConfig(t)

	good := writeFile(t, "good.yaml", "alias: Test\ntrigger:\n  - platform: sun\naction:\n  - service: light.turn_on\n")
	out, err := runArgs(t, "-config", cfg, "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid automation") {
		t.Errorf("output:\n%s", out)
	}

	bad := writeFile(t, "bad.yaml", "alias: Test\n")
	out, err = runArgs(t, "-config", cfg, "validate", bad)
	if err == nil {
		t.Fatal("validate bad: expected error")
	}
	if !strings.Contains(out, "error:") {
		t.Errorf("output should list errors:\n%s", out)
	}

	script := writeFile(t, "script.yaml", "sequence:\n  - delay: 5\n")
	out, err = runArgs(t, "-config", cfg, "-o", "json", "validate", "-type", "script", script)
	if err != nil {
		t.Fatalf("validate script: %v", err)
	}
	var v struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil || !v.Valid {
		t.Errorf("script validation = %s (err %v)", out, err)
	}
}

func TestRun_GenerateRequiresHomeAssistant(t *testing.T) {
	cfg := offlineConfig(t)
	_, err := runArgs(t, "-config", cfg, "generate", "turn", "on", "the", "lights")
	if err == nil || !strings.Contains(err.Error(), "homeassistant.url") {
		t.Errorf("error = %v, want missing Home Assistant", err)
	}
}

func TestRun_Check(t *testing.T) {
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"message":"API running."}`)
	}))
	defer ha.Close()
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model":"llama2","message":{"role":"assistant","content":"Hi"},"done":true,"eval_count":2}`)
	}))
	defer ollama.Close()

	cfg := offlineConfig(t)
	t.Setenv("HOMEASSISTANT_URL", ha.URL)
	t.Setenv("HOMEASSISTANT_TOKEN", "tok")
	t.Setenv("HACFG_PROVIDER", "ollama")
	t.Setenv("HACFG_PROVIDER_URL", ollama.URL)

	out, err := runArgs(t, "-config", cfg, "check")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	for _, want := range []string{"✓ Home Assistant at " + ha.URL, "✓ provider ollama (llama2)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_CheckUnknownProvider(t *testing.T) {
	cfg := offlineConfig(t)
	t.Setenv("HACFG_PROVIDER", "cohere")

	out, err := runArgs(t, "-config", cfg, "check")
	if err == nil || !strings.Contains(err.Error(), "1 check(s) failed") {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(out, "- Home Assistant not configured") || !strings.Contains(out, "✗ provider cohere") {
		t.Errorf("output = %s", out)
	}
}

func TestTypeFlag(t *testing.T) {
	tests := []struct {
		args     []string
		wantType string
		wantRest []string
	}{
		{[]string{"a", "b"}, "automation", []string{"a", "b"}},
		{[]string{"-type", "script", "x"}, "script", []string{"x"}},
		{[]string{"x", "-type=scene"}, "scene", []string{"x"}},
	}
	for _, tt := range tests {
		typ, rest, err := typeFlag(tt.args)
		if err != nil {
			t.Fatalf("typeFlag(%v) error: %v", tt.args, err)
		}
		if typ != tt.wantType || strings.Join(rest, " ") != strings.Join(tt.wantRest, " ") {
			t.Errorf("typeFlag(%v) = %q, %v", tt.args, typ, rest)
		}
	}
}

type fakeSession struct {
	reconnects   int
	subscribeErr []error
	subscribed   []string
}

func (f *fakeSession) Reconnect(context.Context) error {
	f.reconnects++
	return nil
}

func (f *fakeSession) Subscribe(_ context.Context, eventType string) error {
	if len(f.subscribeErr) > 0 {
		err := f.subscribeErr[0]
		f.subscribeErr = f.subscribeErr[1:]
		if err != nil {
			return err
		}
	}
	f.subscribed = append(f.subscribed, eventType)
	return nil
}

func TestConnectEvents_RetriesFailedSubscription(t *testing.T) {
	s := &fakeSession{subscribeErr: []error{errors.New("connection reset")}}
	ctx := context.Background()

	if err := connectEvents(ctx, s); err == nil {
		t.Fatal("first connect: expected subscribe error")
	}
	if err := connectEvents(ctx, s); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if s.reconnects != 2 {
		t.Errorf("reconnects = %d, want 2", s.reconnects)
	}
	if len(s.subscribed) != 1 || s.subscribed[0] != "state_changed" {
		t.Errorf("subscribed = %v, want [state_changed]", s.subscribed)
	}
}
