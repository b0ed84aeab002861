package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nugget/ha-config-assistant/internal/config"
)

func TestConfigYAMLLoads(t *testing.T) {
	t.Setenv("HOMEASSISTANT_TOKEN", "tok")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if cfg.HomeAssistant.Token != "tok" || cfg.Provider.APIKey != "sk-test" {
		t.Errorf("env expansion: token=%q key=%q", cfg.HomeAssistant.Token, cfg.Provider.APIKey)
	}
	if cfg.MQTT.Configured() {
		t.Error("example config should leave MQTT disabled")
	}
}
