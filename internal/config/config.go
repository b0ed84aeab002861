// Package config handles hacfg configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Generation limits accepted by Validate.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 100
	MaxMaxTokens   = 4000
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/hacfg/config.yaml, /etc/hacfg/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hacfg", "config.yaml"))
	}

	paths = append(paths, "/etc/hacfg/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all hacfg configuration. Every leaf can be overridden from
// the environment using the name in its env tag.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Provider      ProviderConfig      `yaml:"provider"`
	Generation    GenerationConfig    `yaml:"generation"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	MCP           MCPConfig           `yaml:"mcp"`
	DataDir       string              `yaml:"data_dir" env:"HACFG_DATA_DIR" env-default:"data"`
	LogLevel      string              `yaml:"log_level" env:"HACFG_LOG_LEVEL" env-default:"info"`
	LogFormat     string              `yaml:"log_format" env:"HACFG_LOG_FORMAT" env-default:"text"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address" env:"HACFG_LISTEN_ADDRESS"` // "" = all interfaces
	Port    int    `yaml:"port" env:"HACFG_LISTEN_PORT" env-default:"8099"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url" env:"HOMEASSISTANT_URL"`
	Token string `yaml:"token" env:"HOMEASSISTANT_TOKEN"`
}

// Configured reports whether enough is set to talk to Home Assistant.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// ProviderConfig selects the completion backend.
type ProviderConfig struct {
	// Name is one of openai, anthropic, google, mistral, groq, ollama.
	Name         string        `yaml:"name" env:"HACFG_PROVIDER" env-default:"openai"`
	APIKey       string        `yaml:"api_key" env:"HACFG_API_KEY"`
	DefaultModel string        `yaml:"default_model" env:"HACFG_DEFAULT_MODEL"`
	BaseURL      string        `yaml:"base_url" env:"HACFG_PROVIDER_URL"`
	Timeout      time.Duration `yaml:"timeout" env:"HACFG_PROVIDER_TIMEOUT" env-default:"120s"`
}

// GenerationConfig holds sampling defaults applied to every completion.
type GenerationConfig struct {
	Temperature float64 `yaml:"temperature" env:"HACFG_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"HACFG_MAX_TOKENS" env-default:"2000"`
}

// MQTTConfig enables publishing generation and deploy events. Publishing
// is off when Broker is empty.
type MQTTConfig struct {
	Broker    string `yaml:"broker" env:"HACFG_MQTT_BROKER"` // e.g. mqtt://homeassistant.local:1883
	Username  string `yaml:"username" env:"HACFG_MQTT_USERNAME"`
	Password  string `yaml:"password" env:"HACFG_MQTT_PASSWORD"`
	ClientID  string `yaml:"client_id" env:"HACFG_MQTT_CLIENT_ID" env-default:"hacfg"`
	BaseTopic string `yaml:"base_topic" env:"HACFG_MQTT_BASE_TOPIC" env-default:"ai_config_assistant"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MCPConfig controls the MCP tool endpoint on the API server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" env:"HACFG_MCP_ENABLED"`
	Path    string `yaml:"path" env:"HACFG_MCP_PATH" env-default:"/mcp"`
}

// UsageDBPath is where the token usage ledger lives.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	return cfg, nil
}

// Default returns a configuration built from defaults and the environment
// alone, for running without a config file.
func Default() (*Config, error) {
	if err := loadDotEnv("."); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

// loadDotEnv exports the variables in dir/.env, if that file exists.
// Variables already present in the environment are left alone.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks ranges and required credentials. An unrecognized
// provider name is not an error here; the provider manager logs it and
// leaves the backend unconfigured.
func (c *Config) Validate() error {
	var errs []error

	t := c.Generation.Temperature
	if t < MinTemperature || t > MaxTemperature {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f out of range [%.0f, %.0f]", t, MinTemperature, MaxTemperature))
	}

	mt := c.Generation.MaxTokens
	if mt < MinMaxTokens || mt > MaxMaxTokens {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d out of range [%d, %d]", mt, MinMaxTokens, MaxMaxTokens))
	}

	if c.Provider.Name != "ollama" && c.Provider.APIKey == "" {
		errs = append(errs, fmt.Errorf("provider.api_key is required for provider %q", c.Provider.Name))
	}

	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d is invalid", c.Listen.Port))
	}

	return errors.Join(errs...)
}
