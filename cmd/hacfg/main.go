// Hacfg turns natural-language requests into Home Assistant configuration.
//
// It serves the assistant's HTTP views (and optionally an MCP tool
// endpoint) next to Home Assistant, and offers one-shot CLI commands for
// generation and validation. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]); without
// one, defaults and the environment are used.
//
// Usage:
//
//	hacfg serve                     Start the API server
//	hacfg init [dir]                Write an example config.yaml
//	hacfg generate [-type t] <text> Generate a configuration document
//	hacfg validate [-type t] <file> Validate a YAML document
//	hacfg models [provider]         List known models
//	hacfg check                     Test Home Assistant and provider credentials
//	hacfg version                   Print version and build information
//	hacfg -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/ha-config-assistant/internal/api"
	"github.com/nugget/ha-config-assistant/internal/buildinfo"
	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/config"
	"github.com/nugget/ha-config-assistant/internal/connwatch"
	"github.com/nugget/ha-config-assistant/internal/deploy"
	"github.com/nugget/ha-config-assistant/internal/events"
	"github.com/nugget/ha-config-assistant/internal/generator"
	"github.com/nugget/ha-config-assistant/internal/homeassistant"
	"github.com/nugget/ha-config-assistant/internal/llm"
	"github.com/nugget/ha-config-assistant/internal/mqtt"
	"github.com/nugget/ha-config-assistant/internal/usage"
)

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand to keep
// package-level flag state out of tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "generate":
		configType, rest, err := typeFlag(cmdArgs)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return fmt.Errorf("usage: hacfg generate [-type automation] <request>")
		}
		return runGenerate(ctx, stdout, stderr, configPath, outputFmt, configType, strings.Join(rest, " "))
	case "validate":
		configType, rest, err := typeFlag(cmdArgs)
		if err != nil {
			return err
		}
		if len(rest) != 1 {
			return fmt.Errorf("usage: hacfg validate [-type automation] <file.yaml>")
		}
		return runValidate(ctx, stdout, stderr, configPath, outputFmt, configType, rest[0])
	case "models":
		provider := ""
		if len(cmdArgs) > 0 {
			provider = cmdArgs[0]
		}
		return runModels(stdout, outputFmt, provider)
	case "check":
		return runCheck(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// typeFlag pulls an optional -type value out of subcommand arguments.
func typeFlag(args []string) (configType string, rest []string, err error) {
	configType = generator.TypeAutomation
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-type" && i+1 < len(args):
			configType = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-type="):
			configType = strings.TrimPrefix(args[i], "-type=")
		case args[i] == "-type":
			return "", nil, fmt.Errorf("-type requires a value")
		default:
			rest = append(rest, args[i])
		}
	}
	return configType, rest, nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	for k, v := range buildinfo.RuntimeInfo() {
		info[k] = v
	}
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch", "uptime"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "hacfg - AI configuration assistant for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hacfg [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the API server")
	fmt.Fprintln(w, "  init [dir]                 Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  generate [-type t] <text>  Generate a configuration document")
	fmt.Fprintln(w, "  validate [-type t] <file>  Validate a YAML configuration file")
	fmt.Fprintln(w, "  models [provider]          List known models")
	fmt.Fprintln(w, "  check                      Test Home Assistant and provider credentials")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Types: "+strings.Join(generator.Types, ", "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

func runModels(w io.Writer, outputFmt, provider string) error {
	providers := llm.Providers()
	if provider != "" {
		if !llm.KnownProvider(provider) {
			return fmt.Errorf("unknown provider: %s (known: %s)", provider, strings.Join(providers, ", "))
		}
		providers = []string{provider}
	}

	if outputFmt == "json" {
		out := make(map[string][]string, len(providers))
		for _, p := range providers {
			out[p] = llm.ListModels(p)
		}
		return writeJSON(w, out)
	}
	for _, p := range providers {
		fmt.Fprintf(w, "%s (default %s)\n", p, llm.DefaultModels[p])
		for _, m := range llm.ListModels(p) {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
	return nil
}

// runCheck pings Home Assistant (when configured) and sends a minimal
// completion with the configured provider credential.
func runCheck(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	var failed []error
	if cfg.HomeAssistant.Configured() {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		if err := ha.Ping(ctx); err != nil {
			fmt.Fprintf(stdout, "✗ Home Assistant at %s: %v\n", cfg.HomeAssistant.URL, err)
			failed = append(failed, err)
		} else {
			fmt.Fprintf(stdout, "✓ Home Assistant at %s\n", cfg.HomeAssistant.URL)
		}
	} else {
		fmt.Fprintln(stdout, "- Home Assistant not configured")
	}

	m := llm.NewManager(llm.ManagerOptions{
		BaseURL:     cfg.Provider.BaseURL,
		Temperature: cfg.Generation.Temperature,
	}, logger)
	model := cfg.Provider.DefaultModel
	if model == "" {
		model = llm.DefaultModels[cfg.Provider.Name]
	}
	if err := m.TestCredentials(ctx, cfg.Provider.Name, cfg.Provider.APIKey, model); err != nil {
		fmt.Fprintf(stdout, "✗ provider %s: %v\n", cfg.Provider.Name, err)
		failed = append(failed, err)
	} else {
		fmt.Fprintf(stdout, "✓ provider %s (%s)\n", cfg.Provider.Name, model)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d check(s) failed", len(failed))
	}
	return nil
}

// runGenerate connects to Home Assistant, builds the catalog once and
// prints a single generation.
func runGenerate(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, configType, prompt string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	if !cfg.HomeAssistant.Configured() {
		return errors.New("generate requires homeassistant.url and homeassistant.token")
	}

	ledger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	manager := newManager(cfg, ledger, logger)
	if !manager.Configured() {
		return fmt.Errorf("provider %q is not configured", cfg.Provider.Name)
	}

	registry := homeassistant.NewRegistry(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err := registry.Connect(ctx); err != nil {
		return fmt.Errorf("connect to Home Assistant: %w", err)
	}
	defer registry.WSClient.Close()

	cat := catalog.New(registry, logger.With("component", "catalog"))
	if err := cat.Rebuild(ctx); err != nil {
		return fmt.Errorf("build entity catalog: %w", err)
	}

	res := generator.New(cat, manager, logger).Generate(ctx, generator.Request{Prompt: prompt, Type: configType})
	if outputFmt == "json" {
		if err := writeJSON(stdout, res); err != nil {
			return err
		}
	} else {
		printResult(stdout, res)
	}
	if !res.Success {
		return errors.New("generation failed")
	}
	return nil
}

func printResult(w io.Writer, res *generator.Result) {
	if res.Config != "" {
		fmt.Fprintln(w, strings.TrimRight(res.Config, "\n"))
		fmt.Fprintln(w)
	}
	if res.Explanation != "" {
		fmt.Fprintf(w, "# %s\n", strings.ReplaceAll(res.Explanation, "\n", "\n# "))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "# warning: %s\n", warn)
	}
}

// runValidate checks a file against local rules, the catalog when Home
// Assistant is configured, and the provider when one is bound.
func runValidate(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, configType, path string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var cat *catalog.Catalog
	if cfg.HomeAssistant.Configured() {
		registry := homeassistant.NewRegistry(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		if err := registry.Connect(ctx); err != nil {
			logger.Warn("Home Assistant unreachable, skipping entity checks", "error", err)
		} else {
			defer registry.WSClient.Close()
			cat = catalog.New(registry, logger.With("component", "catalog"))
			if err := cat.Rebuild(ctx); err != nil {
				logger.Warn("catalog build failed, skipping entity checks", "error", err)
				cat = nil
			}
		}
	}

	v := generator.New(cat, newManager(cfg, nil, logger), logger).Validate(ctx, string(data), configType)
	if outputFmt == "json" {
		if err := writeJSON(stdout, v); err != nil {
			return err
		}
	} else {
		if v.Valid {
			fmt.Fprintf(stdout, "%s: valid %s\n", path, configType)
		}
		for _, e := range v.Errors {
			fmt.Fprintf(stdout, "error: %s\n", e)
		}
		for _, w := range v.Warnings {
			fmt.Fprintf(stdout, "warning: %s\n", w)
		}
		for _, s := range v.Suggestions {
			fmt.Fprintf(stdout, "suggestion: %s\n", s)
		}
	}
	if !v.Valid {
		return fmt.Errorf("%s: %d error(s)", path, len(v.Errors))
	}
	return nil
}

// runServe is the primary operating mode. It blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives, then drains the HTTP server and
// publishes MQTT offline status.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting hacfg", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, logger, err := setup(stdout, configPath)
	if err != nil {
		return err
	}
	if !cfg.HomeAssistant.Configured() {
		return errors.New("serve requires homeassistant.url and homeassistant.token")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Usage ledger ---
	ledger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	manager := newManager(cfg, ledger, logger)
	bus := events.New()

	// --- Home Assistant and the entity catalog ---
	// The catalog is built (and the event stream subscribed) from the
	// connwatch OnReady callback, so an instance that is down at startup
	// is picked up when it comes back without a restart.
	registry := homeassistant.NewRegistry(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	defer registry.WSClient.Close()

	cat := catalog.New(registry, logger.With("component", "catalog"))
	stopCatalog := cat.Start(ctx, registry.Events())
	defer stopCatalog()

	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	haWatcher := connMgr.WatchHomeAssistant(ctx, connwatch.HomeAssistant{
		API: registry.Client,
		Reconnect: func(ctx context.Context) error {
			if haCfg, err := registry.GetConfig(ctx); err == nil {
				logger.Info("connected to Home Assistant",
					"url", cfg.HomeAssistant.URL,
					"version", haCfg.Version,
					"location", haCfg.LocationName,
				)
			}
			return connectEvents(ctx, registry)
		},
		Rebuild: cat.Rebuild,
	})
	registry.Client.SetWatcher(haWatcher)

	if manager.Configured() {
		connMgr.WatchProvider(ctx, manager)
	}

	gen := generator.New(cat, manager, logger)

	deployer := deploy.New(registry.Client, bus, logger.With("component", "deploy"))
	go deployer.Run(ctx)

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		mqttPub = mqtt.New(cfg.MQTT, bus, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
				defer awaitCancel()
				return mqttPub.AwaitConnection(awaitCtx)
			},
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  logger,
		})
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- API server ---
	deps := api.Deps{
		Catalog:   cat,
		Generator: gen,
		LLM:       manager,
		Deployer:  deployer,
		Usage:     ledger,
		Health:    connMgr,
		Events:    bus,
	}
	if cfg.MCP.Enabled {
		deps.MCP = api.NewMCPHandler(deps, logger)
		deps.MCPPath = cfg.MCP.Path
	}
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, deps, logger.With("component", "api"))

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("hacfg stopped")
	return nil
}

// setup loads configuration and builds the configured logger writing
// to w. Validation problems are logged, not fatal: an unusable provider
// leaves generation disabled while validation and preview keep working.
func setup(w io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(w, level, cfg.LogFormat)

	if cfgPath == "" {
		logger.Info("no config file found, using defaults and environment")
	} else {
		logger.Debug("config loaded", "path", cfgPath)
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration problems", "error", err)
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	return config.NewLogger(w, level, format)
}

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist; otherwise a missing file falls back to
// [config.Default] and an empty path is returned.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg, derr := config.Default()
		return cfg, "", derr
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func openLedger(cfg *config.Config, logger *slog.Logger) (*usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	path := cfg.UsageDBPath()
	ledger, err := usage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger %s: %w", path, err)
	}
	logger.Debug("usage ledger opened", "path", path)
	return ledger, nil
}

// newManager binds the configured provider. rec may be nil.
func newManager(cfg *config.Config, rec llm.UsageRecorder, logger *slog.Logger) *llm.Manager {
	m := llm.NewManager(llm.ManagerOptions{
		BaseURL:     cfg.Provider.BaseURL,
		Timeout:     cfg.Provider.Timeout,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Usage:       rec,
	}, logger)
	if err := m.Configure(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.DefaultModel); err != nil {
		logger.Warn("completion provider unavailable, generation disabled", "error", err)
	}
	return m
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// eventSession is the part of the WebSocket client connectEvents needs.
type eventSession interface {
	Reconnect(ctx context.Context) error
	Subscribe(ctx context.Context, eventType string) error
}

// connectEvents reopens the WebSocket and makes sure state_changed is
// subscribed. Subscribe is a no-op once the subscription is active, so a
// failed attempt is retried on the next reconnect.
func connectEvents(ctx context.Context, s eventSession) error {
	if err := s.Reconnect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx, "state_changed")
}
