// Package api serves the assistant's HTTP views: entity suggestions,
// generation, validation, preview, improvement, deploy and status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ha-config-assistant/internal/buildinfo"
	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/connwatch"
	"github.com/nugget/ha-config-assistant/internal/deploy"
	"github.com/nugget/ha-config-assistant/internal/events"
	"github.com/nugget/ha-config-assistant/internal/generator"
	"github.com/nugget/ha-config-assistant/internal/llm"
	"github.com/nugget/ha-config-assistant/internal/usage"
)

// prefix is where the views live, matching the Home Assistant
// integration's URL space.
const prefix = "/api/ai_config_assistant"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Deps are the collaborators behind the views. Usage, Health, Deployer
// and MCP are optional.
type Deps struct {
	Catalog   *catalog.Catalog
	Generator *generator.Generator
	LLM       *llm.Manager
	Deployer  *deploy.Deployer
	Usage     *usage.Store
	Health    *connwatch.Manager
	Events    *events.Bus

	// MCP, when set, is mounted at MCPPath.
	MCP     http.Handler
	MCPPath string
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+prefix+"/entity_suggestions", s.handleEntitySuggestions)
	mux.HandleFunc("POST "+prefix+"/generate", s.handleGenerate)
	mux.HandleFunc("POST "+prefix+"/validate", s.handleValidate)
	mux.HandleFunc("POST "+prefix+"/preview", s.handlePreview)
	mux.HandleFunc("POST "+prefix+"/improve", s.handleImprove)
	mux.HandleFunc("GET "+prefix+"/entities", s.handleEntities)
	mux.HandleFunc("GET "+prefix+"/models", s.handleModels)
	mux.HandleFunc("POST "+prefix+"/services/deploy", s.handleDeploy)
	mux.HandleFunc("POST "+prefix+"/services/reload", s.handleReload)
	mux.HandleFunc("GET "+prefix+"/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	if s.deps.MCP != nil {
		path := s.deps.MCPPath
		if path == "" {
			path = "/mcp"
		}
		mux.Handle(path, s.deps.MCP)
		s.logger.Info("mcp endpoint mounted", "path", path)
	}

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // generation can take minutes on local models
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"error": message}, s.logger)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// newRequestID returns a UUIDv7 string for correlating events.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "AI Config Assistant",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	services := map[string]connwatch.ServiceStatus{}
	if s.deps.Health != nil {
		services = s.deps.Health.Status()
		if !s.deps.Health.Ready() {
			status = "degraded"
		}
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": services,
	}, s.logger)
}
