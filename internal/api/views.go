package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/deploy"
	"github.com/nugget/ha-config-assistant/internal/events"
	"github.com/nugget/ha-config-assistant/internal/generator"
	"github.com/nugget/ha-config-assistant/internal/llm"
	"github.com/nugget/ha-config-assistant/internal/preview"
)

const defaultSuggestionLimit = 10

// SuggestionsRequest is the body of the entity_suggestions view.
type SuggestionsRequest struct {
	Query        string   `json:"query"`
	Limit        int      `json:"limit"`
	DomainFilter []string `json:"domain_filter"`
}

func (s *Server) handleEntitySuggestions(w http.ResponseWriter, r *http.Request) {
	var req SuggestionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.deps.Catalog == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Entity catalog not available")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSuggestionLimit
	}

	suggestions := s.deps.Catalog.Suggest(req.Query, req.DomainFilter, req.Limit)
	if suggestions == nil {
		suggestions = []catalog.Suggestion{}
	}
	writeJSON(w, suggestions, s.logger)
}

// GenerateResponse adds rendered markup to a generation result.
type GenerateResponse struct {
	*generator.Result
	ExplanationHTML string `json:"explanation_html,omitempty"`
	RequestID       string `json:"request_id"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generator.Request
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.errorResponse(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if s.deps.Generator == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Config generator not available")
		return
	}
	if req.Type == "" {
		req.Type = generator.TypeAutomation
	}

	requestID := newRequestID()
	res := s.deps.Generator.Generate(r.Context(), req)

	s.deps.Events.Publish(events.NewEvent(events.TypeConfigGenerated, events.ConfigGenerated{
		RequestID:    requestID,
		ConfigType:   req.Type,
		Success:      res.Success,
		EntitiesUsed: res.EntitiesUsed,
		Warnings:     len(res.Warnings),
	}))

	writeJSON(w, GenerateResponse{
		Result:          res,
		ExplanationHTML: s.markdown(res.Explanation),
		RequestID:       requestID,
	}, s.logger)
}

// markdown renders the model's explanation. Rendering failures leave
// the plain explanation as the only form.
func (s *Server) markdown(md string) string {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		s.logger.Debug("explanation markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}

// ConfigRequest is the body shared by validate, preview and deploy.
type ConfigRequest struct {
	Config string `json:"config"`
	Type   string `json:"type"`
}

// readConfig decodes a ConfigRequest and rejects an empty document.
func (s *Server) readConfig(w http.ResponseWriter, r *http.Request) (ConfigRequest, bool) {
	var req ConfigRequest
	if !s.decode(w, r, &req) {
		return req, false
	}
	if strings.TrimSpace(req.Config) == "" {
		s.errorResponse(w, http.StatusBadRequest, "Configuration is required")
		return req, false
	}
	if req.Type == "" {
		req.Type = generator.TypeAutomation
	}
	return req, true
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readConfig(w, r)
	if !ok {
		return
	}
	if s.deps.Generator == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Config generator not available")
		return
	}

	v := s.deps.Generator.Validate(r.Context(), req.Config, req.Type)

	s.deps.Events.Publish(events.NewEvent(events.TypeConfigValidated, events.ConfigValidated{
		RequestID:  newRequestID(),
		ConfigType: req.Type,
		Valid:      v.Valid,
		Errors:     len(v.Errors),
		Warnings:   len(v.Warnings),
	}))
	writeJSON(w, v, s.logger)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readConfig(w, r)
	if !ok {
		return
	}
	if s.deps.Catalog == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Entity catalog not available")
		return
	}

	res := preview.Render(s.deps.Catalog, req.Config, req.Type)

	s.deps.Events.Publish(events.NewEvent(events.TypeConfigPreviewed, events.ConfigPreviewed{
		RequestID:          newRequestID(),
		ConfigType:         req.Type,
		EntitiesReferenced: res.EntitiesReferenced,
	}))
	writeJSON(w, res, s.logger)
}

// ImproveRequest is the body of the improve view.
type ImproveRequest struct {
	Config  string `json:"config"`
	Request string `json:"request"`
	Type    string `json:"type"`
}

func (s *Server) handleImprove(w http.ResponseWriter, r *http.Request) {
	var req ImproveRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case strings.TrimSpace(req.Config) == "":
		s.errorResponse(w, http.StatusBadRequest, "Configuration is required")
		return
	case strings.TrimSpace(req.Request) == "":
		s.errorResponse(w, http.StatusBadRequest, "Improvement request is required")
		return
	case s.deps.Generator == nil:
		s.errorResponse(w, http.StatusInternalServerError, "Config generator not available")
		return
	}

	res := s.deps.Generator.Improve(r.Context(), req.Config, req.Request, req.Type)
	writeJSON(w, GenerateResponse{
		Result:          res,
		ExplanationHTML: s.markdown(res.Explanation),
		RequestID:       newRequestID(),
	}, s.logger)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	cat := s.deps.Catalog
	if cat == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Entity catalog not available")
		return
	}

	q := r.URL.Query()
	var recs []catalog.Record
	switch {
	case q.Get("domain") != "":
		recs = cat.EntitiesByDomain(q.Get("domain"))
	case q.Get("area") != "":
		recs = cat.EntitiesByArea(q.Get("area"))
	default:
		writeJSON(w, cat.Summary(), s.logger)
		return
	}
	if recs == nil {
		recs = []catalog.Record{}
	}
	writeJSON(w, recs, s.logger)
}

// ModelsResponse describes the bound provider and the model catalog.
type ModelsResponse struct {
	Configured bool     `json:"configured"`
	Provider   string   `json:"provider,omitempty"`
	Model      string   `json:"model,omitempty"`
	Providers  []string `json:"providers"`
	Models     []string `json:"models"`
}

// handleModels lists the static model catalog, either for the bound
// provider or for ?provider=.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{Providers: llm.Providers(), Models: []string{}}

	if s.deps.LLM != nil {
		resp.Provider, resp.Model, resp.Configured = s.deps.LLM.Current()
	}
	name := resp.Provider
	if p := r.URL.Query().Get("provider"); p != "" {
		name = p
	}
	if name != "" {
		if !llm.KnownProvider(name) {
			s.errorResponse(w, http.StatusBadRequest, "Unknown provider: "+name)
			return
		}
		resp.Models = llm.ListModels(name)
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readConfig(w, r)
	if !ok {
		return
	}
	if s.deps.Deployer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Deployment not available")
		return
	}

	doc, err := s.deps.Deployer.Submit(r.Context(), deploy.Request{
		RequestID: newRequestID(),
		Type:      req.Type,
		Config:    req.Config,
	})
	if err != nil {
		code := http.StatusBadRequest
		var ue *deploy.UnsupportedError
		switch {
		case errors.As(err, &ue):
			code = http.StatusNotImplemented
		case errors.Is(err, deploy.ErrUnavailable):
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		writeJSON(w, map[string]any{"success": false, "error": err.Error()}, s.logger)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"message": titleCase(doc.Type) + " queued for deployment",
		"id":      doc.ID,
		"alias":   doc.Alias,
	}, s.logger)
}

// titleCase capitalizes an artifact type for user messages.
func titleCase(t string) string {
	if t == "" {
		return t
	}
	return strings.ToUpper(t[:1]) + t[1:]
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Entity catalog not available")
		return
	}
	s.logger.Info("reloading entity catalog")
	if err := s.deps.Catalog.Rebuild(r.Context()); err != nil {
		s.logger.Error("catalog reload failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "Reload failed: "+err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"success":      true,
		"entity_count": s.deps.Catalog.Summary().EntityCount,
	}, s.logger)
}

// handleUsage reports the ledger over the last ?hours= (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Usage ledger not available")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	ctx := r.Context()

	total, err := s.deps.Usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byProvider, err := s.deps.Usage.SummaryByProvider(ctx, start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byOperation, err := s.deps.Usage.SummaryByOperation(ctx, start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, map[string]any{
		"hours":        hours,
		"total":        total,
		"by_provider":  byProvider,
		"by_model":     byModel,
		"by_operation": byOperation,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
