package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"defgen/internal/classify"
	"defgen/internal/generation"
	"defgen/internal/logging"
	"defgen/internal/rules"
	"defgen/internal/validation"
)

const maxBodyBytes = 1 << 20

// PrepareRequest asks for an assembled instruction.
type PrepareRequest struct {
	Term   string          `json:"term" validate:"required"`
	Fields classify.Fields `json:"fields"`
}

// ValidateRequest scores a candidate. Either RequestID names a preview
// returned by /api/prepare, or Term (and Fields) prepare a fresh one.
type ValidateRequest struct {
	RequestID string          `json:"request_id" validate:"required_without=Term"`
	Term      string          `json:"term" validate:"required_without=RequestID"`
	Fields    classify.Fields `json:"fields"`
	Candidate string          `json:"candidate" validate:"required"`
}

// ValidateResponse pairs the report with the preview it was scored against.
type ValidateResponse struct {
	RequestID      string             `json:"request_id"`
	CatalogVersion string             `json:"catalog_version"`
	Report         *validation.Report `json:"validation_report"`
}

// CatalogResponse summarizes the current catalog.
type CatalogResponse struct {
	Version    string                     `json:"version"`
	Name       string                     `json:"name,omitempty"`
	RuleCount  int                        `json:"rule_count"`
	ByCategory map[rules.Category]int     `json:"by_category"`
	Rules      []rules.Rule               `json:"rules"`
	Examples   map[string][]rules.Example `json:"examples,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	catalog := s.svc.Store().Current()
	if catalog == nil {
		writeFailure(w, r, generation.NewFailure(generation.KindCatalogLoad, "no catalog loaded"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"catalog_version": catalog.Version(),
		"cache":           s.cacheStats(),
	})
}

func (s *Server) cacheStats() interface{} {
	if c := s.svc.Orchestrator().Cache(); c != nil {
		return c.Stats()
	}
	return nil
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !s.decode(w, r, &req) {
		return
	}
	preview, err := s.svc.Prepare(r.Context(), req.Term, req.Fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.previews.put(preview)
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}

	var preview *generation.Preview
	if req.RequestID != "" {
		p, ok := s.previews.get(req.RequestID)
		if !ok {
			writeFailure(w, r, generation.NewFailure(generation.KindNotFound,
				fmt.Sprintf("No prepared instruction with request id %q. Prepare it again.", req.RequestID)))
			return
		}
		preview = p
	} else {
		p, err := s.svc.Prepare(r.Context(), req.Term, req.Fields)
		if err != nil {
			writeError(w, r, err)
			return
		}
		preview = p
	}

	report, err := s.svc.Validate(r.Context(), preview, req.Candidate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		RequestID:      preview.RequestID,
		CatalogVersion: preview.CatalogVersion,
		Report:         report,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.completer == nil {
		writeFailure(w, r, generation.NewFailure(generation.KindUnavailable,
			"No language model is configured. Use /api/prepare and /api/validate instead."))
		return
	}
	var req PrepareRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Generate(r.Context(), req.Term, req.Fields, s.completer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.previews.put(res.Preview)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := s.svc.Store().Current()
	if catalog == nil {
		writeFailure(w, r, generation.NewFailure(generation.KindCatalogLoad, "no catalog loaded"))
		return
	}
	doc := catalog.Document()
	resp := CatalogResponse{
		Version:    catalog.Version(),
		Name:       catalog.Name(),
		RuleCount:  catalog.Len(),
		ByCategory: make(map[rules.Category]int),
		Rules:      doc.Rules,
		Examples:   make(map[string][]rules.Example),
	}
	for _, cat := range rules.AllCategories() {
		resp.ByCategory[cat] = len(catalog.RulesByCategory(cat))
	}
	for _, ex := range doc.Examples {
		resp.Examples[string(ex.Category)] = append(resp.Examples[string(ex.Category)], ex)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	rule, ok := s.svc.Store().Current().Rule(id)
	if !ok {
		writeFailure(w, r, generation.NewFailure(generation.KindNotFound, fmt.Sprintf("Unknown rule %q.", id)))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeFailure(w, r, generation.NewFailure(generation.KindUnavailable, "Telemetry is not enabled."))
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

// decode reads a JSON body strictly and validates it. On failure it writes
// the response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeFailure(w, r, generation.NewFailure(generation.KindInvalidInput, "Invalid request body.", err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
		}
		writeFailure(w, r, generation.NewFailure(generation.KindInvalidInput, "Missing or invalid fields.", details...))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeFailure(w, r, generation.Describe(err))
}

func writeFailure(w http.ResponseWriter, r *http.Request, f *generation.Failure) {
	if f.RequestID == "" {
		f.RequestID = middleware.GetReqID(r.Context())
	}
	status := statusFor(f.Kind)
	if status >= http.StatusInternalServerError {
		logging.Get(logging.CategoryAPI).Error("%s %s failed: %v", r.Method, r.URL.Path, f)
	} else {
		logging.APIDebug("%s %s rejected: %v", r.Method, r.URL.Path, f)
	}
	writeJSON(w, status, map[string]interface{}{"error": f})
}

func statusFor(kind generation.FailureKind) int {
	switch kind {
	case generation.KindInvalidInput:
		return http.StatusBadRequest
	case generation.KindNotFound:
		return http.StatusNotFound
	case generation.KindContradiction:
		return http.StatusConflict
	case generation.KindExternalCallTimeout:
		return http.StatusGatewayTimeout
	case generation.KindExternalCall:
		return http.StatusBadGateway
	case generation.KindCatalogLoad, generation.KindUnavailable, generation.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryAPI).Warn("Encoding response failed: %v", err)
	}
}
