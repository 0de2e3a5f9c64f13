// Package api implements a thin HTTP JSON transport for memcore: it parses
// requests, builds engine inputs, and calls the engine — no store or
// embedder access of its own.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/memcore/internal/engine"
	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/pkg/tokenizer"
)

// Server is an HTTP API server that exposes engine operations.
type Server struct {
	engine    *engine.Engine
	logger    *slog.Logger
	authToken string // empty = no auth required
}

var registerMetricsOnce sync.Once

// NewServer creates a new Server with the given dependencies. It registers
// the engine's prometheus collectors against the default registry the first
// time it's called, so repeated construction in tests doesn't panic on a
// duplicate registration.
func NewServer(eng *engine.Engine, logger *slog.Logger, authToken string) *Server {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metrics.Collectors()...)
	})
	return &Server{engine: eng, logger: logger, authToken: authToken}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /debug/vars", expvar.Handler())

	mux.HandleFunc("POST /v1/save", s.auth(s.handleSave))
	mux.HandleFunc("POST /v1/save_verified", s.auth(s.handleSaveVerified))
	mux.HandleFunc("POST /v1/save_milestone", s.auth(s.handleSaveMilestone))
	mux.HandleFunc("POST /v1/search", s.auth(s.handleSearch))
	mux.HandleFunc("POST /v1/context", s.auth(s.handleGetContext))
	mux.HandleFunc("POST /v1/resolve_conflict", s.auth(s.handleResolveConflict))
	mux.HandleFunc("GET /v1/memories/{id}", s.auth(s.handleGet))
	mux.HandleFunc("GET /v1/memories", s.auth(s.handleGetAll))
	mux.HandleFunc("GET /v1/capabilities", s.auth(s.handleCapabilities))

	return mux
}

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scopeBody struct {
	Tenant  string `json:"tenant"`
	User    string `json:"user"`
	Agent   string `json:"agent"`
	Session string `json:"session"`
	Project string `json:"project"`
}

func (b scopeBody) toScope() models.Scope {
	return models.Scope{Tenant: b.Tenant, User: b.User, Agent: b.Agent, Session: b.Session, Project: b.Project}
}

// scopeFromQuery builds a Scope from query parameters, for the GET routes
// that have no JSON body to carry one.
func scopeFromQuery(r *http.Request) models.Scope {
	q := r.URL.Query()
	return models.Scope{
		Tenant:  q.Get("tenant"),
		User:    q.Get("user"),
		Agent:   q.Get("agent"),
		Session: q.Get("session"),
		Project: q.Get("project"),
	}
}

type saveRequest struct {
	Scope      scopeBody       `json:"scope"`
	Content    string          `json:"content"`
	Category   models.Category `json:"category"`
	Confidence int             `json:"confidence"`
	Source     string          `json:"source"`
	Tags       []string        `json:"tags"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" {
		req.Category = models.CategoryGeneric
	}

	result, err := s.engine.Save(r.Context(), engine.SaveInput{
		Scope: req.Scope.toScope(), Content: req.Content, Category: req.Category,
		Confidence: req.Confidence, Source: req.Source, Tags: req.Tags,
	})
	s.writeEngineResult(w, result, err)
}

func (s *Server) handleSaveVerified(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" {
		req.Category = models.CategoryGeneric
	}

	result, err := s.engine.SaveVerified(r.Context(), engine.SaveInput{
		Scope: req.Scope.toScope(), Content: req.Content, Category: req.Category,
		Confidence: req.Confidence, Source: req.Source, Tags: req.Tags,
	})
	s.writeEngineResult(w, result, err)
}

type saveMilestoneRequest struct {
	Scope         scopeBody             `json:"scope"`
	Content       string                `json:"content"`
	MilestoneType models.MilestoneType  `json:"milestone_type"`
	ImpactLevel   int                   `json:"impact_level"`
	Tags          []string              `json:"tags"`
}

func (s *Server) handleSaveMilestone(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req saveMilestoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.engine.SaveMilestone(r.Context(), engine.MilestoneInput{
		Scope: req.Scope.toScope(), Content: req.Content, MilestoneType: req.MilestoneType,
		ImpactLevel: req.ImpactLevel, Tags: req.Tags,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type searchRequest struct {
	Scope             scopeBody      `json:"scope"`
	Query             string         `json:"query"`
	K                 int            `json:"k"`
	MinConfidence     int            `json:"min_confidence"`
	IncludeConflicted bool           `json:"include_conflicted"`
	IncludeStatus     []models.Status `json:"include_status"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.engine.Search(r.Context(), engine.SearchInput{
		Scope: req.Scope.toScope(), Query: req.Query, K: req.K, MinConfidence: req.MinConfidence,
		IncludeConflicted: req.IncludeConflicted, IncludeStatus: req.IncludeStatus,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type contextRequest struct {
	Scope         scopeBody `json:"scope"`
	Query         string    `json:"query"`
	MinConfidence int       `json:"min_confidence"`
	K             int       `json:"k"`
	Budget        int       `json:"budget"`
}

type contextResponse struct {
	Context     string `json:"context"`
	MemoryCount int    `json:"memory_count"`
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Budget <= 0 {
		req.Budget = 2000
	}

	results, err := s.engine.GetContext(r.Context(), engine.ContextInput{
		Scope: req.Scope.toScope(), Query: req.Query, MinConfidence: req.MinConfidence, K: req.K,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	contents := make([]string, len(results))
	for i, res := range results {
		contents[i] = res.Memory.Content
	}
	output, count := tokenizer.FormatMemoriesWithBudget(contents, req.Budget)
	s.writeJSON(w, http.StatusOK, contextResponse{Context: output, MemoryCount: count})
}

type resolveConflictRequest struct {
	Scope          scopeBody `json:"scope"`
	ConflictingIDs []string  `json:"conflicting_ids"`
	CorrectContent string    `json:"correct_content"`
	Reason         string    `json:"reason"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.engine.ResolveConflict(r.Context(), req.Scope.toScope(), req.ConflictingIDs, req.CorrectContent, req.Reason)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.engine.Get(r.Context(), scopeFromQuery(r), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type getAllResponse struct {
	Memories []models.MemoryRecord `json:"memories"`
	Cursor   string                `json:"cursor,omitempty"`
}

func (s *Server) handleGetAll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	records, next, err := s.engine.GetAll(r.Context(), scopeFromQuery(r), q.Get("cursor"), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, getAllResponse{Memories: records, Cursor: next})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Capabilities())
}

func (s *Server) writeEngineResult(w http.ResponseWriter, result engine.SaveResult, err error) {
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// writeEngineError maps an errs.Kind to an HTTP status, per §7's error
// taxonomy, logging server-side failures and echoing the message for
// client-side ones.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.InvalidInput:
		status = http.StatusBadRequest
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Contended, errs.ConflictUnresolved:
		status = http.StatusConflict
	case errs.VectorStoreUnavailable, errs.GraphStoreUnavailable, errs.EmbedderUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", "error", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
