package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mlodato/sqlsteward/internal/command"
	"github.com/mlodato/sqlsteward/internal/config"
	"github.com/mlodato/sqlsteward/internal/executor"
	"github.com/mlodato/sqlsteward/internal/memory"
	"github.com/mlodato/sqlsteward/internal/observability"
	"github.com/mlodato/sqlsteward/internal/reliability"
	"github.com/mlodato/sqlsteward/internal/token"
	"github.com/mlodato/sqlsteward/internal/workflow"
)

// Pinger reports reachability of a backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     config.Config
	flow    *workflow.Service
	store   memory.Store
	schema  executor.SchemaProvider
	target  Pinger
	metrics *observability.Metrics
}

func New(
	cfg config.Config,
	flow *workflow.Service,
	store memory.Store,
	schema executor.SchemaProvider,
	target Pinger,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:     cfg,
		flow:    flow,
		store:   store,
		schema:  schema,
		target:  target,
		metrics: metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/query/approve", s.handleDecision(workflow.ActionApprove))
	r.Post("/v1/query/regenerate", s.handleDecision(workflow.ActionRegenerate))
	r.Post("/v1/query/cancel", s.handleDecision(workflow.ActionCancel))

	r.Post("/v1/memory/command", s.handleMemoryCommand)
	r.Get("/v1/memory/{username}/history", s.handleUserHistory)
	r.Delete("/v1/memory/{username}", s.handleClearUser)
	r.Get("/v1/users", s.handleListUsers)
	r.Get("/v1/schema", s.handleSchema)

	return r
}

type questionRequest struct {
	Username string `json:"username"`
	Question string `json:"question"`
}

type decisionRequest struct {
	Token    string `json:"token"`
	Feedback string `json:"feedback,omitempty"`
}

type commandRequest struct {
	Username string `json:"username"`
	Command  string `json:"command"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		respondError(w, http.StatusBadRequest, "missing_username", "username is required", false)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "missing_question", "question cannot be empty", false)
		return
	}

	outcome, err := s.flow.SubmitQuestion(r.Context(), req.Username, req.Question)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleDecision(action workflow.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			respondError(w, http.StatusBadRequest, "missing_token", "decision token is required", false)
			return
		}

		outcome, err := s.flow.Decide(r.Context(), req.Token, action, req.Feedback)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, outcome)
	}
}

func (s *Server) handleMemoryCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		respondError(w, http.StatusBadRequest, "missing_username", "username is required", false)
		return
	}

	s.metrics.CommandsTotal.WithLabelValues(commandLabel(req.Command)).Inc()

	result, err := command.Dispatch(r.Context(), s.store, req.Username, req.Command)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	rec, err := s.store.Get(r.Context(), username)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"username": username,
		"data":     command.Summarize(rec),
	})
}

func (s *Server) handleClearUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := s.store.Clear(r.Context(), username); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Memory cleared for user: " + username,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"users":       users,
		"total_users": len(users),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.schema == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "schema introspection not configured", false)
		return
	}
	tables, err := s.schema.Schema(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "schema_error", err.Error(), false)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"schema":  tables,
		"raw":     executor.RenderSchema(tables),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	memoryOK := true
	if _, err := s.store.ListUsers(r.Context()); err != nil {
		memoryOK = false
	}
	targetOK := s.target != nil
	if s.target != nil && s.target.Ping(r.Context()) != nil {
		targetOK = false
	}

	status := "ready"
	code := http.StatusOK
	if !memoryOK || !targetOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":           status,
		"memory_connected": memoryOK,
		"target_connected": targetOK,
	})
}

// respondServiceError maps workflow and store errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		respondError(w, http.StatusConflict, "token_expired", "decision token expired, please restart this query", false)
	case errors.Is(err, token.ErrReplayed):
		respondError(w, http.StatusConflict, "token_replayed", "decision token already used, please restart this query", false)
	case errors.Is(err, token.ErrInvalid):
		respondError(w, http.StatusConflict, "token_invalid", "decision token rejected, please restart this query", false)
	case errors.Is(err, workflow.ErrFeedbackRequired):
		respondError(w, http.StatusBadRequest, "feedback_required", err.Error(), false)
	case errors.Is(err, workflow.ErrAttemptsExhausted):
		respondError(w, http.StatusConflict, "attempts_exhausted", err.Error(), false)
	case errors.Is(err, memory.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error(), true)
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error(), reliability.IsRetryable(err))
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	respondJSON(w, status, errorResponse{Error: message, Code: code, Retryable: retryable})
}

func commandLabel(cmd string) string {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cmd)), "/")
	switch name {
	case "history", "entities", "summary", "clear", "users":
		return name
	default:
		return "unknown"
	}
}
