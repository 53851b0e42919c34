package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
)

type Server struct {
	service *session.Service
	metrics *observability.Metrics
	mcp     http.Handler
}

// New builds the REST surface. mcp may be nil, in which case /mcp is not mounted.
func New(service *session.Service, metrics *observability.Metrics, mcp http.Handler) *Server {
	return &Server{
		service: service,
		metrics: metrics,
		mcp:     mcp,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/operations", s.handlePerfOperations)

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Patch("/v1/conversations/{id}", s.handleRenameConversation)
	r.Get("/v1/conversations/{id}/messages", s.handleConversationMessages)
	r.Get("/v1/conversations/{id}/stats", s.handleConversationStats)
	r.Post("/v1/conversations/{id}/summaries", s.handleCreateSummary)
	r.Get("/v1/conversations/{id}/summaries", s.handleListSummaries)
	r.Post("/v1/conversations/{id}/summaries/generate", s.handleGenerateSummary)

	r.Post("/v1/messages", s.handleCreateMessage)
	r.Get("/v1/messages/{id}", s.handleGetMessage)
	r.Get("/v1/messages/{id}/tool-executions", s.handleToolExecutions)

	r.Post("/v1/record/user", s.handleRecordUser)
	r.Post("/v1/record/assistant", s.handleRecordAssistant)
	r.Post("/v1/record/tool", s.handleRecordTool)
	r.Post("/v1/tool-results/lookup", s.handleLookupToolResult)

	r.Post("/v1/search/conversations", s.handleSearchConversations)
	r.Post("/v1/search/messages", s.handleSearchMessages)

	r.Delete("/v1/cache", s.handleClearCache)

	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.service.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ready(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":     "not_ready",
			"store_mode": s.service.StoreMode(),
			"error":      err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.service.StoreMode(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.SystemStatus(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ClearCache(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps façade and store errors onto the error envelope.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, memory.ErrReferential):
		respondError(w, http.StatusNotFound, "referential_error", err.Error())
	case errors.Is(err, session.ErrNoActiveConversation):
		respondError(w, http.StatusConflict, "no_active_conversation", err.Error())
	case errors.Is(err, session.ErrNoMessages):
		respondError(w, http.StatusConflict, "no_messages", err.Error())
	case reliability.IsRetryable(err):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "store_unavailable", Retryable: true})
	default:
		log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}

// queryInt reads an optional integer query parameter; absent means 0 so the
// façade applies its default.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &session.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}
