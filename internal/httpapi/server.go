package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rahulved/mockboard/internal/auth"
	"github.com/rahulved/mockboard/internal/config"
	"github.com/rahulved/mockboard/internal/interview"
	"github.com/rahulved/mockboard/internal/observability"
	"github.com/rahulved/mockboard/internal/policy"
	"github.com/rahulved/mockboard/internal/room"
	"github.com/rahulved/mockboard/internal/session"
)

// Orchestrator is the session engine surface the gateway drives.
type Orchestrator interface {
	Join(ctx context.Context, interviewID, userID string, sub room.Subscriber) (*session.Session, error)
	SubmitAnswer(ctx context.Context, sessionID string, audio []byte, questionID string, responseTimeMS int64) error
	EndInterview(ctx context.Context, sessionID string) (policy.Summary, error)
	Disconnect(sessionID string)
	Typing(sessionID string, isTyping bool)
	SendToInterview(interviewID string, event any)
	ActiveSessionCount() int
}

type Server struct {
	cfg          config.Config
	store        interview.Store
	orchestrator Orchestrator
	verifier     auth.TokenVerifier
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, store interview.Store, orchestrator Orchestrator, verifier auth.TokenVerifier, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		verifier:     verifier,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/interviews", s.handleCreateInterview)
	r.Get("/v1/interviews", s.handleListInterviews)
	r.Get("/v1/interviews/{id}", s.handleGetInterview)
	r.Post("/v1/interviews/{id}/end", s.handleEndInterview)
	r.Post("/v1/interviews/{id}/events", s.handlePushEvent)
	r.Get("/v1/interviews/ws", s.handleInterviewWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.orchestrator.ActiveSessionCount(),
	})
}

type createInterviewRequest struct {
	DafID           string               `json:"daf_id"`
	Type            string               `json:"type"`
	Difficulty      string               `json:"difficulty"`
	FocusAreas      []string             `json:"focus_areas"`
	DurationMinutes int                  `json:"duration_minutes"`
	MaxQuestions    int                  `json:"max_questions"`
	Panelists       []interview.Panelist `json:"panelists"`
}

func (s *Server) handleCreateInterview(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req createInterviewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		req.Type = "general"
	}
	if strings.TrimSpace(req.Difficulty) == "" {
		req.Difficulty = "medium"
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = s.cfg.DefaultDurationMinutes
	}
	if req.MaxQuestions <= 0 || req.MaxQuestions > s.cfg.MaxQuestionCeiling {
		req.MaxQuestions = s.cfg.MaxQuestionCeiling
	}

	iv := &interview.Interview{
		UserID:          userID,
		DafID:           strings.TrimSpace(req.DafID),
		Type:            req.Type,
		Difficulty:      req.Difficulty,
		FocusAreas:      req.FocusAreas,
		DurationMinutes: req.DurationMinutes,
		MaxQuestions:    req.MaxQuestions,
		Panelists:       req.Panelists,
	}
	if err := s.store.Create(r.Context(), iv); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, iv)
}

func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	interviews, err := s.store.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if interviews == nil {
		interviews = []*interview.Interview{}
	}
	respondJSON(w, http.StatusOK, interviews)
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	iv, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil || iv.UserID != userID {
		respondError(w, http.StatusNotFound, "interview_not_found", "no such interview")
		return
	}
	respondJSON(w, http.StatusOK, iv)
}

// handleEndInterview completes an interview out of band, without a live
// websocket session. Already-completed interviews return their stored
// state unchanged.
func (s *Server) handleEndInterview(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	iv, err := s.store.Get(r.Context(), id)
	if err != nil || iv.UserID != userID {
		respondError(w, http.StatusNotFound, "interview_not_found", "no such interview")
		return
	}
	if iv.Status == interview.StatusCompleted {
		respondJSON(w, http.StatusOK, iv)
		return
	}

	endedAt := timeNow().UTC()
	actual := int64(endedAt.Sub(iv.StartedAt).Seconds())
	if actual < 0 {
		actual = 0
	}
	iv, err = s.store.Complete(r.Context(), id, endedAt, actual)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.orchestrator.SendToInterview(id, map[string]any{
		"type":             "interview_ended",
		"interview_id":     id,
		"question_count":   len(iv.Questions),
		"response_count":   len(iv.Responses),
		"duration_seconds": iv.ActualDuration,
		"reason":           "requested",
	})
	respondJSON(w, http.StatusOK, iv)
}

// handlePushEvent forwards an administrative payload into the interview
// room, e.g. a proctoring notice.
func (s *Server) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var event map[string]any
	if err := decodeJSON(r, &event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.orchestrator.SendToInterview(chi.URLParam(r, "id"), event)
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

// authenticate resolves the caller to a user id from the Authorization
// header or, for websocket clients, the token query parameter.
func (s *Server) authenticate(r *http.Request) (string, error) {
	credential := r.Header.Get("Authorization")
	if credential == "" {
		credential = r.URL.Query().Get("token")
	}
	return s.verifier.Verify(r.Context(), credential)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
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
