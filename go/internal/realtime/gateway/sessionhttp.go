package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
	"github.com/pointdeck/pointdeck/go/internal/session"
)

// RESTApp defines what the thin HTTP surface needs from the session
// application service.
type RESTApp interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (*session.CreateSessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	CountSessions(ctx context.Context) (int, error)
}

// SessionHandler serves the non-realtime session endpoints: creation,
// state reads and gateway stats.
type SessionHandler struct {
	app      RESTApp
	registry *Registry
}

// NewSessionHandler creates the REST handler.
func NewSessionHandler(app RESTApp, registry *Registry) *SessionHandler {
	return &SessionHandler{app: app, registry: registry}
}

type errorResponse struct {
	Code      apperrors.Code `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{
		Code:      apperrors.CodeOf(err),
		Message:   apperrors.Message(err),
		Retryable: apperrors.Retryable(err),
	})
}

// HandleCreateSession handles POST /api/sessions.
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req session.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed request body: %v", err))
		return
	}

	resp, err := h.app.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleGetSessionState handles GET /api/sessions/{id}/state.
func (h *SessionHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := extractSessionIDFromPath(r.URL.Path)
	if sessionID == "" {
		writeError(w, apperrors.Validation("session id is required"))
		return
	}

	sess, err := h.app.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleStats handles GET /api/sessions/stats.
func (h *SessionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := h.app.CountSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	stats := h.registry.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"liveSessions":     count,
		"totalConnections": stats.TotalConnections,
		"activeSessions":   stats.ActiveSessions,
	})
}

// RegisterRoutes registers the REST routes on the mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", h.HandleCreateSession)
	mux.HandleFunc("/api/sessions/stats", h.HandleStats)
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetSessionState(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// extractSessionIDFromPath extracts the id from /api/sessions/{id}/state.
func extractSessionIDFromPath(path string) string {
	const prefix = "/api/sessions/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
