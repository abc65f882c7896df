package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
)

// Close codes sent when a handshake is rejected. Distinct codes let
// the client branch on the rejection reason.
const (
	CloseMissingParams   = 4001
	CloseInvalidToken    = 4403
	CloseSessionNotFound = 4404
	CloseInternalError   = 4500
)

// Handler upgrades HTTP requests to session WebSocket connections and
// runs the join handshake.
type Handler struct {
	app        SessionApp
	registry   *Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

// NewHandler creates the WebSocket handshake handler.
func NewHandler(app SessionApp, registry *Registry, dispatcher *Dispatcher, config ConnectionConfig) *Handler {
	return &Handler{
		app:        app,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// HandleSessionSocket handles GET /ws/session. Handshake parameters
// travel as query params: sessionId, token, userId, displayName.
//
// The connection is upgraded before validation so rejections can carry
// a WebSocket close code instead of an opaque HTTP error.
func (h *Handler) HandleSessionSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	joinToken := query.Get("token")
	userID := query.Get("userId")
	displayName := query.Get("displayName")

	if sessionID == "" || joinToken == "" {
		log.Warn().Msg("ws connection rejected: missing sessionId or token")
		closeWithReason(conn, CloseMissingParams, "sessionId and token required")
		return
	}
	if userID == "" {
		log.Warn().Str("session_id", sessionID).Msg("ws connection rejected: missing userId")
		closeWithReason(conn, CloseMissingParams, "userId required")
		return
	}

	ctx := r.Context()
	if _, err := h.app.Authorize(ctx, sessionID, joinToken); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeNotFound:
			log.Warn().Str("session_id", sessionID).Msg("ws connection rejected: session not found")
			closeWithReason(conn, CloseSessionNotFound, "session not found")
		case apperrors.CodeUnauthorized:
			log.Warn().Str("session_id", sessionID).Msg("ws connection rejected: invalid token")
			closeWithReason(conn, CloseInvalidToken, "invalid token")
		default:
			log.Error().Err(err).Str("session_id", sessionID).Msg("ws handshake failed")
			closeWithReason(conn, CloseInternalError, "internal error")
		}
		return
	}

	// Join: idempotent participant upsert, then register the socket.
	sess, err := h.app.RegisterParticipant(ctx, sessionID, userID, displayName)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("user_id", userID).Msg("failed to register participant")
		closeWithReason(conn, CloseInternalError, "failed to join session")
		return
	}

	connection := h.registry.NewConnection(conn, sessionID, userID)
	h.registry.Register(connection)
	connection.StartPumps()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", sessionID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	// The newcomer gets the snapshot directly; everyone else learns
	// about the new participant through the session broadcast.
	envelope, err := NewStateSync(sessionID, sess, h.dispatcher.version())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build state_sync")
		return
	}
	h.registry.SendTo(connection, envelope)
	h.dispatcher.broadcaster.PublishExcept(sessionID, envelope, connection)
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// RegisterRoutes registers the WebSocket routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionSocket)
}
