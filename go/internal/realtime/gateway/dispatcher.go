package gateway

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
	"github.com/pointdeck/pointdeck/go/internal/session"
)

// SessionApp defines what the gateway needs from the session
// application service.
type SessionApp interface {
	Authorize(ctx context.Context, sessionID, joinToken string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	RegisterParticipant(ctx context.Context, sessionID, userID, displayName string) (*models.Session, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) (*models.Session, error)
	CastVote(ctx context.Context, sessionID, userID string, point int) (*models.Session, error)
	RequestReveal(ctx context.Context, sessionID string) (*models.Session, error)
	ResetVotes(ctx context.Context, sessionID string) (*models.Session, error)
	FinalizePoint(ctx context.Context, sessionID, actorID string, finalPoint int, memo string) (*session.FinalizeResult, error)
	SelectActivePBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error)
	AddPBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error)
	RemovePBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error)
	DelegateFacilitator(ctx context.Context, sessionID, actorID, targetID string) (*models.Session, error)
}

// Dispatcher routes decoded inbound envelopes to the matching state
// machine operation and broadcasts the resulting canonical state.
type Dispatcher struct {
	app         SessionApp
	registry    *Registry
	broadcaster Broadcaster
	clock       clockwork.Clock
}

// NewDispatcher creates the event dispatcher.
func NewDispatcher(app SessionApp, registry *Registry, broadcaster Broadcaster, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		app:         app,
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// version produces the server-assigned ordering hint.
func (d *Dispatcher) version() int64 {
	return d.clock.Now().UnixMilli()
}

// HandleMessage processes one inbound frame: decode, validate, apply,
// broadcast. Failures go back to the originating connection only.
func (d *Dispatcher) HandleMessage(ctx context.Context, conn *Connection, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		d.sendError(conn, conn.SessionID, err)
		return
	}

	// The connection is bound to one session at handshake; the
	// envelope's sessionId must agree.
	if env.SessionID != "" && env.SessionID != conn.SessionID {
		d.sendError(conn, conn.SessionID, apperrors.Validation("envelope sessionId does not match this connection"))
		return
	}

	payload, err := ParseInboundPayload(env)
	if err != nil {
		d.sendError(conn, conn.SessionID, err)
		return
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Str("event", string(env.Event)).
		Msg("dispatching inbound event")

	sessionID := conn.SessionID

	var next *models.Session
	switch p := payload.(type) {
	case nil:
		// ping
		return

	case VoteCastPayload:
		next, err = d.app.CastVote(ctx, sessionID, p.UserID, *p.Point)

	case RevealRequestPayload:
		next, err = d.app.RequestReveal(ctx, sessionID)

	case ResetVotesPayload:
		next, err = d.app.ResetVotes(ctx, sessionID)

	case FinalizePointPayload:
		memo := ""
		if p.Memo != nil {
			memo = *p.Memo
		}
		var result *session.FinalizeResult
		result, err = d.app.FinalizePoint(ctx, sessionID, p.UserID, *p.FinalPoint, memo)
		if err == nil {
			next = result.Session
			d.broadcaster.Publish(sessionID, NewFinalized(sessionID, result.FinalPoint, result.Memo, result.CatalogSynced, d.version()))
		}

	case PBIPayload:
		switch env.Event {
		case EventPBIAdd:
			next, err = d.app.AddPBI(ctx, sessionID, p.PBIID)
		case EventPBIRemove:
			next, err = d.app.RemovePBI(ctx, sessionID, p.PBIID)
		case EventPBISetActive:
			next, err = d.app.SelectActivePBI(ctx, sessionID, p.PBIID)
		}

	case DelegateFacilitatorPayload:
		next, err = d.app.DelegateFacilitator(ctx, sessionID, p.UserID, p.DelegateTo)

	default:
		err = apperrors.Internal(nil, "unhandled payload for event %q", env.Event)
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("event", string(env.Event)).
			Msg("inbound event rejected")
		d.sendError(conn, sessionID, err)
		return
	}

	d.broadcastState(sessionID, next)
}

// HandleDisconnect runs the presence cleanup when a connection closes.
// Errors are logged, never propagated: cleanup must not take down the
// gateway.
func (d *Dispatcher) HandleDisconnect(conn *Connection, userDeparted bool) {
	if !userDeparted {
		return
	}

	ctx := context.Background()
	next, err := d.app.RemoveParticipant(ctx, conn.SessionID, conn.UserID)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeNotFound {
			log.Error().
				Err(err).
				Str("session_id", conn.SessionID).
				Str("user_id", conn.UserID).
				Msg("failed to remove departed participant")
		}
		return
	}

	log.Info().
		Str("session_id", conn.SessionID).
		Str("user_id", conn.UserID).
		Msg("participant departed")
	d.broadcastState(conn.SessionID, next)
}

func (d *Dispatcher) broadcastState(sessionID string, sess *models.Session) {
	envelope, err := NewStateSync(sessionID, sess, d.version())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build state_sync")
		return
	}
	d.broadcaster.Publish(sessionID, envelope)
}

func (d *Dispatcher) sendError(conn *Connection, sessionID string, err error) {
	d.registry.SendTo(conn, NewErrorEnvelope(sessionID, apperrors.Message(err)))
}
