package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/catalog"
	"github.com/pointdeck/pointdeck/go/internal/models"
	"github.com/pointdeck/pointdeck/go/internal/session/repository"
)

// App owns the session lifecycle. Every mutation funnels through the
// store's atomic Update, which serializes concurrent commands against
// the same session; nothing mutates a Session outside that path.
type App struct {
	store   repository.Store
	catalog catalog.Catalog
	scale   PointScale
	clock   clockwork.Clock
}

// Option configures an App.
type Option func(*App)

// WithPointScale overrides the accepted story point values.
func WithPointScale(scale PointScale) Option {
	return func(a *App) { a.scale = scale }
}

// WithClock injects the clock used for join timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// NewApp creates the session application service.
func NewApp(store repository.Store, cat catalog.Catalog, opts ...Option) *App {
	app := &App{
		store:   store,
		catalog: cat,
		scale:   DefaultPointScale,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// PointScale returns the accepted story point values.
func (a *App) PointScale() PointScale {
	return a.scale
}

// CreateSessionRequest carries the fields needed to open a session.
type CreateSessionRequest struct {
	Title           string   `json:"title"`
	FacilitatorID   string   `json:"facilitatorId"`
	FacilitatorName string   `json:"facilitatorName"`
	PBIIDs          []string `json:"pbiIds"`
}

// CreateSessionResponse returns the new session together with its join
// token, the only time the token leaves the server unprompted.
type CreateSessionResponse struct {
	SessionID string          `json:"sessionId"`
	JoinToken string          `json:"joinToken"`
	Session   *models.Session `json:"state"`
}

// NewSessionID generates an opaque session identifier.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewJoinToken generates a possession-based join credential.
func NewJoinToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:24]
}

// CreateSession opens a session in READY phase with the facilitator as
// the first participant. The first backlog item becomes active
// immediately; voting still waits for the first command.
func (a *App) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if req.Title == "" {
		return nil, apperrors.Validation("title is required")
	}
	if req.FacilitatorID == "" {
		return nil, apperrors.Validation("facilitator id is required")
	}
	if len(req.PBIIDs) == 0 {
		return nil, apperrors.Validation("pbiIds must contain at least one item")
	}
	seen := make(map[string]bool, len(req.PBIIDs))
	for _, id := range req.PBIIDs {
		if seen[id] {
			return nil, apperrors.Conflict("pbiId %s appears more than once", id)
		}
		seen[id] = true
	}

	now := a.clock.Now()
	activeID := req.PBIIDs[0]
	sess := &models.Session{
		SessionID:     NewSessionID(),
		Title:         req.Title,
		FacilitatorID: req.FacilitatorID,
		CreatedAt:     now,
		PBIIDs:        append([]string(nil), req.PBIIDs...),
		Phase:         models.PhaseReady,
		Votes:         map[string]*int{req.FacilitatorID: nil},
		Participants: []models.Participant{{
			UserID:      req.FacilitatorID,
			DisplayName: req.FacilitatorName,
			JoinedAt:    now,
		}},
		ActivePBIID: &activeID,
	}

	record := &repository.Record{
		Session:   sess,
		JoinToken: NewJoinToken(),
	}
	if err := a.store.Upsert(ctx, record); err != nil {
		return nil, apperrors.Internal(err, "failed to persist session")
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Str("facilitator_id", sess.FacilitatorID).
		Int("pbi_count", len(sess.PBIIDs)).
		Msg("session created")

	return &CreateSessionResponse{
		SessionID: sess.SessionID,
		JoinToken: record.JoinToken,
		Session:   sess,
	}, nil
}

// GetSession returns the current session state.
func (a *App) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	record, err := a.getRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return record.Session, nil
}

// Authorize resolves the session and checks the join token, the sole
// authentication step of the realtime handshake.
func (a *App) Authorize(ctx context.Context, sessionID, joinToken string) (*models.Session, error) {
	record, err := a.getRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.JoinToken != joinToken {
		return nil, apperrors.Unauthorized("invalid join token for session %s", sessionID)
	}
	return record.Session, nil
}

func (a *App) getRecord(ctx context.Context, sessionID string) (*repository.Record, error) {
	record, err := a.store.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperrors.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load session %s", sessionID)
	}
	return record, nil
}

// update runs one state machine operation through the store's atomic
// path and maps store-level absence to the taxonomy.
func (a *App) update(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error) {
	record, err := a.store.Update(ctx, sessionID, mutate)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperrors.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.Internal(err, "failed to update session %s", sessionID)
	}
	return record.Session, nil
}

// CastVote records a vote and applies the READY→VOTING and
// auto-reveal transitions.
func (a *App) CastVote(ctx context.Context, sessionID, userID string, point int) (*models.Session, error) {
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return castVote(s, a.scale, userID, point)
	})
}

// RequestReveal forces the VOTING→REVEAL transition.
func (a *App) RequestReveal(ctx context.Context, sessionID string) (*models.Session, error) {
	return a.update(ctx, sessionID, requestReveal)
}

// ResetVotes clears every vote and forces VOTING.
func (a *App) ResetVotes(ctx context.Context, sessionID string) (*models.Session, error) {
	return a.update(ctx, sessionID, resetVotes)
}

// FinalizeResult reports the outcome of FinalizePoint. CatalogSynced
// is false when the external write-back failed; the local FINALIZED
// transition stands regardless.
type FinalizeResult struct {
	Session       *models.Session `json:"state"`
	FinalPoint    int             `json:"finalPoint"`
	Memo          string          `json:"memo,omitempty"`
	Item          *models.Item    `json:"pbi,omitempty"`
	CatalogSynced bool            `json:"catalogSynced"`
}

// FinalizePoint commits the final point. The facilitator-only check
// and the phase transition happen atomically in the store; the catalog
// write-back runs afterwards and its failure is reported as a soft
// warning, never rolled back.
func (a *App) FinalizePoint(ctx context.Context, sessionID, actorID string, finalPoint int, memo string) (*FinalizeResult, error) {
	sess, err := a.update(ctx, sessionID, func(s *models.Session) error {
		return finalizePoint(s, a.scale, actorID, finalPoint)
	})
	if err != nil {
		return nil, err
	}

	result := &FinalizeResult{
		Session:       sess,
		FinalPoint:    finalPoint,
		Memo:          memo,
		CatalogSynced: true,
	}

	if sess.ActivePBIID == nil {
		return result, nil
	}
	pbiID := *sess.ActivePBIID

	if err := a.catalog.UpdateItemPoint(ctx, pbiID, finalPoint, memo); err != nil {
		result.CatalogSynced = false
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("pbi_id", pbiID).
			Int("final_point", finalPoint).
			Msg("catalog write-back failed after finalize")
		return result, nil
	}

	if item, err := a.catalog.FindItem(ctx, pbiID); err == nil {
		result.Item = item
	}

	log.Info().
		Str("session_id", sessionID).
		Str("pbi_id", pbiID).
		Int("final_point", finalPoint).
		Msg("point finalized")
	return result, nil
}

// SelectActivePBI switches the item under estimation, clearing votes.
func (a *App) SelectActivePBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error) {
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return selectActivePBI(s, pbiID)
	})
}

// AddPBI appends an item to the backlog after verifying it exists in
// the catalog.
func (a *App) AddPBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error) {
	if pbiID == "" {
		return nil, apperrors.Validation("pbiId is required")
	}

	exists, err := a.catalog.ItemExists(ctx, pbiID)
	if err != nil {
		return nil, apperrors.Upstream(err, "catalog lookup for %s failed", pbiID)
	}
	if !exists {
		return nil, apperrors.NotFound("pbi %s not found in catalog", pbiID)
	}

	return a.update(ctx, sessionID, func(s *models.Session) error {
		return addPBI(s, pbiID)
	})
}

// RemovePBI drops an item, auto-selecting the next one when the active
// item is removed.
func (a *App) RemovePBI(ctx context.Context, sessionID, pbiID string) (*models.Session, error) {
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return removePBI(s, pbiID)
	})
}

// RegisterParticipant is the idempotent join upsert.
func (a *App) RegisterParticipant(ctx context.Context, sessionID, userID, displayName string) (*models.Session, error) {
	joinedAt := a.clock.Now()
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return registerParticipant(s, userID, displayName, joinedAt)
	})
}

// RemoveParticipant drops a departed user, promoting a new facilitator
// when needed.
func (a *App) RemoveParticipant(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return removeParticipant(s, userID)
	})
}

// DelegateFacilitator hands the facilitator role to another
// participant.
func (a *App) DelegateFacilitator(ctx context.Context, sessionID, actorID, targetID string) (*models.Session, error) {
	return a.update(ctx, sessionID, func(s *models.Session) error {
		return delegateFacilitator(s, actorID, targetID)
	})
}

// CountSessions returns the number of live sessions.
func (a *App) CountSessions(ctx context.Context) (int, error) {
	count, err := a.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ListSessions enumerates live sessions.
func (a *App) ListSessions(ctx context.Context) ([]*models.Session, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*models.Session, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, record.Session)
	}
	return sessions, nil
}
