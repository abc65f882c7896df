package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pointdeck/pointdeck/go/internal/models"
)

// ErrSessionNotFound is returned when a session is absent or expired.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is the rolling session lifetime, refreshed on every
// mutation.
const DefaultTTL = 24 * time.Hour

// Record is the stored unit: the session state plus its join token and
// expiry deadline.
type Record struct {
	Session   *models.Session `json:"session"`
	JoinToken string          `json:"joinToken"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Clone deep-copies the record so store internals never leak.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Session:   r.Session.Clone(),
		JoinToken: r.JoinToken,
		ExpiresAt: r.ExpiresAt,
	}
}

// Store is the TTL-expiring keyed persistence for session records,
// with a secondary index from join token to session. Update is the
// sole mutation path for live sessions and must serialize concurrent
// updates to the same key.
type Store interface {
	// Upsert writes the record unconditionally, updates the token
	// index and refreshes the TTL.
	Upsert(ctx context.Context, record *Record) error

	// Get returns the record or ErrSessionNotFound. An expired record
	// is treated as absent and pruned together with its token index
	// entry.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Update loads the current record, applies mutate and persists the
	// result atomically, refreshing the TTL. A non-nil error from
	// mutate aborts without persisting anything.
	Update(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*Record, error)

	// GetByToken resolves a session through the join token index.
	GetByToken(ctx context.Context, token string) (*Record, error)

	// Delete removes the record and its token index entry.
	Delete(ctx context.Context, sessionID string) error

	// Count returns the number of non-expired sessions, pruning
	// expired ones as a side effect.
	Count(ctx context.Context) (int, error)

	// List enumerates non-expired sessions.
	List(ctx context.Context) ([]*Record, error)
}
