package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

// MemoryStore is the in-process Store used at demo scale and as the
// graceful fallback when Redis is unreachable. The mutex makes Update
// the serialization point for concurrent commands against one session.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	byToken  map[string]string
	ttl      time.Duration
	clock    clockwork.Clock
}

// NewMemoryStore creates an in-memory store with the given rolling TTL.
func NewMemoryStore(ttl time.Duration, clock clockwork.Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		records: make(map[string]*Record),
		byToken: make(map[string]string),
		ttl:     ttl,
		clock:   clock,
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	stored.ExpiresAt = s.clock.Now().Add(s.ttl)
	s.records[stored.Session.SessionID] = stored
	if stored.JoinToken != "" {
		s.byToken[stored.JoinToken] = stored.Session.SessionID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// getLocked performs the lazy expiry check. Callers hold the mutex.
func (s *MemoryStore) getLocked(sessionID string) (*Record, error) {
	record, ok := s.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if record.ExpiresAt.Before(s.clock.Now()) {
		s.dropLocked(sessionID, record)
		return nil, ErrSessionNotFound
	}
	return record, nil
}

func (s *MemoryStore) dropLocked(sessionID string, record *Record) {
	delete(s.records, sessionID)
	if record.JoinToken != "" {
		delete(s.byToken, record.JoinToken)
	}
}

func (s *MemoryStore) Update(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}

	// Mutate a copy so a failed mutator leaves the stored state
	// untouched.
	next := record.Clone()
	if err := mutate(next.Session); err != nil {
		return nil, err
	}

	next.ExpiresAt = s.clock.Now().Add(s.ttl)
	s.records[sessionID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, ok := s.byToken[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	record, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[sessionID]
	if !ok {
		return nil
	}
	s.dropLocked(sessionID, record)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for sessionID, record := range s.records {
		if record.ExpiresAt.Before(now) {
			s.dropLocked(sessionID, record)
		}
	}
	return len(s.records), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	records := make([]*Record, 0, len(s.records))
	for sessionID, record := range s.records {
		if record.ExpiresAt.Before(now) {
			s.dropLocked(sessionID, record)
			continue
		}
		records = append(records, record.Clone())
	}
	return records, nil
}
