package models

import (
	"fmt"
	"time"
)

// Phase defines the coarse lifecycle stage of a session.
type Phase string

const (
	PhaseReady     Phase = "READY"
	PhaseVoting    Phase = "VOTING"
	PhaseReveal    Phase = "REVEAL"
	PhaseFinalized Phase = "FINALIZED"
)

// Participant is an ephemeral membership record inside a session.
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Session is the authoritative state of one estimation meeting.
// JSON tags match the state_sync wire payload exactly.
type Session struct {
	SessionID     string          `json:"sessionId"`
	Title         string          `json:"title"`
	FacilitatorID string          `json:"facilitatorId"`
	CreatedAt     time.Time       `json:"createdAt"`
	PBIIDs        []string        `json:"pbiIds"`
	Phase         Phase           `json:"phase"`
	Votes         map[string]*int `json:"votes"`
	Participants  []Participant   `json:"participants"`
	ActivePBIID   *string         `json:"activePbiId"`
}

// Clone returns a deep copy. Stores hand out copies only so callers
// can never mutate shared state outside the store's update path.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s

	clone.PBIIDs = make([]string, len(s.PBIIDs))
	copy(clone.PBIIDs, s.PBIIDs)

	clone.Votes = make(map[string]*int, len(s.Votes))
	for userID, point := range s.Votes {
		if point == nil {
			clone.Votes[userID] = nil
			continue
		}
		v := *point
		clone.Votes[userID] = &v
	}

	clone.Participants = make([]Participant, len(s.Participants))
	copy(clone.Participants, s.Participants)

	if s.ActivePBIID != nil {
		id := *s.ActivePBIID
		clone.ActivePBIID = &id
	}

	return &clone
}

// HasPBI reports whether pbiID is part of the session backlog.
func (s *Session) HasPBI(pbiID string) bool {
	for _, id := range s.PBIIDs {
		if id == pbiID {
			return true
		}
	}
	return false
}

// FindParticipant returns the participant with the given user ID, or nil.
func (s *Session) FindParticipant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Validate checks the structural invariants that must hold after every
// state machine operation.
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session has empty sessionId")
	}

	switch s.Phase {
	case PhaseReady, PhaseVoting, PhaseReveal, PhaseFinalized:
	default:
		return fmt.Errorf("session %s has unknown phase %q", s.SessionID, s.Phase)
	}

	seen := make(map[string]bool, len(s.PBIIDs))
	for _, id := range s.PBIIDs {
		if seen[id] {
			return fmt.Errorf("session %s has duplicate pbiId %q", s.SessionID, id)
		}
		seen[id] = true
	}

	if s.ActivePBIID != nil && !s.HasPBI(*s.ActivePBIID) {
		return fmt.Errorf("session %s activePbiId %q is not in pbiIds", s.SessionID, *s.ActivePBIID)
	}

	users := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		if users[p.UserID] {
			return fmt.Errorf("session %s has duplicate participant %q", s.SessionID, p.UserID)
		}
		users[p.UserID] = true
	}

	return nil
}
