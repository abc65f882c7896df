package session

import (
	"time"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

// PointScale is the set of story point values a session accepts.
type PointScale []int

// DefaultPointScale is the Fibonacci-like scale used unless configured
// otherwise.
var DefaultPointScale = PointScale{0, 1, 2, 3, 5, 8, 13, 21, 34}

// Contains reports whether point is an accepted value.
func (ps PointScale) Contains(point int) bool {
	for _, v := range ps {
		if v == point {
			return true
		}
	}
	return false
}

// The functions below are the session state machine: each one validates
// against the current state before mutating, so a returned error means
// the session was left untouched. They are called exclusively from
// inside the store's atomic Update, which serializes concurrent
// commands against the same session.

func castVote(s *models.Session, scale PointScale, userID string, point int) error {
	if !scale.Contains(point) {
		return apperrors.Validation("point %d is not in the accepted point scale", point)
	}
	if s.FindParticipant(userID) == nil {
		return apperrors.Validation("user %s is not a participant of session %s", userID, s.SessionID)
	}
	if s.Phase == models.PhaseFinalized {
		return apperrors.Validation("session is finalized; select a new item before voting")
	}

	v := point
	s.Votes[userID] = &v

	if s.Phase == models.PhaseReady {
		s.Phase = models.PhaseVoting
	}

	// Auto-reveal once every current participant has a non-null vote.
	if s.Phase == models.PhaseVoting && everyoneVoted(s) {
		s.Phase = models.PhaseReveal
	}

	return nil
}

func everyoneVoted(s *models.Session) bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if point, ok := s.Votes[p.UserID]; !ok || point == nil {
			return false
		}
	}
	return true
}

func requestReveal(s *models.Session) error {
	switch s.Phase {
	case models.PhaseReveal, models.PhaseFinalized:
		return nil
	}
	s.Phase = models.PhaseReveal
	return nil
}

func resetVotes(s *models.Session) error {
	for userID := range s.Votes {
		s.Votes[userID] = nil
	}
	s.Phase = models.PhaseVoting
	return nil
}

func finalizePoint(s *models.Session, scale PointScale, actorID string, finalPoint int) error {
	if !scale.Contains(finalPoint) {
		return apperrors.Validation("finalPoint %d is not in the accepted point scale", finalPoint)
	}
	if actorID != s.FacilitatorID {
		return apperrors.Unauthorized("only the facilitator may finalize the point")
	}
	s.Phase = models.PhaseFinalized
	return nil
}

func selectActivePBI(s *models.Session, pbiID string) error {
	if !s.HasPBI(pbiID) {
		return apperrors.Validation("pbiId %s is not part of session %s", pbiID, s.SessionID)
	}
	id := pbiID
	s.ActivePBIID = &id
	for userID := range s.Votes {
		s.Votes[userID] = nil
	}
	s.Phase = models.PhaseVoting
	return nil
}

func addPBI(s *models.Session, pbiID string) error {
	if s.HasPBI(pbiID) {
		return apperrors.Conflict("pbiId %s is already part of session %s", pbiID, s.SessionID)
	}
	s.PBIIDs = append(s.PBIIDs, pbiID)

	// First item added to an empty selection becomes active without
	// resetting phase or votes; only explicit selection does that.
	if s.ActivePBIID == nil {
		id := pbiID
		s.ActivePBIID = &id
	}
	return nil
}

func removePBI(s *models.Session, pbiID string) error {
	idx := -1
	for i, id := range s.PBIIDs {
		if id == pbiID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.Validation("pbiId %s is not part of session %s", pbiID, s.SessionID)
	}

	s.PBIIDs = append(s.PBIIDs[:idx], s.PBIIDs[idx+1:]...)

	if s.ActivePBIID != nil && *s.ActivePBIID == pbiID {
		if len(s.PBIIDs) == 0 {
			s.ActivePBIID = nil
		} else {
			// The item occupying the removed slot is next in order.
			if idx >= len(s.PBIIDs) {
				idx = len(s.PBIIDs) - 1
			}
			id := s.PBIIDs[idx]
			s.ActivePBIID = &id
		}
		for userID := range s.Votes {
			s.Votes[userID] = nil
		}
		s.Phase = models.PhaseVoting
	}
	return nil
}

func registerParticipant(s *models.Session, userID, displayName string, joinedAt time.Time) error {
	if userID == "" {
		return apperrors.Validation("userId is required to join a session")
	}

	if existing := s.FindParticipant(userID); existing != nil {
		if displayName != "" && existing.DisplayName != displayName {
			existing.DisplayName = displayName
		}
	} else {
		s.Participants = append(s.Participants, models.Participant{
			UserID:      userID,
			DisplayName: displayName,
			JoinedAt:    joinedAt,
		})
	}

	if _, ok := s.Votes[userID]; !ok {
		s.Votes[userID] = nil
	}
	return nil
}

func removeParticipant(s *models.Session, userID string) error {
	idx := -1
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	s.Participants = append(s.Participants[:idx], s.Participants[idx+1:]...)
	delete(s.Votes, userID)

	// Promote the longest-joined remaining participant when the
	// facilitator leaves. With nobody left the stale reference stays
	// and the session is inert.
	if s.FacilitatorID == userID && len(s.Participants) > 0 {
		s.FacilitatorID = s.Participants[0].UserID
	}
	return nil
}

func delegateFacilitator(s *models.Session, actorID, targetID string) error {
	if actorID != s.FacilitatorID {
		return apperrors.Unauthorized("only the facilitator may delegate their role")
	}
	if s.FindParticipant(targetID) == nil {
		return apperrors.Validation("user %s is not a participant of session %s", targetID, s.SessionID)
	}
	if targetID == s.FacilitatorID {
		return nil
	}
	s.FacilitatorID = targetID
	return nil
}
