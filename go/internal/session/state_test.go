package session

import (
	"testing"
	"time"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

// newTestSession builds a session with two registered participants,
// alice as facilitator, PBI-1 active.
func newTestSession() *models.Session {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &models.Session{
		SessionID:     "sess_test",
		Title:         "Sprint 12 refinement",
		FacilitatorID: "alice",
		CreatedAt:     now,
		PBIIDs:        []string{"PBI-1", "PBI-2", "PBI-3"},
		Phase:         models.PhaseReady,
		Votes:         map[string]*int{"alice": nil, "bob": nil},
		Participants: []models.Participant{
			{UserID: "alice", DisplayName: "Alice", JoinedAt: now},
			{UserID: "bob", DisplayName: "Bob", JoinedAt: now.Add(time.Minute)},
		},
		ActivePBIID: strPtr("PBI-1"),
	}
}

func TestCastVote(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*models.Session)
		userID    string
		point     int
		wantErr   apperrors.Code
		wantPhase models.Phase
	}{
		{
			name:      "first vote moves ready to voting",
			userID:    "alice",
			point:     5,
			wantPhase: models.PhaseVoting,
		},
		{
			name: "last vote auto reveals",
			setup: func(s *models.Session) {
				s.Phase = models.PhaseVoting
				s.Votes["bob"] = intPtr(8)
			},
			userID:    "alice",
			point:     5,
			wantPhase: models.PhaseReveal,
		},
		{
			name: "partial votes stay in voting",
			setup: func(s *models.Session) {
				s.Phase = models.PhaseVoting
			},
			userID:    "bob",
			point:     3,
			wantPhase: models.PhaseVoting,
		},
		{
			name:    "point outside scale is rejected",
			userID:  "alice",
			point:   4,
			wantErr: apperrors.CodeValidation,
		},
		{
			name:    "unknown user is rejected",
			userID:  "mallory",
			point:   5,
			wantErr: apperrors.CodeValidation,
		},
		{
			name: "finalized session rejects votes",
			setup: func(s *models.Session) {
				s.Phase = models.PhaseFinalized
			},
			userID:  "alice",
			point:   5,
			wantErr: apperrors.CodeValidation,
		},
		{
			name: "revote in reveal phase overwrites",
			setup: func(s *models.Session) {
				s.Phase = models.PhaseReveal
				s.Votes["alice"] = intPtr(5)
				s.Votes["bob"] = intPtr(8)
			},
			userID:    "alice",
			point:     13,
			wantPhase: models.PhaseReveal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			if tt.setup != nil {
				tt.setup(s)
			}
			before := s.Clone()

			err := castVote(s, DefaultPointScale, tt.userID, tt.point)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected %s error, got nil", tt.wantErr)
				}
				if got := apperrors.CodeOf(err); got != tt.wantErr {
					t.Fatalf("error code = %s, want %s", got, tt.wantErr)
				}
				if s.Phase != before.Phase {
					t.Errorf("failed vote mutated phase: %s -> %s", before.Phase, s.Phase)
				}
				return
			}
			if err != nil {
				t.Fatalf("castVote: %v", err)
			}
			if s.Phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", s.Phase, tt.wantPhase)
			}
			if got := s.Votes[tt.userID]; got == nil || *got != tt.point {
				t.Errorf("vote for %s = %v, want %d", tt.userID, got, tt.point)
			}
		})
	}
}

func TestEveryoneVotedEmptySession(t *testing.T) {
	s := newTestSession()
	s.Participants = nil
	if everyoneVoted(s) {
		t.Error("everyoneVoted should be false with no participants")
	}
}

func TestRequestReveal(t *testing.T) {
	tests := []struct {
		name      string
		phase     models.Phase
		wantPhase models.Phase
	}{
		{"from ready", models.PhaseReady, models.PhaseReveal},
		{"from voting", models.PhaseVoting, models.PhaseReveal},
		{"already revealed is a no-op", models.PhaseReveal, models.PhaseReveal},
		{"finalized stays finalized", models.PhaseFinalized, models.PhaseFinalized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			s.Phase = tt.phase
			if err := requestReveal(s); err != nil {
				t.Fatalf("requestReveal: %v", err)
			}
			if s.Phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", s.Phase, tt.wantPhase)
			}
		})
	}
}

func TestResetVotes(t *testing.T) {
	s := newTestSession()
	s.Phase = models.PhaseFinalized
	s.Votes["alice"] = intPtr(5)
	s.Votes["bob"] = intPtr(8)

	if err := resetVotes(s); err != nil {
		t.Fatalf("resetVotes: %v", err)
	}
	if s.Phase != models.PhaseVoting {
		t.Errorf("phase = %s, want %s", s.Phase, models.PhaseVoting)
	}
	for userID, point := range s.Votes {
		if point != nil {
			t.Errorf("vote for %s = %d, want nil", userID, *point)
		}
	}
	if len(s.Votes) != 2 {
		t.Errorf("reset dropped vote keys: got %d, want 2", len(s.Votes))
	}
}

func TestFinalizePoint(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		point   int
		wantErr apperrors.Code
	}{
		{"facilitator finalizes", "alice", 8, ""},
		{"non-facilitator is rejected", "bob", 8, apperrors.CodeUnauthorized},
		{"point outside scale is rejected", "alice", 7, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			s.Phase = models.PhaseReveal

			err := finalizePoint(s, DefaultPointScale, tt.actorID, tt.point)
			if tt.wantErr != "" {
				if got := apperrors.CodeOf(err); got != tt.wantErr {
					t.Fatalf("error code = %s, want %s", got, tt.wantErr)
				}
				if s.Phase != models.PhaseReveal {
					t.Errorf("failed finalize changed phase to %s", s.Phase)
				}
				return
			}
			if err != nil {
				t.Fatalf("finalizePoint: %v", err)
			}
			if s.Phase != models.PhaseFinalized {
				t.Errorf("phase = %s, want %s", s.Phase, models.PhaseFinalized)
			}
		})
	}
}

func TestSelectActivePBI(t *testing.T) {
	t.Run("switches item and clears votes", func(t *testing.T) {
		s := newTestSession()
		s.Phase = models.PhaseFinalized
		s.Votes["alice"] = intPtr(5)
		s.Votes["bob"] = intPtr(8)

		if err := selectActivePBI(s, "PBI-2"); err != nil {
			t.Fatalf("selectActivePBI: %v", err)
		}
		if s.ActivePBIID == nil || *s.ActivePBIID != "PBI-2" {
			t.Errorf("activePbiId = %v, want PBI-2", s.ActivePBIID)
		}
		if s.Phase != models.PhaseVoting {
			t.Errorf("phase = %s, want %s", s.Phase, models.PhaseVoting)
		}
		for userID, point := range s.Votes {
			if point != nil {
				t.Errorf("vote for %s survived item switch", userID)
			}
		}
	})

	t.Run("unknown item is rejected", func(t *testing.T) {
		s := newTestSession()
		err := selectActivePBI(s, "PBI-99")
		if got := apperrors.CodeOf(err); got != apperrors.CodeValidation {
			t.Fatalf("error code = %s, want %s", got, apperrors.CodeValidation)
		}
		if *s.ActivePBIID != "PBI-1" {
			t.Errorf("failed select changed active item to %s", *s.ActivePBIID)
		}
	})
}

func TestAddPBI(t *testing.T) {
	t.Run("appends to backlog", func(t *testing.T) {
		s := newTestSession()
		s.Phase = models.PhaseVoting
		s.Votes["alice"] = intPtr(5)

		if err := addPBI(s, "PBI-4"); err != nil {
			t.Fatalf("addPBI: %v", err)
		}
		if !s.HasPBI("PBI-4") {
			t.Error("PBI-4 not in backlog")
		}
		if *s.ActivePBIID != "PBI-1" {
			t.Errorf("add changed active item to %s", *s.ActivePBIID)
		}
		if s.Phase != models.PhaseVoting {
			t.Errorf("add changed phase to %s", s.Phase)
		}
		if s.Votes["alice"] == nil {
			t.Error("add cleared votes")
		}
	})

	t.Run("duplicate is a conflict", func(t *testing.T) {
		s := newTestSession()
		err := addPBI(s, "PBI-2")
		if got := apperrors.CodeOf(err); got != apperrors.CodeConflict {
			t.Fatalf("error code = %s, want %s", got, apperrors.CodeConflict)
		}
		if len(s.PBIIDs) != 3 {
			t.Errorf("duplicate add grew backlog to %d", len(s.PBIIDs))
		}
	})

	t.Run("first item becomes active without phase reset", func(t *testing.T) {
		s := newTestSession()
		s.PBIIDs = nil
		s.ActivePBIID = nil
		s.Phase = models.PhaseReady

		if err := addPBI(s, "PBI-9"); err != nil {
			t.Fatalf("addPBI: %v", err)
		}
		if s.ActivePBIID == nil || *s.ActivePBIID != "PBI-9" {
			t.Errorf("activePbiId = %v, want PBI-9", s.ActivePBIID)
		}
		if s.Phase != models.PhaseReady {
			t.Errorf("phase = %s, want %s", s.Phase, models.PhaseReady)
		}
	})
}

func TestRemovePBI(t *testing.T) {
	t.Run("removing active item selects same slot", func(t *testing.T) {
		s := newTestSession()
		s.Phase = models.PhaseReveal
		s.Votes["alice"] = intPtr(5)

		if err := removePBI(s, "PBI-1"); err != nil {
			t.Fatalf("removePBI: %v", err)
		}
		if s.ActivePBIID == nil || *s.ActivePBIID != "PBI-2" {
			t.Errorf("activePbiId = %v, want PBI-2", s.ActivePBIID)
		}
		if s.Phase != models.PhaseVoting {
			t.Errorf("phase = %s, want %s", s.Phase, models.PhaseVoting)
		}
		if s.Votes["alice"] != nil {
			t.Error("removing active item kept votes")
		}
	})

	t.Run("removing last slot active item selects previous", func(t *testing.T) {
		s := newTestSession()
		s.ActivePBIID = strPtr("PBI-3")

		if err := removePBI(s, "PBI-3"); err != nil {
			t.Fatalf("removePBI: %v", err)
		}
		if s.ActivePBIID == nil || *s.ActivePBIID != "PBI-2" {
			t.Errorf("activePbiId = %v, want PBI-2", s.ActivePBIID)
		}
	})

	t.Run("removing only item clears active", func(t *testing.T) {
		s := newTestSession()
		s.PBIIDs = []string{"PBI-1"}

		if err := removePBI(s, "PBI-1"); err != nil {
			t.Fatalf("removePBI: %v", err)
		}
		if s.ActivePBIID != nil {
			t.Errorf("activePbiId = %s, want nil", *s.ActivePBIID)
		}
	})

	t.Run("removing inactive item keeps phase and votes", func(t *testing.T) {
		s := newTestSession()
		s.Phase = models.PhaseReveal
		s.Votes["alice"] = intPtr(5)

		if err := removePBI(s, "PBI-3"); err != nil {
			t.Fatalf("removePBI: %v", err)
		}
		if s.Phase != models.PhaseReveal {
			t.Errorf("phase = %s, want %s", s.Phase, models.PhaseReveal)
		}
		if s.Votes["alice"] == nil {
			t.Error("removing inactive item cleared votes")
		}
	})

	t.Run("unknown item is rejected", func(t *testing.T) {
		s := newTestSession()
		err := removePBI(s, "PBI-99")
		if got := apperrors.CodeOf(err); got != apperrors.CodeValidation {
			t.Fatalf("error code = %s, want %s", got, apperrors.CodeValidation)
		}
	})
}

func TestRegisterParticipant(t *testing.T) {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	t.Run("new participant gets a nil vote", func(t *testing.T) {
		s := newTestSession()
		if err := registerParticipant(s, "carol", "Carol", now); err != nil {
			t.Fatalf("registerParticipant: %v", err)
		}
		if s.FindParticipant("carol") == nil {
			t.Fatal("carol not registered")
		}
		if point, ok := s.Votes["carol"]; !ok || point != nil {
			t.Errorf("carol vote = %v, want nil entry", point)
		}
	})

	t.Run("rejoin is idempotent and keeps the vote", func(t *testing.T) {
		s := newTestSession()
		s.Votes["bob"] = intPtr(8)
		if err := registerParticipant(s, "bob", "Bobby", now); err != nil {
			t.Fatalf("registerParticipant: %v", err)
		}
		if len(s.Participants) != 2 {
			t.Errorf("rejoin duplicated participant: %d entries", len(s.Participants))
		}
		if s.FindParticipant("bob").DisplayName != "Bobby" {
			t.Error("rejoin did not refresh display name")
		}
		if point := s.Votes["bob"]; point == nil || *point != 8 {
			t.Errorf("rejoin reset bob's vote: %v", point)
		}
	})

	t.Run("empty user id is rejected", func(t *testing.T) {
		s := newTestSession()
		err := registerParticipant(s, "", "Nobody", now)
		if got := apperrors.CodeOf(err); got != apperrors.CodeValidation {
			t.Fatalf("error code = %s, want %s", got, apperrors.CodeValidation)
		}
	})
}

func TestRemoveParticipant(t *testing.T) {
	t.Run("facilitator departure promotes longest joined", func(t *testing.T) {
		s := newTestSession()
		if err := removeParticipant(s, "alice"); err != nil {
			t.Fatalf("removeParticipant: %v", err)
		}
		if s.FacilitatorID != "bob" {
			t.Errorf("facilitatorId = %s, want bob", s.FacilitatorID)
		}
		if _, ok := s.Votes["alice"]; ok {
			t.Error("departed participant kept a vote entry")
		}
	})

	t.Run("last departure leaves stale facilitator ref", func(t *testing.T) {
		s := newTestSession()
		if err := removeParticipant(s, "bob"); err != nil {
			t.Fatalf("removeParticipant: %v", err)
		}
		if err := removeParticipant(s, "alice"); err != nil {
			t.Fatalf("removeParticipant: %v", err)
		}
		if len(s.Participants) != 0 {
			t.Errorf("participants = %d, want 0", len(s.Participants))
		}
		if s.FacilitatorID != "alice" {
			t.Errorf("facilitatorId = %s, want dangling alice", s.FacilitatorID)
		}
	})

	t.Run("unknown user is a no-op", func(t *testing.T) {
		s := newTestSession()
		if err := removeParticipant(s, "mallory"); err != nil {
			t.Fatalf("removeParticipant: %v", err)
		}
		if len(s.Participants) != 2 {
			t.Errorf("participants = %d, want 2", len(s.Participants))
		}
	})
}

func TestDelegateFacilitator(t *testing.T) {
	tests := []struct {
		name     string
		actorID  string
		targetID string
		wantErr  apperrors.Code
		wantFac  string
	}{
		{"facilitator delegates", "alice", "bob", "", "bob"},
		{"non-facilitator is rejected", "bob", "bob", apperrors.CodeUnauthorized, "alice"},
		{"target must be a participant", "alice", "mallory", apperrors.CodeValidation, "alice"},
		{"self delegation is a no-op", "alice", "alice", "", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			err := delegateFacilitator(s, tt.actorID, tt.targetID)
			if tt.wantErr != "" {
				if got := apperrors.CodeOf(err); got != tt.wantErr {
					t.Fatalf("error code = %s, want %s", got, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("delegateFacilitator: %v", err)
			}
			if s.FacilitatorID != tt.wantFac {
				t.Errorf("facilitatorId = %s, want %s", s.FacilitatorID, tt.wantFac)
			}
		})
	}
}
