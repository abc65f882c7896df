package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/models"
	"github.com/pointdeck/pointdeck/go/internal/session/repository"
)

// DemoSessionID is the fixed id of the seeded demo session.
const DemoSessionID = "sess_demo"

// DemoJoinToken is deliberately stable so a demo client can join
// without going through session creation first.
const DemoJoinToken = "demo-join-token"

// EnsureDemoSession seeds a mid-vote demo session unless one already
// exists. Only wired up when the demo flag is set in config.
func (a *App) EnsureDemoSession(ctx context.Context) error {
	_, err := a.store.Get(ctx, DemoSessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}

	now := a.clock.Now()
	five, eight := 5, 8
	active := "PBI-101"
	sess := &models.Session{
		SessionID:     DemoSessionID,
		Title:         "Demo session: similar PBI review",
		FacilitatorID: "facilitator_demo",
		CreatedAt:     now,
		PBIIDs:        []string{"PBI-101", "PBI-102", "PBI-104"},
		Phase:         models.PhaseVoting,
		Votes: map[string]*int{
			"facilitator_demo": &five,
			"member_1":         nil,
			"member_2":         &eight,
		},
		Participants: []models.Participant{
			{UserID: "facilitator_demo", DisplayName: "Facilitator Demo", JoinedAt: now},
			{UserID: "member_1", DisplayName: "Mika Sato", JoinedAt: now},
			{UserID: "member_2", DisplayName: "Ren Ito", JoinedAt: now},
		},
		ActivePBIID: &active,
	}

	if err := a.store.Upsert(ctx, &repository.Record{
		Session:   sess,
		JoinToken: DemoJoinToken,
	}); err != nil {
		return err
	}

	log.Info().Str("session_id", DemoSessionID).Msg("demo session seeded")
	return nil
}
