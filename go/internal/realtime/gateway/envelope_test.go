package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid envelope", `{"sessionId":"sess_1","event":"vote_cast","payload":{"userId":"alice","point":5}}`, false},
		{"not json", `{{{`, true},
		{"missing event", `{"sessionId":"sess_1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := apperrors.CodeOf(err); got != apperrors.CodeValidation {
					t.Errorf("error code = %s, want %s", got, apperrors.CodeValidation)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if env.Event != EventVoteCast {
				t.Errorf("event = %s, want %s", env.Event, EventVoteCast)
			}
		})
	}
}

func TestParseInboundPayload(t *testing.T) {
	tests := []struct {
		name    string
		event   EventType
		payload string
		wantErr bool
	}{
		{"ping has no payload", EventPing, ``, false},
		{"vote with point", EventVoteCast, `{"userId":"alice","point":5}`, false},
		{"vote with zero point", EventVoteCast, `{"userId":"alice","point":0}`, false},
		{"vote without point", EventVoteCast, `{"userId":"alice"}`, true},
		{"vote without user", EventVoteCast, `{"point":5}`, true},
		{"reveal", EventRevealRequest, `{"userId":"alice"}`, false},
		{"reveal without user", EventRevealRequest, `{}`, true},
		{"reset", EventResetVotes, `{"userId":"alice"}`, false},
		{"finalize", EventFinalizePoint, `{"userId":"alice","finalPoint":8,"memo":"ok"}`, false},
		{"finalize without point", EventFinalizePoint, `{"userId":"alice"}`, true},
		{"pbi add", EventPBIAdd, `{"userId":"alice","pbiId":"PBI-1"}`, false},
		{"pbi add without id", EventPBIAdd, `{"userId":"alice"}`, true},
		{"pbi remove", EventPBIRemove, `{"userId":"alice","pbiId":"PBI-1"}`, false},
		{"pbi set active", EventPBISetActive, `{"userId":"alice","pbiId":"PBI-1"}`, false},
		{"delegate", EventDelegateFacilitator, `{"userId":"alice","delegateTo":"bob"}`, false},
		{"delegate without target", EventDelegateFacilitator, `{"userId":"alice"}`, true},
		{"unknown event", EventType("self_destruct"), `{}`, true},
		{"server-only event rejected inbound", EventStateSync, `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{SessionID: "sess_1", Event: tt.event}
			if tt.payload != "" {
				env.Payload = json.RawMessage(tt.payload)
			}
			_, err := ParseInboundPayload(env)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := apperrors.CodeOf(err); got != apperrors.CodeValidation {
					t.Errorf("error code = %s, want %s", got, apperrors.CodeValidation)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInboundPayload: %v", err)
			}
		})
	}
}

func TestParseInboundPayloadZeroPointSurvives(t *testing.T) {
	env := &Envelope{
		Event:   EventVoteCast,
		Payload: json.RawMessage(`{"userId":"alice","point":0}`),
	}
	payload, err := ParseInboundPayload(env)
	if err != nil {
		t.Fatalf("ParseInboundPayload: %v", err)
	}
	vote, ok := payload.(VoteCastPayload)
	if !ok {
		t.Fatalf("payload type = %T, want VoteCastPayload", payload)
	}
	if vote.Point == nil || *vote.Point != 0 {
		t.Errorf("point = %v, want 0", vote.Point)
	}
}

func TestNewStateSyncCarriesFullSnapshot(t *testing.T) {
	five := 5
	active := "PBI-1"
	sess := &models.Session{
		SessionID:     "sess_1",
		Title:         "refinement",
		FacilitatorID: "alice",
		CreatedAt:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		PBIIDs:        []string{"PBI-1", "PBI-2"},
		Phase:         models.PhaseVoting,
		Votes:         map[string]*int{"alice": &five, "bob": nil},
		Participants: []models.Participant{
			{UserID: "alice", DisplayName: "Alice"},
			{UserID: "bob", DisplayName: "Bob"},
		},
		ActivePBIID: &active,
	}

	env, err := NewStateSync("sess_1", sess, 1748772000000)
	if err != nil {
		t.Fatalf("NewStateSync: %v", err)
	}
	if env.Event != EventStateSync {
		t.Errorf("event = %s, want %s", env.Event, EventStateSync)
	}
	if env.Version != 1748772000000 {
		t.Errorf("version = %d", env.Version)
	}

	var decoded models.Session
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Phase != models.PhaseVoting {
		t.Errorf("phase = %s, want %s", decoded.Phase, models.PhaseVoting)
	}
	if point := decoded.Votes["alice"]; point == nil || *point != 5 {
		t.Errorf("alice vote = %v, want 5", point)
	}
	if point, ok := decoded.Votes["bob"]; !ok || point != nil {
		t.Errorf("bob vote = %v, want explicit null", point)
	}
	if decoded.ActivePBIID == nil || *decoded.ActivePBIID != "PBI-1" {
		t.Errorf("activePbiId = %v, want PBI-1", decoded.ActivePBIID)
	}
}

func TestNewErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope("sess_1", "point 4 is not in the accepted point scale")
	if env.Event != EventError {
		t.Errorf("event = %s, want %s", env.Event, EventError)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Message == "" {
		t.Error("error payload has no message")
	}
}
