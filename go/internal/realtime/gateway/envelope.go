package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/pointdeck/pointdeck/go/internal/apperrors"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

// EventType enumerates the closed set of wire events.
type EventType string

const (
	// Inbound
	EventPing                EventType = "ping"
	EventVoteCast            EventType = "vote_cast"
	EventRevealRequest       EventType = "reveal_request"
	EventResetVotes          EventType = "reset_votes"
	EventFinalizePoint       EventType = "finalize_point"
	EventPBIAdd              EventType = "pbi_add"
	EventPBIRemove           EventType = "pbi_remove"
	EventPBISetActive        EventType = "pbi_set_active"
	EventDelegateFacilitator EventType = "delegate_facilitator"

	// Outbound
	EventStateSync EventType = "state_sync"
	EventError     EventType = "error"
	EventFinalized EventType = "finalized"
)

// Envelope is the uniform wire message for both directions. Version is
// a server-assigned ordering hint (unix millis), not a strict sequence
// number.
type Envelope struct {
	SessionID string          `json:"sessionId"`
	Event     EventType       `json:"event"`
	Version   int64           `json:"version,omitempty"`
	Nonce     string          `json:"nonce,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Inbound payload shapes. Pointer fields distinguish "absent" from
// zero values so boundary validation can reject incomplete commands
// before they reach the state machine.

type VoteCastPayload struct {
	UserID string `json:"userId"`
	Point  *int   `json:"point"`
}

type RevealRequestPayload struct {
	UserID string `json:"userId"`
}

type ResetVotesPayload struct {
	UserID string `json:"userId"`
}

type FinalizePointPayload struct {
	UserID     string  `json:"userId"`
	FinalPoint *int    `json:"finalPoint"`
	Memo       *string `json:"memo"`
}

type PBIPayload struct {
	UserID string `json:"userId"`
	PBIID  string `json:"pbiId"`
}

type DelegateFacilitatorPayload struct {
	UserID     string `json:"userId"`
	DelegateTo string `json:"delegateTo"`
}

// Outbound payload shapes.

type ErrorPayload struct {
	Message string `json:"message"`
}

type FinalizedPayload struct {
	FinalPoint    int    `json:"finalPoint"`
	Memo          string `json:"memo,omitempty"`
	CatalogSynced bool   `json:"catalogSynced"`
}

// DecodeEnvelope parses a raw frame into an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Validation("malformed envelope: %v", err)
	}
	if env.Event == "" {
		return nil, apperrors.Validation("envelope is missing the event field")
	}
	return &env, nil
}

// ParseInboundPayload validates the envelope's payload against its
// event and returns the typed payload struct. Unknown events and
// missing required fields are rejected here, before any state is
// touched.
func ParseInboundPayload(env *Envelope) (any, error) {
	switch env.Event {
	case EventPing:
		return nil, nil

	case EventVoteCast:
		var payload VoteCastPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed vote_cast payload: %v", err)
		}
		if payload.UserID == "" || payload.Point == nil {
			return nil, apperrors.Validation("vote_cast requires userId and point")
		}
		return payload, nil

	case EventRevealRequest:
		var payload RevealRequestPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed reveal_request payload: %v", err)
		}
		if payload.UserID == "" {
			return nil, apperrors.Validation("reveal_request requires userId")
		}
		return payload, nil

	case EventResetVotes:
		var payload ResetVotesPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed reset_votes payload: %v", err)
		}
		if payload.UserID == "" {
			return nil, apperrors.Validation("reset_votes requires userId")
		}
		return payload, nil

	case EventFinalizePoint:
		var payload FinalizePointPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed finalize_point payload: %v", err)
		}
		if payload.UserID == "" || payload.FinalPoint == nil {
			return nil, apperrors.Validation("finalize_point requires userId and finalPoint")
		}
		return payload, nil

	case EventPBIAdd, EventPBIRemove, EventPBISetActive:
		var payload PBIPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed %s payload: %v", env.Event, err)
		}
		if payload.UserID == "" || payload.PBIID == "" {
			return nil, apperrors.Validation("%s requires userId and pbiId", env.Event)
		}
		return payload, nil

	case EventDelegateFacilitator:
		var payload DelegateFacilitatorPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, apperrors.Validation("malformed delegate_facilitator payload: %v", err)
		}
		if payload.UserID == "" || payload.DelegateTo == "" {
			return nil, apperrors.Validation("delegate_facilitator requires userId and delegateTo")
		}
		return payload, nil

	default:
		return nil, apperrors.Validation("unknown event %q", env.Event)
	}
}

// NewStateSync builds the authoritative snapshot broadcast.
func NewStateSync(sessionID string, sess *models.Session, version int64) (*Envelope, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal state_sync payload: %w", err)
	}
	return &Envelope{
		SessionID: sessionID,
		Event:     EventStateSync,
		Version:   version,
		Payload:   payload,
	}, nil
}

// NewErrorEnvelope builds the error reply sent to the originating
// connection only.
func NewErrorEnvelope(sessionID, message string) *Envelope {
	payload, _ := json.Marshal(ErrorPayload{Message: message})
	return &Envelope{
		SessionID: sessionID,
		Event:     EventError,
		Payload:   payload,
	}
}

// NewFinalized builds the phase-only finalize signal kept for older
// clients that do not inspect state_sync.
func NewFinalized(sessionID string, finalPoint int, memo string, catalogSynced bool, version int64) *Envelope {
	payload, _ := json.Marshal(FinalizedPayload{
		FinalPoint:    finalPoint,
		Memo:          memo,
		CatalogSynced: catalogSynced,
	})
	return &Envelope{
		SessionID: sessionID,
		Event:     EventFinalized,
		Version:   version,
		Payload:   payload,
	}
}
