package chat

import (
	"context"
	"time"
)

// Review is a rejected turn kept for offline inspection.
type Review struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	IdentityID     string    `json:"identity_id,omitempty"`
	Utterance      string    `json:"utterance"`
	Candidates     []string  `json:"candidates"`
	RawOutput      string    `json:"raw_output"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

// ReviewSink stores rejected turns.
type ReviewSink interface {
	Record(ctx context.Context, r Review) error
}
