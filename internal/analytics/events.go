package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventChatTurn   EventType = "chat_turn"
)

// Envelope is the wire form of every analytics message; Type selects which
// payload field is set.
type Envelope struct {
	Type   EventType    `json:"type"`
	Search *SearchEvent `json:"search,omitempty"`
	Chat   *ChatEvent   `json:"chat,omitempty"`
}

type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Facets     []string  `json:"facets,omitempty"`
	Sort       string    `json:"sort"`
	TotalCount int       `json:"total_count"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// ChatEvent records the outcome of one chat turn. State is the final
// pipeline state name; Reason is set for rejected and failed turns.
type ChatEvent struct {
	Type           EventType `json:"type"`
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	State          string    `json:"state"`
	Candidates     int       `json:"candidates"`
	Citations      int       `json:"citations"`
	Reason         string    `json:"reason,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Wrap puts a SearchEvent or ChatEvent into an Envelope. Other values yield
// false.
func Wrap(event any) (Envelope, bool) {
	switch e := event.(type) {
	case SearchEvent:
		return Envelope{Type: e.Type, Search: &e}, true
	case *SearchEvent:
		return Envelope{Type: e.Type, Search: e}, true
	case ChatEvent:
		return Envelope{Type: e.Type, Chat: &e}, true
	case *ChatEvent:
		return Envelope{Type: e.Type, Chat: e}, true
	}
	return Envelope{}, false
}
