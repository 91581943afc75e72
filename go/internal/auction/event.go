package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is the envelope for every outbound auction event. TargetConn is
// empty for events addressed to all subscribers of the session; when set,
// only the named connection receives it.
type Event struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
	TargetConn string          `json:"target_conn,omitempty"`
}

// EventType represents the type of auction event
type EventType string

const (
	EventTypeSessionSnapshot EventType = "SessionSnapshot"
	EventTypeActiveUsers     EventType = "ActiveUsers"
	EventTypeCountdownTick   EventType = "CountdownTick"
	EventTypeSessionStarted  EventType = "SessionStarted"
	EventTypeNewBid          EventType = "NewBid"
	EventTypeBidRejected     EventType = "BidRejected"
	EventTypeCooldownTick    EventType = "CooldownTick"
	EventTypeSessionEnded    EventType = "SessionEnded"
)

// Publisher delivers outbound events to session subscribers. Delivery is
// fire-and-forget: a failed or slow subscriber never affects session state.
type Publisher interface {
	Publish(event Event)
}

func newEvent(sessionID string, eventType EventType, at time.Time, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this only trips on a programming error.
		log.Error().Err(err).Str("session_id", sessionID).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
	}
	return Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}
}

func newDirectEvent(sessionID, connID string, eventType EventType, at time.Time, payload any) Event {
	ev := newEvent(sessionID, eventType, at, payload)
	ev.TargetConn = connID
	return ev
}
