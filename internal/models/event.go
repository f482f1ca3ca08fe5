package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes audit events recorded for sessions.
type EventType string

const (
	// Turn events
	EventTypeTurnStarted    EventType = "turn.started"
	EventTypeTurnCompleted  EventType = "turn.completed"
	EventTypeTurnCancelled  EventType = "turn.cancelled"
	EventTypeTurnFailed     EventType = "turn.failed"
	EventTypeTurnIncomplete EventType = "turn.incomplete"

	// History events
	EventTypeHistorySynced     EventType = "history.synced"
	EventTypeHistorySyncFailed EventType = "history.sync_failed"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeSession EntityType = "session"
	EntityTypeSystem  EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the event is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	return validation.Err()
}

// TurnStartedPayload is the payload for turn.started events.
type TurnStartedPayload struct {
	TurnID  string `json:"turn_id"`
	AgentID string `json:"agent_id"`
	Message string `json:"message,omitempty"`
}

// TurnFinishedPayload is the payload for turn.completed, turn.cancelled and
// turn.incomplete events.
type TurnFinishedPayload struct {
	TurnID   string `json:"turn_id"`
	AgentID  string `json:"agent_id"`
	Entries  int    `json:"entries"`
	Duration string `json:"duration"`
	Usage    *Usage `json:"usage,omitempty"`
	Steps    int    `json:"steps,omitempty"`
}

// TurnFailedPayload is the payload for turn.failed events.
type TurnFailedPayload struct {
	TurnID  string `json:"turn_id"`
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
}

// HistorySyncPayload is the payload for history.synced and history.sync_failed events.
type HistorySyncPayload struct {
	Attempts int    `json:"attempts"`
	Entries  int    `json:"entries,omitempty"`
	Error    string `json:"error,omitempty"`
}
