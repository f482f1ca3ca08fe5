package models

import (
	"time"
)

// UsageRecord is the token usage of one completed turn.
type UsageRecord struct {
	// ID is the unique identifier for the record.
	ID string `json:"id"`

	// SessionID is the session the turn belongs to.
	SessionID string `json:"session_id"`

	// AgentID is the agent that produced the turn (optional).
	AgentID string `json:"agent_id,omitempty"`

	// TurnID identifies the turn within the session (optional).
	TurnID string `json:"turn_id,omitempty"`

	// InputTokens is the number of input tokens used.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the number of output tokens generated.
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens is the total tokens (input + output).
	TotalTokens int64 `json:"total_tokens"`

	// Steps is the number of agent loop steps the turn took.
	Steps int64 `json:"steps"`

	// RecordedAt is when this usage was recorded.
	RecordedAt time.Time `json:"recorded_at"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UsageSummary represents aggregated usage for one session.
type UsageSummary struct {
	// SessionID is the session this summary is for.
	SessionID string `json:"session_id"`

	// InputTokens is the total input tokens.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the total output tokens.
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens is the total tokens.
	TotalTokens int64 `json:"total_tokens"`

	// Steps is the total agent loop steps.
	Steps int64 `json:"steps"`

	// Turns is the number of usage records summarized.
	Turns int64 `json:"turns"`

	// LastRecordedAt is when the newest record was written.
	LastRecordedAt time.Time `json:"last_recorded_at,omitempty"`
}

// UsageQuery defines filters for querying usage.
type UsageQuery struct {
	// SessionID filters by session.
	SessionID *string

	// AgentID filters by agent.
	AgentID *string

	// Since filters to records after this time (inclusive).
	Since *time.Time

	// Until filters to records before this time (exclusive).
	Until *time.Time

	// Limit is the maximum records to return.
	Limit int
}

// Validate checks if the usage record is valid.
func (r *UsageRecord) Validate() error {
	validation := &ValidationErrors{}
	if r.SessionID == "" {
		validation.AddMessage("session_id", "session_id is required")
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 {
		validation.AddMessage("tokens", "token counts must be non-negative")
	}
	if r.Steps < 0 {
		validation.AddMessage("steps", "steps must be non-negative")
	}
	return validation.Err()
}

// CalculateTotalTokens calculates total from input and output.
func (r *UsageRecord) CalculateTotalTokens() {
	r.TotalTokens = r.InputTokens + r.OutputTokens
}
