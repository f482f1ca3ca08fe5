// Package transcript reduces streamed protocol events into an ordered,
// display-ready transcript of text and tool entries.
package transcript

import "github.com/opencode-ai/streamctl/internal/models"

// TurnStatus is the status of the session's current turn.
type TurnStatus string

const (
	TurnStatusIdle      TurnStatus = "idle"
	TurnStatusStreaming TurnStatus = "streaming"
	TurnStatusError     TurnStatus = "error"
)

// Outcome records how the last turn ended.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeCompleted  Outcome = "completed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
	OutcomeIncomplete Outcome = "incomplete"
)

// Status notes shown to the user.
const (
	NoteThinking = "Thinking..."
	NoteReady    = "Ready"
)

func noteUsing(tool string) string   { return "Using " + tool + "..." }
func noteRunning(tool string) string { return "Running " + tool + "..." }

// State is the reducer-owned view of a session transcript.
type State struct {
	Entries []models.Entry `json:"entries"`

	Status  TurnStatus `json:"status"`
	Outcome Outcome    `json:"outcome,omitempty"`
	Note    string     `json:"note,omitempty"`
	Error   string     `json:"error,omitempty"`

	// SyncWarning is set when the last history reconciliation gave up.
	SyncWarning string `json:"sync_warning,omitempty"`

	Turn   int    `json:"turn"`
	TurnID string `json:"turn_id,omitempty"`

	TurnUsage  models.Usage `json:"turn_usage"`
	TotalUsage models.Usage `json:"total_usage"`
	TurnSteps  int          `json:"turn_steps"`
	TotalSteps int          `json:"total_steps"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Entries = cloneEntries(s.Entries)
	return out
}

// Streaming reports whether a turn is in progress.
func (s State) Streaming() bool {
	return s.Status == TurnStatusStreaming
}

// Tools returns the tool entries in order.
func (s State) Tools() []models.Entry {
	var out []models.Entry
	for _, e := range s.Entries {
		if e.IsTool() {
			out = append(out, e)
		}
	}
	return out
}

func cloneEntries(entries []models.Entry) []models.Entry {
	if entries == nil {
		return nil
	}
	out := make([]models.Entry, len(entries))
	copy(out, entries)
	return out
}
