package transcript

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/streamctl/internal/logging"
	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/models"
)

// ErrTurnActive is returned when an operation requires an idle transcript.
var ErrTurnActive = errors.New("a turn is still streaming")

// Effect describes the consequences of applying one event.
type Effect struct {
	// Changed is set when the state visibly changed.
	Changed bool

	// Finalized is set when the event ended the turn.
	Finalized bool

	// Reconcile asks the caller to refetch authoritative history.
	Reconcile bool
}

// Reducer owns a session's transcript state and applies stream events to it.
// A Reducer is not safe for concurrent use.
type Reducer struct {
	state     State
	corr      *Correlator
	turnStart int

	logger    zerolog.Logger
	metrics   *metrics.Metrics
	newTurnID func() string
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the reducer's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reducer) {
		r.logger = logger
	}
}

// WithMetrics records applied events, misses and turn outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reducer) {
		r.metrics = m
	}
}

// WithTurnIDs overrides turn id generation.
func WithTurnIDs(fn func() string) Option {
	return func(r *Reducer) {
		if fn != nil {
			r.newTurnID = fn
		}
	}
}

// NewReducer returns an idle reducer with an empty transcript.
func NewReducer(opts ...Option) *Reducer {
	r := &Reducer{
		state:     State{Status: TurnStatusIdle, Note: NoteReady},
		logger:    logging.Component("transcript"),
		newTurnID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.corr = NewCorrelator(&r.state, r.onMiss)
	return r
}

// BeginTurn starts a new turn and returns its id. A non-empty userText is
// appended as a user entry.
func (r *Reducer) BeginTurn(userText string) string {
	if r.state.Streaming() {
		r.logger.Warn().Str("turn_id", r.state.TurnID).Msg("turn started while previous turn still streaming")
	}

	r.corr.Reset()
	r.state.Turn++
	r.state.TurnID = r.newTurnID()
	r.state.Status = TurnStatusStreaming
	r.state.Outcome = OutcomeNone
	r.state.Note = NoteThinking
	r.state.Error = ""
	r.state.TurnUsage = models.Usage{}
	r.state.TurnSteps = 0
	r.turnStart = len(r.state.Entries)

	if userText != "" {
		r.state.Entries = append(r.state.Entries, models.NewTextEntry(models.RoleUser, userText))
	}
	return r.state.TurnID
}

// Apply applies one event to the transcript.
func (r *Reducer) Apply(event models.StreamEvent) Effect {
	if event == nil {
		return Effect{}
	}
	if !r.state.Streaming() {
		r.onMiss(MissLateEvent, fmt.Sprintf("%s after turn finalized", event.Kind()))
		return Effect{}
	}

	r.metrics.EventApplied(string(event.Kind()))

	switch ev := event.(type) {
	case *models.MessageStart:
		return Effect{Changed: r.openTextRun()}

	case *models.ContentBlockStart:
		switch ev.Block.Type {
		case models.BlockTypeToolUse:
			id := ev.Block.ID
			if id == "" {
				id = r.synthesizeToolID(ev.Index)
			}
			if !r.corr.Open(ev.Index, id, ev.Block.Name) {
				return Effect{}
			}
			r.state.Note = noteUsing(ev.Block.Name)
			return Effect{Changed: true}
		case models.BlockTypeText:
			return Effect{Changed: r.openTextRun()}
		default:
			r.logger.Debug().Int("index", ev.Index).Str("block_type", string(ev.Block.Type)).Msg("ignoring unknown content block")
			return Effect{}
		}

	case *models.TextDelta:
		if ev.Text == "" {
			return Effect{}
		}
		r.appendText(ev.Text)
		return Effect{Changed: true}

	case *models.InputJSONDelta:
		return Effect{Changed: r.corr.AppendInput(ev.Index, ev.InputJSON)}

	case *models.ContentBlockStop:
		name, ok := r.corr.Close(ev.Index)
		if ok {
			r.state.Note = noteRunning(name)
		}
		return Effect{Changed: ok}

	case *models.ToolResult:
		res := r.corr.ResolveResult(ResultRef{ToolUseID: ev.ToolUseID, Index: ev.Index}, ev.Text, ev.IsError)
		return Effect{Changed: res != ResolvedIgnored}

	case *models.Done:
		if ev.Usage != nil {
			r.state.TurnUsage = *ev.Usage
			r.state.TotalUsage.InputTokens += ev.Usage.InputTokens
			r.state.TotalUsage.OutputTokens += ev.Usage.OutputTokens
		}
		r.state.TurnSteps = ev.Steps
		r.state.TotalSteps += ev.Steps
		r.finish(TurnStatusIdle, OutcomeCompleted)
		return Effect{Changed: true, Finalized: true, Reconcile: true}

	case *models.ErrorEvent:
		r.state.Error = ev.Message
		r.finish(TurnStatusError, OutcomeFailed)
		return Effect{Changed: true, Finalized: true}

	case *models.UnknownEvent:
		r.logger.Debug().Str("event", ev.Name).Msg("ignoring unknown stream event")
		return Effect{}

	default:
		r.logger.Debug().Str("kind", string(event.Kind())).Msg("ignoring unhandled stream event")
		return Effect{}
	}
}

// Cancel ends the current turn as cancelled. Entries are left as they are;
// tools still running stay running.
func (r *Reducer) Cancel() Effect {
	if !r.state.Streaming() {
		return Effect{}
	}
	r.finish(TurnStatusIdle, OutcomeCancelled)
	return Effect{Changed: true, Finalized: true}
}

// Fail ends the current turn because the transport failed.
func (r *Reducer) Fail(err error) Effect {
	if !r.state.Streaming() {
		return Effect{}
	}
	if err != nil {
		r.state.Error = err.Error()
	}
	r.finish(TurnStatusError, OutcomeFailed)
	return Effect{Changed: true, Finalized: true}
}

// EndOfStream is called when the stream closed. A turn that saw neither done
// nor error is finalized as incomplete and its history should be refetched.
func (r *Reducer) EndOfStream() Effect {
	if !r.state.Streaming() {
		return Effect{}
	}
	r.logger.Warn().Str("turn_id", r.state.TurnID).Msg("stream ended without done event")
	r.finish(TurnStatusIdle, OutcomeIncomplete)
	return Effect{Changed: true, Finalized: true, Reconcile: true}
}

// ReplaceEntries swaps the transcript for an authoritative sequence.
func (r *Reducer) ReplaceEntries(entries []models.Entry) error {
	if r.state.Streaming() {
		return ErrTurnActive
	}
	r.state.Entries = cloneEntries(entries)
	r.corr.Reset()
	r.turnStart = len(r.state.Entries)
	r.state.SyncWarning = ""
	return nil
}

// SetSyncWarning records a non-fatal reconciliation failure.
func (r *Reducer) SetSyncWarning(msg string) {
	r.state.SyncWarning = msg
}

// Snapshot returns a deep copy of the current state.
func (r *Reducer) Snapshot() State {
	return r.state.Clone()
}

// Streaming reports whether a turn is in progress.
func (r *Reducer) Streaming() bool {
	return r.state.Streaming()
}

func (r *Reducer) finish(status TurnStatus, outcome Outcome) {
	r.state.Status = status
	r.state.Outcome = outcome
	if status == TurnStatusIdle {
		r.state.Note = NoteReady
	} else {
		r.state.Note = ""
	}
	r.metrics.TurnFinished(string(outcome))
}

// openTextRun appends an empty assistant entry unless the tail already is one
// from this turn.
func (r *Reducer) openTextRun() bool {
	if n := len(r.state.Entries); n > r.turnStart && r.state.Entries[n-1].IsAssistantText() {
		return false
	}
	r.state.Entries = append(r.state.Entries, models.NewTextEntry(models.RoleAssistant, ""))
	return true
}

// appendText extends the nearest assistant entry in this turn, creating one
// when the turn has none.
func (r *Reducer) appendText(text string) {
	for i := len(r.state.Entries) - 1; i >= r.turnStart; i-- {
		if r.state.Entries[i].IsAssistantText() {
			r.state.Entries[i].Text += text
			return
		}
	}
	r.state.Entries = append(r.state.Entries, models.NewTextEntry(models.RoleAssistant, text))
}

func (r *Reducer) synthesizeToolID(index int) string {
	return fmt.Sprintf("tool_%d_%d", r.state.Turn, index)
}

func (r *Reducer) onMiss(kind MissKind, detail string) {
	r.metrics.CorrelationMiss(string(kind))
	r.logger.Warn().
		Str("turn_id", r.state.TurnID).
		Str("miss", string(kind)).
		Msg(detail)
}
