package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/streamctl/internal/config"
	"github.com/opencode-ai/streamctl/internal/events"
	"github.com/opencode-ai/streamctl/internal/logging"
	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/stream"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

// Session errors.
var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrMessageRequired   = errors.New("message is required")
	ErrStreamFailed      = errors.New("message stream failed")
)

// Handle identifies the session and agent a transcript belongs to.
type Handle struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// Streamer opens a message event stream.
type Streamer interface {
	StreamMessage(ctx context.Context, sessionID, agentID, message string) (io.ReadCloser, error)
}

// Client is the server surface a session needs.
type Client interface {
	Streamer
	HistoryFetcher
}

// Config tunes the turn pipeline.
type Config struct {
	// ReconcileOnDone refetches history after completed or incomplete turns.
	ReconcileOnDone bool

	// ReadBuffer is the size of each stream read.
	ReadBuffer int

	// DebugFrames is how many recent frames are kept for failure logs.
	DebugFrames int

	Reconcile ReconcileConfig
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		ReconcileOnDone: true,
		ReadBuffer:      4096,
		DebugFrames:     16,
		Reconcile:       DefaultReconcileConfig(),
	}
}

// ConfigFrom maps application config onto pipeline settings.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		ReconcileOnDone: cfg.Reconcile.OnDone,
		ReadBuffer:      cfg.Stream.ReadBuffer,
		DebugFrames:     cfg.Stream.DebugFrames,
		Reconcile: ReconcileConfig{
			MaxAttempts:    cfg.Reconcile.MaxAttempts,
			Backoff:        cfg.Reconcile.Backoff,
			AttemptTimeout: cfg.Reconcile.AttemptTimeout,
		},
	}
}

// TurnResult summarizes one Send.
type TurnResult struct {
	TurnID   string
	Outcome  transcript.Outcome
	Duration time.Duration
	State    transcript.State
}

// Subscriber receives a snapshot after every visible change.
type Subscriber func(state transcript.State)

// Option configures a Session.
type Option func(*Session)

// WithConfig sets pipeline settings.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithSink records audit events and usage on sink.
func WithSink(sink events.Sink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithLogger sets the session's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
		s.hasLogger = true
	}
}

// Session is one conversation with an agent. Send calls are serialized: a
// new Send cancels the active turn and waits for it to wind down.
type Session struct {
	handle Handle
	client Client
	cfg    Config

	ctrl  Controller
	runMu sync.Mutex

	stateMu sync.RWMutex
	reducer *transcript.Reducer

	subsMu sync.Mutex
	subs   map[string]Subscriber

	reconciler *Reconciler
	sink       events.Sink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	hasLogger  bool
}

// New returns an idle session.
func New(handle Handle, client Client, opts ...Option) *Session {
	s := &Session{
		handle: handle,
		client: client,
		cfg:    DefaultConfig(),
		subs:   make(map[string]Subscriber),
		sink:   events.NoopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.hasLogger {
		s.logger = logging.Component("session")
	}
	s.logger = s.logger.With().Str("session_id", handle.SessionID).Logger()

	s.reducer = transcript.NewReducer(
		transcript.WithLogger(s.logger),
		transcript.WithMetrics(s.metrics),
	)
	s.reconciler = NewReconciler(client, s.cfg.Reconcile, s.metrics)
	return s
}

// Handle returns the session's identity.
func (s *Session) Handle() Handle {
	return s.handle
}

// Snapshot returns a copy of the current transcript state.
func (s *Session) Snapshot() transcript.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.reducer.Snapshot()
}

// Subscribe registers fn under name, replacing any previous subscriber with
// that name. The returned func removes it.
func (s *Session) Subscribe(name string, fn Subscriber) func() {
	s.subsMu.Lock()
	s.subs[name] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, name)
		s.subsMu.Unlock()
	}
}

// Cancel stops the active turn. It reports whether a turn was active.
func (s *Session) Cancel() bool {
	return s.ctrl.Cancel()
}

// Active reports whether a turn holds the cancellation token.
func (s *Session) Active() bool {
	return s.ctrl.Active()
}

// Send streams one turn for message. It returns once the turn finished and
// any follow-up reconciliation completed. The error is non-nil only when the
// transport failed; cancellation and server-reported errors are outcomes.
func (s *Session) Send(ctx context.Context, message string) (TurnResult, error) {
	if s.handle.SessionID == "" {
		return TurnResult{}, ErrSessionIDRequired
	}
	if message == "" {
		return TurnResult{}, ErrMessageRequired
	}

	turnCtx, tok := s.ctrl.Start(ctx)
	defer s.ctrl.Release(tok)

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := turnCtx.Err(); err != nil {
		// Superseded before the previous turn let go of the pipeline.
		return TurnResult{Outcome: transcript.OutcomeCancelled, State: s.Snapshot()}, nil
	}

	started := time.Now()
	var turnID string
	s.mutate(func(r *transcript.Reducer) transcript.Effect {
		turnID = r.BeginTurn(message)
		return transcript.Effect{Changed: true}
	})

	logger := s.logger.With().Str("turn_id", turnID).Logger()
	logger.Debug().Str("agent_id", s.handle.AgentID).Msg("turn started")
	s.record("turn.started", func(sink events.Sink) error {
		return events.LogTurnStarted(ctx, sink, s.handle.SessionID, models.TurnStartedPayload{
			TurnID:  turnID,
			AgentID: s.handle.AgentID,
			Message: message,
		})
	})

	s.metrics.StreamStarted()
	eff, streamErr := s.pump(turnCtx, logger, message)
	s.metrics.StreamEnded()

	state := s.Snapshot()
	result := TurnResult{
		TurnID:   turnID,
		Outcome:  state.Outcome,
		Duration: time.Since(started),
	}
	s.recordFinished(ctx, state, result)

	if eff.Reconcile && s.cfg.ReconcileOnDone {
		s.reconcile(turnCtx, logger)
	}

	result.State = s.Snapshot()
	if streamErr != nil {
		return result, fmt.Errorf("%w: %v", ErrStreamFailed, streamErr)
	}
	return result, nil
}

// Reconcile replaces the transcript with the server's stored history. It
// waits for any active turn to finish first.
func (s *Session) Reconcile(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.reconciler.Reconcile(ctx, s.handle.SessionID)
	if err != nil {
		return err
	}
	return s.applyHistory(ctx, res)
}

// pump drains the stream into the reducer until the turn finalizes or the
// stream ends. The returned error is the transport failure, if any.
func (s *Session) pump(ctx context.Context, logger zerolog.Logger, message string) (transcript.Effect, error) {
	body, err := s.client.StreamMessage(ctx, s.handle.SessionID, s.handle.AgentID, message)
	if err != nil {
		if ctx.Err() != nil {
			return s.mutate(cancelTurn), nil
		}
		logger.Warn().Err(err).Msg("failed to open message stream")
		return s.mutate(failTurn(err)), err
	}
	defer body.Close()

	// A read blocked on the network returns once the body is closed.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	scanner := stream.NewScanner(body,
		stream.WithReadBuffer(s.cfg.ReadBuffer),
		stream.WithFrameRing(s.cfg.DebugFrames),
		stream.WithFrameHandler(func(stream.Frame) { s.metrics.FrameDecoded() }),
		stream.WithDropHandler(func(frame stream.Frame, reason error) {
			s.metrics.FrameDropped(stream.DropReason(reason))
			logger.Warn().Err(reason).Str("event", frame.Event).Msg("dropped stream frame")
		}),
	)

	for {
		event, err := scanner.Next(ctx)
		switch {
		case err == nil:
			eff := s.mutate(func(r *transcript.Reducer) transcript.Effect { return r.Apply(event) })
			if eff.Finalized {
				return eff, nil
			}
		case ctx.Err() != nil:
			// Closing the body on cancel may surface as EOF.
			logger.Debug().Msg("turn cancelled")
			return s.mutate(cancelTurn), nil
		case errors.Is(err, io.EOF):
			return s.mutate(endTurn), nil
		default:
			logger.Warn().Err(err).Strs("recent_frames", scanner.Recent()).Msg("message stream failed")
			return s.mutate(failTurn(err)), err
		}
	}
}

func cancelTurn(r *transcript.Reducer) transcript.Effect { return r.Cancel() }

func endTurn(r *transcript.Reducer) transcript.Effect { return r.EndOfStream() }

func failTurn(err error) func(*transcript.Reducer) transcript.Effect {
	return func(r *transcript.Reducer) transcript.Effect { return r.Fail(err) }
}

func (s *Session) reconcile(ctx context.Context, logger zerolog.Logger) {
	res, err := s.reconciler.Reconcile(ctx, s.handle.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug().Msg("history sync cancelled")
			return
		}
		warning := "history sync failed: " + err.Error()
		logger.Warn().Err(err).Int("attempts", res.Attempts).Msg("history sync failed, keeping local transcript")
		s.mutate(func(r *transcript.Reducer) transcript.Effect {
			r.SetSyncWarning(warning)
			return transcript.Effect{Changed: true}
		})
		s.record("history.sync_failed", func(sink events.Sink) error {
			return events.LogHistorySync(context.WithoutCancel(ctx), sink, s.handle.SessionID, models.HistorySyncPayload{
				Attempts: res.Attempts,
				Error:    err.Error(),
			})
		})
		return
	}

	if err := s.applyHistory(context.WithoutCancel(ctx), res); err != nil {
		logger.Warn().Err(err).Msg("failed to apply history")
	}
}

func (s *Session) applyHistory(ctx context.Context, res ReconcileResult) error {
	var applyErr error
	s.mutate(func(r *transcript.Reducer) transcript.Effect {
		applyErr = r.ReplaceEntries(res.Entries)
		return transcript.Effect{Changed: applyErr == nil}
	})
	if applyErr != nil {
		return applyErr
	}

	s.record("history.synced", func(sink events.Sink) error {
		return events.LogHistorySync(ctx, sink, s.handle.SessionID, models.HistorySyncPayload{
			Attempts: res.Attempts,
			Entries:  len(res.Entries),
		})
	})
	return nil
}

func (s *Session) recordFinished(ctx context.Context, state transcript.State, result TurnResult) {
	ctx = context.WithoutCancel(ctx)

	if state.Status == transcript.TurnStatusError {
		s.record("turn.failed", func(sink events.Sink) error {
			return events.LogTurnFailed(ctx, sink, s.handle.SessionID, models.TurnFailedPayload{
				TurnID:  result.TurnID,
				AgentID: s.handle.AgentID,
				Error:   state.Error,
			})
		})
		return
	}

	payload := models.TurnFinishedPayload{
		TurnID:   result.TurnID,
		AgentID:  s.handle.AgentID,
		Entries:  len(state.Entries),
		Duration: result.Duration.Round(time.Millisecond).String(),
	}
	if result.Outcome == transcript.OutcomeCompleted {
		usage := state.TurnUsage
		payload.Usage = &usage
		payload.Steps = state.TurnSteps
	}
	s.record("turn."+string(result.Outcome), func(sink events.Sink) error {
		return events.LogTurnFinished(ctx, sink, s.handle.SessionID, string(result.Outcome), payload)
	})

	if result.Outcome != transcript.OutcomeCompleted {
		return
	}
	s.record("usage", func(sink events.Sink) error {
		return sink.RecordUsage(ctx, &models.UsageRecord{
			SessionID:    s.handle.SessionID,
			AgentID:      s.handle.AgentID,
			TurnID:       result.TurnID,
			InputTokens:  state.TurnUsage.InputTokens,
			OutputTokens: state.TurnUsage.OutputTokens,
			Steps:        int64(state.TurnSteps),
		})
	})
}

// record writes to the sink, logging failures instead of failing the turn.
func (s *Session) record(what string, fn func(events.Sink) error) {
	if err := fn(s.sink); err != nil {
		s.logger.Warn().Err(err).Str("record", what).Msg("failed to record session event")
	}
}

// mutate runs fn under the state lock and notifies subscribers when the
// effect reports a change.
func (s *Session) mutate(fn func(*transcript.Reducer) transcript.Effect) transcript.Effect {
	s.stateMu.Lock()
	eff := fn(s.reducer)
	var snap transcript.State
	if eff.Changed {
		snap = s.reducer.Snapshot()
	}
	s.stateMu.Unlock()

	if eff.Changed {
		s.notify(snap)
	}
	return eff
}

func (s *Session) notify(state transcript.State) {
	s.subsMu.Lock()
	names := make([]string, 0, len(s.subs))
	for name := range s.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	subs := make([]Subscriber, 0, len(names))
	for _, name := range names {
		subs = append(subs, s.subs[name])
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
