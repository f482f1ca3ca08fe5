package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/streamctl/internal/adapters"
	"github.com/opencode-ai/streamctl/internal/logging"
	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

// HistoryFetcher loads a session's stored history.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, sessionID string) ([]models.StoredMessage, error)
}

// ReconcileConfig bounds history fetch retries.
type ReconcileConfig struct {
	// MaxAttempts is the number of fetches, including the first.
	MaxAttempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// AttemptTimeout bounds each fetch.
	AttemptTimeout time.Duration
}

// DefaultReconcileConfig returns the default retry bounds.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MaxAttempts:    3,
		Backoff:        500 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
	}
}

// SyncError is returned when reconciliation gave up.
type SyncError struct {
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("history sync failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ReconcileResult is a rebuilt transcript.
type ReconcileResult struct {
	Entries  []models.Entry
	Attempts int
}

// Reconciler fetches stored history and rebuilds transcript entries from it.
type Reconciler struct {
	fetcher HistoryFetcher
	cfg     ReconcileConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReconciler returns a reconciler over fetcher. m may be nil.
func NewReconciler(fetcher HistoryFetcher, cfg ReconcileConfig, m *metrics.Metrics) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Reconciler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.Component("reconciler"),
		metrics: m,
		sleep:   sleepContext,
	}
}

// Reconcile fetches the history of sessionID, retrying transient failures.
// Non-retryable errors and cancellation stop immediately.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string) (ReconcileResult, error) {
	if r.fetcher == nil {
		return ReconcileResult{}, errors.New("history fetcher is required")
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		history, err := r.fetch(ctx, sessionID)
		if err == nil {
			r.metrics.ReconcileAttempt("success")
			return ReconcileResult{Entries: transcript.Rebuild(history), Attempts: attempt}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			r.metrics.ReconcileAttempt("failed")
			return ReconcileResult{Attempts: attempt}, ctx.Err()
		}
		if !adapters.IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			r.metrics.ReconcileAttempt("failed")
			return ReconcileResult{Attempts: attempt}, &SyncError{Attempts: attempt, Err: err}
		}

		r.metrics.ReconcileAttempt("retry")
		r.logger.Debug().
			Err(err).
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Dur("backoff", r.cfg.Backoff).
			Msg("history fetch failed, retrying")

		if err := r.sleep(ctx, r.cfg.Backoff); err != nil {
			return ReconcileResult{Attempts: attempt}, err
		}
	}

	return ReconcileResult{Attempts: r.cfg.MaxAttempts}, &SyncError{Attempts: r.cfg.MaxAttempts, Err: lastErr}
}

func (r *Reconciler) fetch(ctx context.Context, sessionID string) ([]models.StoredMessage, error) {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	return r.fetcher.FetchHistory(ctx, sessionID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
