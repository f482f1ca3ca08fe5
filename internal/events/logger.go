// Package events records session audit events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/streamctl/internal/models"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Append(ctx context.Context, event *models.Event) error
}

// Outcome-specific event types for finished turns.
var finishedTypes = map[string]models.EventType{
	"completed":  models.EventTypeTurnCompleted,
	"cancelled":  models.EventTypeTurnCancelled,
	"incomplete": models.EventTypeTurnIncomplete,
}

// LogTurnStarted records that a turn began streaming.
func LogTurnStarted(ctx context.Context, repo Repository, sessionID string, payload models.TurnStartedPayload) error {
	return logSessionEvent(ctx, repo, sessionID, models.EventTypeTurnStarted, payload)
}

// LogTurnFinished records a turn that ended without a failure. outcome is one
// of completed, cancelled or incomplete.
func LogTurnFinished(ctx context.Context, repo Repository, sessionID, outcome string, payload models.TurnFinishedPayload) error {
	eventType, ok := finishedTypes[outcome]
	if !ok {
		return fmt.Errorf("unknown turn outcome %q", outcome)
	}
	return logSessionEvent(ctx, repo, sessionID, eventType, payload)
}

// LogTurnFailed records a turn that ended in error.
func LogTurnFailed(ctx context.Context, repo Repository, sessionID string, payload models.TurnFailedPayload) error {
	return logSessionEvent(ctx, repo, sessionID, models.EventTypeTurnFailed, payload)
}

// LogHistorySync records the result of a history reconciliation.
func LogHistorySync(ctx context.Context, repo Repository, sessionID string, payload models.HistorySyncPayload) error {
	eventType := models.EventTypeHistorySynced
	if payload.Error != "" {
		eventType = models.EventTypeHistorySyncFailed
	}
	return logSessionEvent(ctx, repo, sessionID, eventType, payload)
}

func logSessionEvent(ctx context.Context, repo Repository, sessionID string, eventType models.EventType, payload any) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeSession,
		EntityID:   sessionID,
		Payload:    data,
	}

	return repo.Append(ctx, event)
}
