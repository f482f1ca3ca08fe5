package events

import (
	"context"
	"errors"
	"sync"

	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/models"
)

// Sink receives session audit events and per-turn usage.
type Sink interface {
	Repository
	RecordUsage(ctx context.Context, record *models.UsageRecord) error
	Close() error
}

// NoopSink drops everything.
type NoopSink struct{}

// Append ignores events.
func (NoopSink) Append(context.Context, *models.Event) error { return nil }

// RecordUsage ignores usage.
func (NoopSink) RecordUsage(context.Context, *models.UsageRecord) error { return nil }

// Close is a no-op.
func (NoopSink) Close() error { return nil }

// DatabaseSink writes to the SQLite event log and usage table.
type DatabaseSink struct {
	mu       sync.Mutex
	events   *db.EventRepository
	usage    *db.UsageRepository
	database *db.DB
}

// NewDatabaseSink creates a database-backed sink. Close closes database.
func NewDatabaseSink(database *db.DB) *DatabaseSink {
	s := &DatabaseSink{database: database}
	if database != nil {
		s.events = db.NewEventRepository(database)
		s.usage = db.NewUsageRepository(database)
	}
	return s
}

// Append persists an event.
func (s *DatabaseSink) Append(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events == nil {
		return errors.New("event repository is required")
	}
	return s.events.Append(ctx, event)
}

// RecordUsage persists a usage record.
func (s *DatabaseSink) RecordUsage(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usage == nil {
		return errors.New("usage repository is required")
	}
	return s.usage.Create(ctx, record)
}

// Close closes the underlying database connection if present.
func (s *DatabaseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

// MemorySink keeps everything in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []*models.Event
	usage  []*models.UsageRecord
}

// Append stores a copy of event.
func (s *MemorySink) Append(_ context.Context, event *models.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *event
	s.events = append(s.events, &e)
	return nil
}

// RecordUsage stores a copy of record.
func (s *MemorySink) RecordUsage(_ context.Context, record *models.UsageRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *record
	s.usage = append(s.usage, &r)
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

// Events returns the stored events.
func (s *MemorySink) Events() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the stored event types in order.
func (s *MemorySink) Types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// Usage returns the stored usage records.
func (s *MemorySink) Usage() []*models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}
