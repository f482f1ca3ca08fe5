package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/models"
)

// StreamConfig configures event log tailing.
type StreamConfig struct {
	// PollInterval is the delay between polls once caught up.
	PollInterval time.Duration

	// BatchSize is the page size of each poll.
	BatchSize int

	// IncludeExisting writes events recorded before Stream was called.
	IncludeExisting bool

	// Since overrides the start time when IncludeExisting is set.
	Since *time.Time

	// SessionID limits output to one session.
	SessionID string

	// Types limits output to these event types.
	Types []models.EventType
}

// DefaultStreamConfig returns the default tailing settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
	}
}

// EventStreamer writes event log entries as JSON lines while they are
// recorded.
type EventStreamer struct {
	repo   *db.EventRepository
	out    io.Writer
	config StreamConfig
}

// NewEventStreamer creates a streamer over repo.
func NewEventStreamer(repo *db.EventRepository, out io.Writer, config StreamConfig) *EventStreamer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultStreamConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultStreamConfig().BatchSize
	}
	return &EventStreamer{repo: repo, out: out, config: config}
}

// Stream polls until ctx is done. Cancellation is not an error.
func (s *EventStreamer) Stream(ctx context.Context) error {
	since := time.Now().UTC()
	if s.config.IncludeExisting {
		since = time.Time{}
		if s.config.Since != nil {
			since = *s.config.Since
		}
	}

	cursor := ""
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		for {
			events, next, more, err := s.poll(ctx, cursor, &since)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, event := range events {
				if err := s.writeEvent(event); err != nil {
					return err
				}
			}
			cursor = next
			if !more {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll returns the matching events of the page after cursor, the cursor to
// resume from and whether more pages are ready.
func (s *EventStreamer) poll(ctx context.Context, cursor string, since *time.Time) ([]*models.Event, string, bool, error) {
	query := db.EventQuery{
		Cursor: cursor,
		Limit:  s.config.BatchSize,
	}
	if cursor == "" && since != nil && !since.IsZero() {
		query.Since = since
	}
	if s.config.SessionID != "" {
		id := s.config.SessionID
		query.EntityID = &id
	}

	page, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, cursor, false, fmt.Errorf("query events: %w", err)
	}

	next := cursor
	if n := len(page.Events); n > 0 {
		next = page.Events[n-1].ID
	}
	more := page.NextCursor != ""

	if len(s.config.Types) == 0 {
		return page.Events, next, more, nil
	}
	filtered := page.Events[:0:0]
	for _, event := range page.Events {
		if matchesType(event.Type, s.config.Types) {
			filtered = append(filtered, event)
		}
	}
	return filtered, next, more, nil
}

func (s *EventStreamer) writeEvent(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

func matchesType(t models.EventType, types []models.EventType) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// ParseSince parses a relative duration (1h, 30m, 7d) or an absolute time
// (RFC3339, 2006-01-02, 2006-01-02T15:04:05). Empty input returns nil.
func ParseSince(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if d, err := parseDurationWithDays(value); err == nil {
		t := time.Now().UTC().Add(-d)
		return &t, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local); err == nil {
		return &t, nil
	}

	return nil, fmt.Errorf("invalid time %q: use a duration like 1h or 7d, or a timestamp like 2024-01-15T10:30:00Z", value)
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix.
func parseDurationWithDays(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(value, "d"), 64)
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}
