package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/streamctl/internal/models"
)

// Usage repository errors.
var (
	ErrUsageRecordNotFound = errors.New("usage record not found")
	ErrInvalidUsageRecord  = errors.New("invalid usage record")
)

const usageColumns = `id, session_id, agent_id, turn_id,
	input_tokens, output_tokens, total_tokens, steps,
	recorded_at, metadata_json`

// UsageRepository handles per-turn usage persistence.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a new usage record.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record == nil {
		return ErrInvalidUsageRecord
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUsageRecord, err)
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	if record.TotalTokens == 0 {
		record.CalculateTotalTokens()
	}

	var metadataJSON *string
	if record.Metadata != nil {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		s := string(data)
		metadataJSON = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (`+usageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.SessionID,
		nullString(record.AgentID),
		nullString(record.TurnID),
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.Steps,
		formatTime(record.RecordedAt),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// Get retrieves a usage record by ID.
func (r *UsageRepository) Get(ctx context.Context, id string) (*models.UsageRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = ?`, id)

	record, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsageRecordNotFound
	}
	return record, err
}

// Query retrieves usage records matching the given filters, newest first.
func (r *UsageRepository) Query(ctx context.Context, q models.UsageQuery) ([]*models.UsageRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE 1=1`
	args := []any{}

	if q.SessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *q.SessionID)
	}
	if q.AgentID != nil {
		query += ` AND agent_id = ?`
		args = append(args, *q.AgentID)
	}
	if q.Since != nil {
		query += ` AND recorded_at >= ?`
		args = append(args, formatTime(*q.Since))
	}
	if q.Until != nil {
		query += ` AND recorded_at < ?`
		args = append(args, formatTime(*q.Until))
	}

	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		record, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// SummarizeBySession returns per-session totals, heaviest sessions first.
// A non-empty sessionID limits the result to that session.
func (r *UsageRepository) SummarizeBySession(ctx context.Context, sessionID string, since *time.Time) ([]*models.UsageSummary, error) {
	query := `SELECT
		session_id,
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(total_tokens), 0),
		COALESCE(SUM(steps), 0),
		COUNT(*),
		MAX(recorded_at)
		FROM usage_records WHERE 1=1`
	args := []any{}

	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if since != nil {
		query += ` AND recorded_at >= ?`
		args = append(args, formatTime(*since))
	}
	query += ` GROUP BY session_id ORDER BY 4 DESC, session_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var summaries []*models.UsageSummary
	for rows.Next() {
		var summary models.UsageSummary
		var last string
		if err := rows.Scan(
			&summary.SessionID,
			&summary.InputTokens,
			&summary.OutputTokens,
			&summary.TotalTokens,
			&summary.Steps,
			&summary.Turns,
			&last,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		summary.LastRecordedAt = parseTime(last)
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summaries: %w", err)
	}

	return summaries, nil
}

// DeleteOlderThan removes usage records older than before.
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE recorded_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}

func (r *UsageRepository) scan(row rowScanner) (*models.UsageRecord, error) {
	var record models.UsageRecord
	var agentID, turnID, metadataJSON sql.NullString
	var recordedAt string

	if err := row.Scan(
		&record.ID,
		&record.SessionID,
		&agentID,
		&turnID,
		&record.InputTokens,
		&record.OutputTokens,
		&record.TotalTokens,
		&record.Steps,
		&recordedAt,
		&metadataJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan usage record: %w", err)
	}

	record.AgentID = agentID.String
	record.TurnID = turnID.String
	record.RecordedAt = parseTime(recordedAt)

	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			r.db.logger.Warn().Err(err).Str("usage_id", record.ID).Msg("failed to parse usage metadata")
		}
	}

	return &record, nil
}
