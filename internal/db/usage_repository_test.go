package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opencode-ai/streamctl/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestUsageRepositoryCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewUsageRepository(setupTestDB(t))

	record := &models.UsageRecord{
		SessionID:    "sess-1",
		AgentID:      "agent-1",
		TurnID:       "turn-1",
		InputTokens:  1000,
		OutputTokens: 500,
		Steps:        3,
		Metadata:     map[string]string{"outcome": "completed"},
	}

	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if record.ID == "" {
		t.Error("expected ID to be set")
	}
	if record.TotalTokens != 1500 {
		t.Errorf("expected TotalTokens 1500, got %d", record.TotalTokens)
	}

	retrieved, err := repo.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if retrieved.SessionID != "sess-1" || retrieved.AgentID != "agent-1" || retrieved.TurnID != "turn-1" {
		t.Errorf("unexpected identity fields: %+v", retrieved)
	}
	if retrieved.Steps != 3 {
		t.Errorf("expected Steps 3, got %d", retrieved.Steps)
	}
	if retrieved.Metadata["outcome"] != "completed" {
		t.Errorf("expected metadata to round-trip, got %v", retrieved.Metadata)
	}
	if retrieved.RecordedAt.IsZero() {
		t.Error("expected RecordedAt to be set")
	}
}

func TestUsageRepositoryCreateInvalid(t *testing.T) {
	repo := NewUsageRepository(setupTestDB(t))

	err := repo.Create(context.Background(), &models.UsageRecord{InputTokens: 1})
	if !errors.Is(err, ErrInvalidUsageRecord) {
		t.Fatalf("expected ErrInvalidUsageRecord, got %v", err)
	}
	if err := repo.Create(context.Background(), nil); !errors.Is(err, ErrInvalidUsageRecord) {
		t.Fatalf("expected ErrInvalidUsageRecord for nil, got %v", err)
	}
}

func TestUsageRepositoryGetNotFound(t *testing.T) {
	repo := NewUsageRepository(setupTestDB(t))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrUsageRecordNotFound) {
		t.Fatalf("expected ErrUsageRecordNotFound, got %v", err)
	}
}

func TestUsageRepositoryQuery(t *testing.T) {
	ctx := context.Background()
	repo := NewUsageRepository(setupTestDB(t))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, sessionID := range []string{"a", "b", "a"} {
		record := &models.UsageRecord{
			SessionID:    sessionID,
			InputTokens:  int64(10 * (i + 1)),
			OutputTokens: 1,
			RecordedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, record); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	sessionID := "a"
	records, err := repo.Query(ctx, models.UsageQuery{SessionID: &sessionID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].InputTokens != 30 {
		t.Errorf("expected newest record first, got %d input tokens", records[0].InputTokens)
	}

	since := base.Add(time.Minute)
	records, err = repo.Query(ctx, models.UsageQuery{Since: &since, Limit: 1})
	if err != nil {
		t.Fatalf("Query since: %v", err)
	}
	if len(records) != 1 || records[0].InputTokens != 30 {
		t.Errorf("unexpected records for since query: %+v", records)
	}
}

func TestUsageRepositorySummarizeBySession(t *testing.T) {
	ctx := context.Background()
	repo := NewUsageRepository(setupTestDB(t))

	records := []*models.UsageRecord{
		{SessionID: "small", InputTokens: 1, OutputTokens: 1, Steps: 1},
		{SessionID: "big", InputTokens: 100, OutputTokens: 50, Steps: 2},
		{SessionID: "big", InputTokens: 10, OutputTokens: 5, Steps: 1},
	}
	for _, record := range records {
		if err := repo.Create(ctx, record); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	summaries, err := repo.SummarizeBySession(ctx, "", nil)
	if err != nil {
		t.Fatalf("SummarizeBySession: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	big := summaries[0]
	if big.SessionID != "big" {
		t.Fatalf("expected heaviest session first, got %s", big.SessionID)
	}
	if big.InputTokens != 110 || big.OutputTokens != 55 || big.TotalTokens != 165 {
		t.Errorf("unexpected token totals: %+v", big)
	}
	if big.Steps != 3 || big.Turns != 2 {
		t.Errorf("expected 3 steps over 2 turns, got %d steps %d turns", big.Steps, big.Turns)
	}
	if big.LastRecordedAt.IsZero() {
		t.Error("expected LastRecordedAt to be set")
	}

	only, err := repo.SummarizeBySession(ctx, "small", nil)
	if err != nil {
		t.Fatalf("SummarizeBySession small: %v", err)
	}
	if len(only) != 1 || only[0].TotalTokens != 2 {
		t.Errorf("unexpected summary for small: %+v", only)
	}
}

func TestUsageRepositoryDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewUsageRepository(setupTestDB(t))

	old := &models.UsageRecord{SessionID: "s", RecordedAt: time.Now().Add(-48 * time.Hour)}
	recent := &models.UsageRecord{SessionID: "s"}
	for _, record := range []*models.UsageRecord{old, recent} {
		if err := repo.Create(ctx, record); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted record, got %d", deleted)
	}
	if _, err := repo.Get(ctx, recent.ID); err != nil {
		t.Errorf("expected recent record to survive: %v", err)
	}
}
