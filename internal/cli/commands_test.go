package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencode-ai/streamctl/internal/adapters/adapterstest"
	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/models"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STREAMCTL_NON_INTERACTIVE", "1")
	t.Setenv("STREAMCTL_NO_PROGRESS", "1")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	resetFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(t *testing.T) {
	t.Helper()
	cfgFile = ""
	serverURL, dbPath, logLevel, logFormat = "", "", "", ""
	jsonOutput, jsonlOutput, nonInteractive, noProgress, noColor = false, false, false, false, false
	sendAgent, sendNoSync, sendShowPrompt = "default", false, false
	historyRaw, watchMode = false, false
	sessionsCreateDir = ""
	appConfig = nil
	if f := rootCmd.PersistentFlags().Lookup("db"); f != nil {
		f.Changed = false
	}
}

func textTurnChunks(text string) []string {
	return []string{
		adapterstest.Frame("message_start", `{}`),
		adapterstest.Frame("text_delta", `{"text":"`+text+`"}`),
		adapterstest.Frame("done", `{"usage":{"input_tokens":10,"output_tokens":4},"steps":1}`),
	}
}

func TestSendCommandStreamsReply(t *testing.T) {
	srv := adapterstest.New(t)
	srv.AddSession("sess-1", nil)
	srv.QueueStream("sess-1", adapterstest.Script{Chunks: textTurnChunks("Hello there")})

	dbFile := filepath.Join(t.TempDir(), "audit.db")
	out, err := runCLI(t, "--server", srv.URL, "--db", dbFile, "send", "sess-1", "hi", "you")
	if err != nil {
		t.Fatalf("send failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Hello there") {
		t.Errorf("expected reply in output, got:\n%s", out)
	}
	if !strings.Contains(out, "10 in / 4 out tokens, 1 step(s)") {
		t.Errorf("expected usage line in output, got:\n%s", out)
	}
	if strings.Contains(out, "> hi you") {
		t.Errorf("message should not be echoed without --echo:\n%s", out)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Message != "hi you" || reqs[0].AgentID != "default" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}

	database, err := db.Open(dbFile)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer database.Close()
	stored, err := db.NewEventRepository(database).ListBySession(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []models.EventType
	for _, e := range stored {
		types = append(types, e.Type)
	}
	want := []models.EventType{models.EventTypeTurnStarted, models.EventTypeTurnCompleted, models.EventTypeHistorySynced}
	if len(types) != len(want) {
		t.Fatalf("unexpected audit events: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected audit events: %v", types)
		}
	}
}

func TestSendCommandJSON(t *testing.T) {
	srv := adapterstest.New(t)
	srv.AddSession("sess-1", nil)
	srv.QueueStream("sess-1", adapterstest.Script{Chunks: textTurnChunks("Hi")})

	out, err := runCLI(t, "--server", srv.URL, "--db", "", "--json", "send", "--no-sync", "sess-1", "hello")
	if err != nil {
		t.Fatalf("send failed: %v\n%s", err, out)
	}

	var decoded turnOutput
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if decoded.Outcome != "completed" || decoded.TurnID == "" {
		t.Fatalf("unexpected result: %+v", decoded)
	}
	if len(decoded.State.Entries) != 2 || decoded.State.Entries[1].Text != "Hi" {
		t.Fatalf("unexpected entries: %+v", decoded.State.Entries)
	}
	if srv.Gets() != 0 {
		t.Fatalf("--no-sync should skip the history fetch, got %d gets", srv.Gets())
	}
}

func TestSendCommandServerError(t *testing.T) {
	srv := adapterstest.New(t)
	srv.AddSession("sess-1", nil)
	srv.QueueStream("sess-1", adapterstest.Script{Chunks: []string{
		adapterstest.Frame("error", `{"error":"rate limited"}`),
	}})

	out, err := runCLI(t, "--server", srv.URL, "--db", "", "send", "sess-1", "hello")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected turn failure, got %v\n%s", err, out)
	}
}

func TestHistoryCommand(t *testing.T) {
	srv := adapterstest.New(t)
	srv.AddSession("sess-1", []models.StoredMessage{
		{Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.ContentTypeText, Text: "hi"}}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			{Type: models.ContentTypeToolUse, ID: "t1", Name: "bash", Input: json.RawMessage(`{"cmd": "ls"}`)},
			{Type: models.ContentTypeToolResult, ToolUseID: "t1", Content: "file.txt"},
		}},
	})

	out, err := runCLI(t, "--server", srv.URL, "--db", "", "history", "sess-1")
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	want := "> hi\n[done] bash {\"cmd\":\"ls\"}\n  file.txt\n"
	if out != want {
		t.Fatalf("history output = %q, want %q", out, want)
	}
}

func TestSessionsCommands(t *testing.T) {
	srv := adapterstest.New(t)
	srv.AddSession("sess-a", nil)

	out, err := runCLI(t, "--server", srv.URL, "--db", "", "sessions", "create", "--dir", "/tmp/work")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if strings.TrimSpace(out) != "sess-1" {
		t.Fatalf("unexpected create output %q", out)
	}

	out, err = runCLI(t, "--server", srv.URL, "--db", "", "--json", "sessions", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var sessions []models.SessionRecord
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	if len(sessions) != 2 || sessions[1].WorkDir != "/tmp/work" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestEventsCommandRequiresDatabase(t *testing.T) {
	_, err := runCLI(t, "--db", "", "events")
	var preflight *PreflightError
	if err == nil || !errors.As(err, &preflight) {
		t.Fatalf("expected preflight error, got %v", err)
	}
}

func TestUsageCommand(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "audit.db")
	database, err := db.Open(dbFile)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := db.NewUsageRepository(database)
	for _, rec := range []*models.UsageRecord{
		{SessionID: "sess-1", InputTokens: 100, OutputTokens: 20, Steps: 2},
		{SessionID: "sess-1", InputTokens: 50, OutputTokens: 10, Steps: 1},
	} {
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}
	database.Close()

	out, err := runCLI(t, "--db", dbFile, "--json", "usage")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	var summaries []models.UsageSummary
	if err := json.Unmarshal([]byte(out), &summaries); err != nil {
		t.Fatalf("usage output is not JSON: %v\n%s", err, out)
	}
	if len(summaries) != 1 || summaries[0].TotalTokens != 180 || summaries[0].Turns != 2 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestWriteOutputJSONL(t *testing.T) {
	orig := jsonlOutput
	jsonlOutput = true
	defer func() { jsonlOutput = orig }()

	var buf bytes.Buffer
	if err := WriteOutput(&buf, []string{"a", "b"}); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if buf.String() != "\"a\"\n\"b\"\n" {
		t.Fatalf("unexpected JSONL output %q", buf.String())
	}
}

func TestPreflightErrorRender(t *testing.T) {
	err := &PreflightError{Message: "boom", Hint: "fix it", NextStep: "streamctl health"}
	want := "Error: boom\n  Hint: fix it\n  Try:  streamctl health"
	if err.Render() != want {
		t.Fatalf("Render = %q", err.Render())
	}
}
