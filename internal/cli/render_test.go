package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

func streamingState(entries ...models.Entry) transcript.State {
	return transcript.State{Entries: entries, Status: transcript.TurnStatusStreaming}
}

func doneTool(id, name, input, output string) models.Entry {
	e := models.NewToolEntry(id, name)
	e.Input = input
	e.Output = output
	e.Status = models.ToolStatusDone
	e.InputClosed = true
	return e
}

func TestRenderEntry(t *testing.T) {
	pal := plainPalette()

	tests := []struct {
		name  string
		entry models.Entry
		want  string
	}{
		{"user", models.NewTextEntry(models.RoleUser, "hi"), "> hi"},
		{"assistant", models.NewTextEntry(models.RoleAssistant, "Hello"), "Hello"},
		{"running tool", models.NewToolEntry("t1", "bash"), "[running] bash"},
		{"done tool", doneTool("t1", "bash", `{"cmd":"ls"}`, "a\nb"), "[done] bash {\"cmd\":\"ls\"}\n  a\n  b"},
		{"orphan", models.Entry{Kind: models.EntryKindTool, Status: models.ToolStatusError, Output: "x", Orphan: true}, "[error] tool (no matching call)\n  x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderEntry(tt.entry, pal); got != tt.want {
				t.Errorf("renderEntry = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderTranscriptSkipsEmptyText(t *testing.T) {
	var buf bytes.Buffer
	renderTranscript(&buf, []models.Entry{
		models.NewTextEntry(models.RoleUser, "hi"),
		models.NewTextEntry(models.RoleAssistant, ""),
		models.NewTextEntry(models.RoleAssistant, "Hello"),
	}, plainPalette())

	if got, want := buf.String(), "> hi\nHello\n"; got != want {
		t.Fatalf("renderTranscript = %q, want %q", got, want)
	}
}

func TestColorPaletteKeepsText(t *testing.T) {
	pal := colorPalette()
	for name, p := range map[string]paint{
		"user":      pal.user,
		"assistant": pal.assistant,
		"tool":      pal.tool,
		"muted":     pal.muted,
		"warn":      pal.warn,
	} {
		if got := p("hello"); !strings.Contains(got, "hello") {
			t.Errorf("%s paint = %q, want it to contain %q", name, got, "hello")
		}
	}

	got := renderEntry(models.NewTextEntry(models.RoleUser, "hi"), pal)
	if !strings.Contains(got, "hi") {
		t.Errorf("renderEntry with color palette = %q", got)
	}
}

func TestTranscriptRendererHoldsStreamingText(t *testing.T) {
	var buf bytes.Buffer
	r := newTranscriptRenderer(&buf, plainPalette())

	user := models.NewTextEntry(models.RoleUser, "hi")
	r.Render(streamingState(user, models.NewTextEntry(models.RoleAssistant, "Hel")))
	if got := buf.String(); got != "> hi\n" {
		t.Fatalf("unexpected output while streaming: %q", got)
	}

	r.Render(streamingState(user, models.NewTextEntry(models.RoleAssistant, "Hello"), models.NewToolEntry("t1", "bash")))
	if got := buf.String(); got != "> hi\nHello\n" {
		t.Fatalf("text should print once a tool follows it: %q", got)
	}

	final := transcript.State{
		Entries: []models.Entry{user, models.NewTextEntry(models.RoleAssistant, "Hello"), doneTool("t1", "bash", "", "ok")},
		Status:  transcript.TurnStatusIdle,
		Outcome: transcript.OutcomeCancelled,
	}
	r.Finish(final)
	want := "> hi\nHello\n[done] bash\n  ok\ncancelled\n"
	if got := buf.String(); got != want {
		t.Fatalf("Finish output = %q, want %q", got, want)
	}
}

func TestTranscriptRendererPrintsNoteChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newTranscriptRenderer(&buf, plainPalette())

	state := streamingState()
	state.Note = transcript.NoteThinking
	r.Render(state)
	r.Render(state)

	if got := strings.Count(buf.String(), transcript.NoteThinking); got != 1 {
		t.Fatalf("expected note once, got %d in %q", got, buf.String())
	}
}

func TestTranscriptRendererAdoptsRewrittenHistory(t *testing.T) {
	var buf bytes.Buffer
	r := newTranscriptRenderer(&buf, plainPalette())

	r.Finish(transcript.State{Entries: []models.Entry{models.NewTextEntry(models.RoleAssistant, "draft")}})
	buf.Reset()

	synced := transcript.State{
		Entries:     []models.Entry{models.NewTextEntry(models.RoleUser, "hi"), models.NewTextEntry(models.RoleAssistant, "final")},
		SyncWarning: "history sync failed: boom",
	}
	r.Finish(synced)

	if got := buf.String(); got != "warning: history sync failed: boom\n" {
		t.Fatalf("rewritten history should not be reprinted: %q", got)
	}
}

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		state transcript.State
		want  string
	}{
		{transcript.State{Outcome: transcript.OutcomeCompleted}, ""},
		{transcript.State{Outcome: transcript.OutcomeCompleted, TurnUsage: models.Usage{InputTokens: 3, OutputTokens: 2}, TurnSteps: 1}, "3 in / 2 out tokens, 1 step(s)"},
		{transcript.State{Outcome: transcript.OutcomeFailed, Error: "reset"}, "error: reset"},
		{transcript.State{Outcome: transcript.OutcomeIncomplete}, "stream ended before the reply finished"},
		{transcript.State{}, ""},
	}

	for _, tt := range tests {
		if got := formatOutcome(tt.state); got != tt.want {
			t.Errorf("formatOutcome(%+v) = %q, want %q", tt.state.Outcome, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestFormatTokens(t *testing.T) {
	tests := map[int64]string{
		12:        "12",
		1_500:     "1.5k",
		42_000:    "42k",
		3_200_000: "3.2M",
	}
	for n, want := range tests {
		if got := formatTokens(n); got != want {
			t.Errorf("formatTokens(%d) = %q, want %q", n, got, want)
		}
	}
}
