package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

func TestReplayCapturedTurn(t *testing.T) {
	f, err := os.Open("testdata/tool_turn.sse")
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer f.Close()

	m := metrics.New(prometheus.NewRegistry())
	res, err := replay(context.Background(), f, &bytes.Buffer{}, m)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if res.Frames != 9 || res.Events != 9 || res.Dropped != 1 {
		t.Fatalf("unexpected counters: frames=%d events=%d dropped=%d", res.Frames, res.Events, res.Dropped)
	}
	if res.State.Outcome != transcript.OutcomeCompleted {
		t.Fatalf("unexpected outcome %q", res.State.Outcome)
	}

	want := []models.Entry{
		models.NewTextEntry(models.RoleAssistant, "Checking. Two files."),
		doneTool("toolu_1", "bash", `{"cmd":"ls"}`, "main.go\ngo.mod"),
	}
	if len(res.State.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), res.State.Entries)
	}
	for i := range want {
		if res.State.Entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, res.State.Entries[i], want[i])
		}
	}

	if got := testutil.ToFloat64(m.FramesDropped.WithLabelValues("invalid_json")); got != 1 {
		t.Errorf("expected 1 invalid_json drop, got %v", got)
	}
	if got := testutil.ToFloat64(m.Turns.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed turn, got %v", got)
	}
}

func TestReplayTruncatedCaptureIsIncomplete(t *testing.T) {
	capture := "event: message_start\ndata: {}\n\nevent: text_delta\ndata: {\"text\":\"par\"}\n\nevent: text_delta\ndata: {\"te"

	res, err := replay(context.Background(), strings.NewReader(capture), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.State.Outcome != transcript.OutcomeIncomplete {
		t.Fatalf("unexpected outcome %q", res.State.Outcome)
	}
	if res.Dropped != 1 {
		t.Fatalf("expected truncated tail to be dropped, got %d", res.Dropped)
	}
	if res.State.Entries[0].Text != "par" {
		t.Fatalf("unexpected entries: %+v", res.State.Entries)
	}
}

func TestReplayPrintsFrames(t *testing.T) {
	origFrames := replayFrames
	replayFrames = true
	defer func() { replayFrames = origFrames }()

	var out bytes.Buffer
	capture := "event: message_start\ndata: {}\n\nevent: done\ndata: {}\n\n"
	if _, err := replay(context.Background(), strings.NewReader(capture), &out, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out.String(), "message_start") || !strings.Contains(out.String(), "done") {
		t.Fatalf("expected frames in output, got %q", out.String())
	}
}
