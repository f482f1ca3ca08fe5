package transcript

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/streamctl/internal/models"
)

type scenarioEvent struct {
	Event string `yaml:"event"`
	Data  string `yaml:"data"`
}

type scenarioEntry struct {
	Kind     string `yaml:"kind"`
	Role     string `yaml:"role"`
	Text     string `yaml:"text"`
	ToolID   string `yaml:"tool_id"`
	ToolName string `yaml:"tool_name"`
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	Status   string `yaml:"status"`
	Orphan   bool   `yaml:"orphan"`
}

type scenario struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	User        string          `yaml:"user"`
	Events      []scenarioEvent `yaml:"events"`
	Cancel      bool            `yaml:"cancel"`
	History     string          `yaml:"history"`
	Status      string          `yaml:"status"`
	Outcome     string          `yaml:"outcome"`
	Error       string          `yaml:"error"`
	Entries     []scenarioEntry `yaml:"entries"`
}

func loadScenarios(t *testing.T) []scenario {
	t.Helper()
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)

	var out []scenario
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.NotEmpty(t, out)
	return out
}

func toScenarioEntries(entries []models.Entry) []scenarioEntry {
	out := make([]scenarioEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, scenarioEntry{
			Kind:     string(e.Kind),
			Role:     string(e.Role),
			Text:     e.Text,
			ToolID:   e.ToolID,
			ToolName: e.ToolName,
			Input:    e.Input,
			Output:   e.Output,
			Status:   string(e.Status),
			Orphan:   e.Orphan,
		})
	}
	return out
}

func TestScenarios(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			if sc.History != "" {
				var history []models.StoredMessage
				require.NoError(t, json.Unmarshal([]byte(sc.History), &history))
				require.Equal(t, sc.Entries, toScenarioEntries(Rebuild(history)), sc.Description)
				return
			}

			r := NewReducer()
			r.BeginTurn(sc.User)
			for _, ev := range sc.Events {
				event, err := models.ParseStreamEvent(ev.Event, []byte(ev.Data))
				require.NoError(t, err)
				r.Apply(event)
			}
			if sc.Cancel {
				r.Cancel()
			}

			state := r.Snapshot()
			require.Equal(t, sc.Entries, toScenarioEntries(state.Entries), sc.Description)
			require.Equal(t, TurnStatus(sc.Status), state.Status)
			require.Equal(t, Outcome(sc.Outcome), state.Outcome)
			require.Equal(t, sc.Error, state.Error)
		})
	}
}
