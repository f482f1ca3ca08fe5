package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/streamctl/internal/models"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	return parameters
}

func TestInputFragmentsConcatenateInOrder(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("accumulated input equals fragments joined in arrival order", prop.ForAll(
		func(fragments []string) bool {
			r := NewReducer()
			r.BeginTurn("")
			r.Apply(toolStart(0, "t1", "bash"))
			for _, f := range fragments {
				r.Apply(&models.InputJSONDelta{Index: 0, InputJSON: f})
			}
			r.Apply(&models.ContentBlockStop{Index: 0})
			return r.Snapshot().Tools()[0].Input == strings.Join(fragments, "")
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// toolOp is one step of a randomized tool event sequence.
type toolOp struct {
	Kind  int
	Index int
	Error bool
}

func genToolOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.IntRange(0, 2),
		gen.Bool(),
	).Map(func(values []interface{}) toolOp {
		return toolOp{Kind: values[0].(int), Index: values[1].(int), Error: values[2].(bool)}
	})
}

func applyToolOp(r *Reducer, op toolOp) {
	id := fmt.Sprintf("t%d", op.Index)
	switch op.Kind {
	case 0:
		r.Apply(toolStart(op.Index, id, "bash"))
	case 1:
		r.Apply(&models.InputJSONDelta{Index: op.Index, InputJSON: "{}"})
	case 2:
		r.Apply(&models.ContentBlockStop{Index: op.Index})
	case 3:
		r.Apply(&models.ToolResult{ToolUseID: id, Text: "out", IsError: op.Error})
	case 4:
		idx := op.Index
		r.Apply(&models.ToolResult{Index: &idx, Text: "out", IsError: op.Error})
	}
}

func TestToolStatusIsMonotonic(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("a terminal tool never changes status again", prop.ForAll(
		func(ops []toolOp) bool {
			r := NewReducer()
			r.BeginTurn("")
			seen := make(map[int]models.ToolStatus)
			for _, op := range ops {
				applyToolOp(r, op)
				for i, e := range r.Snapshot().Entries {
					prev, ok := seen[i]
					if ok && prev.IsTerminal() && e.Status != prev {
						return false
					}
					seen[i] = e.Status
				}
			}
			return true
		},
		gen.SliceOf(genToolOp()),
	))

	properties.TestingRun(t)
}

func TestEntryOrderIsStable(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("existing entries keep their position and kind", prop.ForAll(
		func(ops []toolOp) bool {
			r := NewReducer()
			r.BeginTurn("hi")
			var prev []models.Entry
			for _, op := range ops {
				applyToolOp(r, op)
				cur := r.Snapshot().Entries
				if len(cur) < len(prev) {
					return false
				}
				for i := range prev {
					if cur[i].Kind != prev[i].Kind || cur[i].ToolID != prev[i].ToolID {
						return false
					}
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(genToolOp()),
	))

	properties.TestingRun(t)
}

func TestRebuildIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("rebuilding the same history twice is byte-identical", prop.ForAll(
		func(ops []toolOp) bool {
			history := historyFromOps(ops)
			first, err := json.Marshal(Rebuild(history))
			if err != nil {
				return false
			}
			second, err := json.Marshal(Rebuild(history))
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.SliceOf(genToolOp()),
	))

	properties.TestingRun(t)
}

func historyFromOps(ops []toolOp) []models.StoredMessage {
	var blocks []models.ContentBlock
	for _, op := range ops {
		id := fmt.Sprintf("t%d", op.Index)
		switch op.Kind {
		case 0, 1:
			blocks = append(blocks, models.ContentBlock{
				Type:  models.ContentTypeToolUse,
				ID:    id,
				Name:  "bash",
				Input: json.RawMessage(`{ "cmd": "ls" }`),
			})
		case 2:
			blocks = append(blocks, models.ContentBlock{Type: models.ContentTypeText, Text: "note"})
		default:
			blocks = append(blocks, models.ContentBlock{
				Type:      models.ContentTypeToolResult,
				ToolUseID: id,
				Content:   "out",
				IsError:   op.Error,
			})
		}
	}
	return []models.StoredMessage{{Role: models.RoleAssistant, Content: blocks}}
}

func TestRebuildFixedPoint(t *testing.T) {
	history := historyFromOps([]toolOp{{Kind: 0, Index: 0}, {Kind: 3, Index: 0}, {Kind: 2}})
	r := NewReducer()
	require.NoError(t, r.ReplaceEntries(Rebuild(history)))
	first, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)

	require.NoError(t, r.ReplaceEntries(Rebuild(history)))
	second, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)

	require.JSONEq(t, string(first), string(second))
}
