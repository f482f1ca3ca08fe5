package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/streamctl/internal/models"
)

// MissKind labels a correlation fallback.
type MissKind string

const (
	MissInput           MissKind = "input"
	MissDuplicateOpen   MissKind = "duplicate_open"
	MissInvalidInput    MissKind = "invalid_input"
	MissOrphanResult    MissKind = "orphan_result"
	MissDuplicateResult MissKind = "duplicate_result"
	MissLateEvent       MissKind = "late_event"
)

// MissFunc is told about every correlation fallback.
type MissFunc func(kind MissKind, detail string)

// CorrelationTable maps block indexes and tool ids to transcript positions.
// It is only valid for the turn it was built in.
type CorrelationTable struct {
	byIndex map[int]string
	byID    map[string]int
}

// NewCorrelationTable returns an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{
		byIndex: make(map[int]string),
		byID:    make(map[string]int),
	}
}

// ToolID returns the tool id opened at index.
func (t *CorrelationTable) ToolID(index int) (string, bool) {
	id, ok := t.byIndex[index]
	return id, ok
}

// Position returns the transcript position of a tool id.
func (t *CorrelationTable) Position(id string) (int, bool) {
	pos, ok := t.byID[id]
	return pos, ok
}

// Len returns the number of tool ids tracked.
func (t *CorrelationTable) Len() int {
	return len(t.byID)
}

// ResultRef identifies the tool call a result belongs to.
type ResultRef struct {
	ToolUseID string
	Index     *int
}

func (r ResultRef) String() string {
	switch {
	case r.ToolUseID != "" && r.Index != nil:
		return fmt.Sprintf("%s@%d", r.ToolUseID, *r.Index)
	case r.Index != nil:
		return fmt.Sprintf("@%d", *r.Index)
	default:
		return r.ToolUseID
	}
}

// Resolution reports what ResolveResult did.
type Resolution int

const (
	ResolvedMatched Resolution = iota
	ResolvedIgnored
	ResolvedOrphan
)

// Correlator pairs tool blocks with their input fragments and results.
// It mutates the entries of the State it was built over.
type Correlator struct {
	state  *State
	table  *CorrelationTable
	onMiss MissFunc
}

// NewCorrelator returns a correlator over state. onMiss may be nil.
func NewCorrelator(state *State, onMiss MissFunc) *Correlator {
	return &Correlator{
		state:  state,
		table:  NewCorrelationTable(),
		onMiss: onMiss,
	}
}

// Reset discards the table. Called at every turn start.
func (c *Correlator) Reset() {
	c.table = NewCorrelationTable()
}

// Table returns the current turn's table.
func (c *Correlator) Table() *CorrelationTable {
	return c.table
}

// Open appends a running tool entry for the block at index.
func (c *Correlator) Open(index int, toolID, toolName string) bool {
	if id, ok := c.table.byIndex[index]; ok {
		c.miss(MissDuplicateOpen, fmt.Sprintf("index %d already open as %s", index, id))
		return false
	}
	if _, ok := c.table.byID[toolID]; ok {
		c.miss(MissDuplicateOpen, fmt.Sprintf("tool %s already open", toolID))
		return false
	}

	c.state.Entries = append(c.state.Entries, models.NewToolEntry(toolID, toolName))
	c.table.byIndex[index] = toolID
	c.table.byID[toolID] = len(c.state.Entries) - 1
	return true
}

// AppendInput extends the input of the tool opened at index.
func (c *Correlator) AppendInput(index int, fragment string) bool {
	entry := c.entryAt(index)
	if entry == nil {
		c.miss(MissInput, fmt.Sprintf("no open tool at index %d", index))
		return false
	}
	if entry.InputClosed {
		c.miss(MissInput, fmt.Sprintf("input for %s already closed", entry.ToolID))
		return false
	}
	entry.Input += fragment
	return true
}

// Close marks the input of the tool at index complete and returns the tool
// name. A stop for an index with no tool (a text block) is a no-op.
func (c *Correlator) Close(index int) (string, bool) {
	entry := c.entryAt(index)
	if entry == nil || entry.InputClosed {
		return "", false
	}
	entry.InputClosed = true
	if input := strings.TrimSpace(entry.Input); input != "" && !json.Valid([]byte(input)) {
		c.miss(MissInvalidInput, fmt.Sprintf("tool %s input is not valid JSON", entry.ToolID))
	}
	return entry.ToolName, true
}

// ResolveResult records a tool's output. The id is tried first, then the
// index; with no match an orphan entry is appended.
func (c *Correlator) ResolveResult(ref ResultRef, output string, isError bool) Resolution {
	pos, ok := c.lookup(ref)
	if !ok {
		c.miss(MissOrphanResult, fmt.Sprintf("result %s matches no open tool", ref))
		c.state.Entries = append(c.state.Entries, models.NewOrphanToolEntry(ref.ToolUseID, output, isError))
		if ref.ToolUseID != "" {
			c.table.byID[ref.ToolUseID] = len(c.state.Entries) - 1
		}
		return ResolvedOrphan
	}

	entry := &c.state.Entries[pos]
	if entry.Status.IsTerminal() {
		c.miss(MissDuplicateResult, fmt.Sprintf("tool %s already %s", entry.ToolID, entry.Status))
		return ResolvedIgnored
	}
	entry.Output = output
	if isError {
		entry.Status = models.ToolStatusError
	} else {
		entry.Status = models.ToolStatusDone
	}
	return ResolvedMatched
}

func (c *Correlator) lookup(ref ResultRef) (int, bool) {
	if ref.ToolUseID != "" {
		if pos, ok := c.table.byID[ref.ToolUseID]; ok {
			return pos, true
		}
	}
	if ref.Index != nil {
		if id, ok := c.table.byIndex[*ref.Index]; ok {
			pos, ok := c.table.byID[id]
			return pos, ok
		}
	}
	return 0, false
}

func (c *Correlator) entryAt(index int) *models.Entry {
	id, ok := c.table.byIndex[index]
	if !ok {
		return nil
	}
	pos, ok := c.table.byID[id]
	if !ok || pos >= len(c.state.Entries) {
		return nil
	}
	return &c.state.Entries[pos]
}

func (c *Correlator) miss(kind MissKind, detail string) {
	if c.onMiss != nil {
		c.onMiss(kind, detail)
	}
}
