package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role is the speaker of a text entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EntryKind distinguishes text entries from tool entries.
type EntryKind string

const (
	EntryKindText EntryKind = "text"
	EntryKindTool EntryKind = "tool"
)

// ToolStatus is the lifecycle state of a tool entry.
type ToolStatus string

const (
	ToolStatusRunning ToolStatus = "running"
	ToolStatusDone    ToolStatus = "done"
	ToolStatusError   ToolStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s ToolStatus) IsTerminal() bool {
	return s == ToolStatusDone || s == ToolStatusError
}

// ErrInputIncomplete is returned when tool input is read before its block closed.
var ErrInputIncomplete = errors.New("tool input is still streaming")

// Entry is one display-ready transcript item: a text message or a tool call.
type Entry struct {
	Kind EntryKind `json:"kind"`

	// Text entries.
	Role Role   `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// Tool entries.
	ToolID   string     `json:"tool_id,omitempty"`
	ToolName string     `json:"tool_name,omitempty"`
	Input    string     `json:"input,omitempty"`
	Output   string     `json:"output,omitempty"`
	Status   ToolStatus `json:"status,omitempty"`

	// InputClosed is set once the tool's input block has stopped streaming.
	InputClosed bool `json:"input_closed,omitempty"`

	// Orphan marks a tool entry created from a result with no prior call.
	Orphan bool `json:"orphan,omitempty"`
}

// NewTextEntry returns a text entry for role.
func NewTextEntry(role Role, text string) Entry {
	return Entry{Kind: EntryKindText, Role: role, Text: text}
}

// NewToolEntry returns a running tool entry.
func NewToolEntry(id, name string) Entry {
	return Entry{Kind: EntryKindTool, ToolID: id, ToolName: name, Status: ToolStatusRunning}
}

// NewOrphanToolEntry returns a terminal tool entry built from a bare result.
func NewOrphanToolEntry(id, output string, isError bool) Entry {
	status := ToolStatusDone
	if isError {
		status = ToolStatusError
	}
	return Entry{
		Kind:        EntryKindTool,
		ToolID:      id,
		Output:      output,
		Status:      status,
		InputClosed: true,
		Orphan:      true,
	}
}

// IsText reports whether e is a text entry.
func (e Entry) IsText() bool { return e.Kind == EntryKindText }

// IsTool reports whether e is a tool entry.
func (e Entry) IsTool() bool { return e.Kind == EntryKindTool }

// IsAssistantText reports whether e is an assistant text entry.
func (e Entry) IsAssistantText() bool {
	return e.Kind == EntryKindText && e.Role == RoleAssistant
}

// ParsedInput decodes the accumulated tool input. It refuses to parse while
// the input block is still open, since partial fragments are not valid JSON.
func (e Entry) ParsedInput() (map[string]any, error) {
	if !e.InputClosed {
		return nil, ErrInputIncomplete
	}
	if strings.TrimSpace(e.Input) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(e.Input), &out); err != nil {
		return nil, err
	}
	return out, nil
}
