package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StreamEventKind is the tag of a streamed protocol event.
type StreamEventKind string

const (
	EventKindMessageStart      StreamEventKind = "message_start"
	EventKindContentBlockStart StreamEventKind = "content_block_start"
	EventKindTextDelta         StreamEventKind = "text_delta"
	EventKindInputJSONDelta    StreamEventKind = "input_json_delta"
	EventKindContentBlockStop  StreamEventKind = "content_block_stop"
	EventKindToolResult        StreamEventKind = "tool_result"
	EventKindDone              StreamEventKind = "done"
	EventKindError             StreamEventKind = "error"
	EventKindUnknown           StreamEventKind = "unknown"
)

// BlockType identifies the content of a content_block_start descriptor.
type BlockType string

const (
	BlockTypeText    BlockType = "text"
	BlockTypeToolUse BlockType = "tool_use"
)

// StreamEvent is one decoded protocol event. The concrete types below are the
// only implementations; consumers switch on them exhaustively and treat
// *UnknownEvent as ignorable.
type StreamEvent interface {
	Kind() StreamEventKind
	isStreamEvent()
}

// MessageStart opens a new assistant message.
type MessageStart struct{}

// BlockDescriptor describes the block opened by content_block_start.
type BlockDescriptor struct {
	Type BlockType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

// ContentBlockStart opens a text run or a tool invocation at Index.
type ContentBlockStart struct {
	Index int             `json:"index"`
	Block BlockDescriptor `json:"content_block"`
}

// TextDelta carries a text fragment for the current assistant run.
type TextDelta struct {
	Text string `json:"text"`
}

// InputJSONDelta carries a partial JSON fragment of a tool's input.
type InputJSONDelta struct {
	Index     int    `json:"index"`
	InputJSON string `json:"input_json"`
}

// ContentBlockStop closes the block at Index.
type ContentBlockStop struct {
	Index int `json:"index"`
}

// ToolResult reports the output of a tool call. Either ToolUseID or Index
// (or both) identify the call.
type ToolResult struct {
	Index     *int   `json:"index,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Text      string `json:"text,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Done marks the successful end of a turn.
type Done struct {
	Usage *Usage `json:"usage,omitempty"`
	Steps int    `json:"steps,omitempty"`
}

// ErrorEvent marks a server-reported turn failure.
type ErrorEvent struct {
	Message string `json:"error"`
}

// UnmarshalJSON accepts the object form and a bare JSON string message.
func (e *ErrorEvent) UnmarshalJSON(data []byte) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		e.Message = msg
		return nil
	}
	type plain ErrorEvent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = ErrorEvent(p)
	return nil
}

// UnknownEvent is any event whose tag is not recognized.
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}

// Usage is the token accounting reported with done events.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

func (*MessageStart) Kind() StreamEventKind      { return EventKindMessageStart }
func (*ContentBlockStart) Kind() StreamEventKind { return EventKindContentBlockStart }
func (*TextDelta) Kind() StreamEventKind         { return EventKindTextDelta }
func (*InputJSONDelta) Kind() StreamEventKind    { return EventKindInputJSONDelta }
func (*ContentBlockStop) Kind() StreamEventKind  { return EventKindContentBlockStop }
func (*ToolResult) Kind() StreamEventKind        { return EventKindToolResult }
func (*Done) Kind() StreamEventKind              { return EventKindDone }
func (*ErrorEvent) Kind() StreamEventKind        { return EventKindError }
func (*UnknownEvent) Kind() StreamEventKind      { return EventKindUnknown }

func (*MessageStart) isStreamEvent()      {}
func (*ContentBlockStart) isStreamEvent() {}
func (*TextDelta) isStreamEvent()         {}
func (*InputJSONDelta) isStreamEvent()    {}
func (*ContentBlockStop) isStreamEvent()  {}
func (*ToolResult) isStreamEvent()        {}
func (*Done) isStreamEvent()              {}
func (*ErrorEvent) isStreamEvent()        {}
func (*UnknownEvent) isStreamEvent()      {}

type typeProbe struct {
	Type string `json:"type"`
}

// ParseStreamEvent builds a typed event from a frame's event name and JSON
// payload. When name is empty the payload's "type" field is used instead.
// Unrecognized tags yield *UnknownEvent with a nil error.
func ParseStreamEvent(name string, payload []byte) (StreamEvent, error) {
	kind := strings.TrimSpace(name)
	if kind == "" {
		var probe typeProbe
		if err := json.Unmarshal(payload, &probe); err == nil {
			kind = strings.TrimSpace(probe.Type)
		}
	}

	var event StreamEvent
	switch StreamEventKind(kind) {
	case EventKindMessageStart:
		event = &MessageStart{}
	case EventKindContentBlockStart:
		event = &ContentBlockStart{}
	case EventKindTextDelta:
		event = &TextDelta{}
	case EventKindInputJSONDelta:
		event = &InputJSONDelta{}
	case EventKindContentBlockStop:
		event = &ContentBlockStop{}
	case EventKindToolResult:
		event = &ToolResult{}
	case EventKindDone:
		event = &Done{}
	case EventKindError:
		event = &ErrorEvent{}
	default:
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return &UnknownEvent{Name: kind, Raw: raw}, nil
	}

	if len(payload) == 0 {
		return event, nil
	}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return event, nil
}
