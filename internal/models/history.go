package models

import "encoding/json"

// ContentType tags a stored content block.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentBlock is one block of a stored message. The populated fields depend
// on Type:
//
//   - text:        Text
//   - tool_use:    ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
type ContentBlock struct {
	Type      ContentType     `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// StoredMessage is one message of the server's authoritative history.
type StoredMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// SessionRecord is the server's view of a session as returned by GET /sessions/{id}.
type SessionRecord struct {
	ID        string          `json:"id"`
	WorkDir   string          `json:"work_dir,omitempty"`
	History   []StoredMessage `json:"history"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}
