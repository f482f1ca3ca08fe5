package transcript

import (
	"bytes"
	"encoding/json"

	"github.com/opencode-ai/streamctl/internal/models"
)

// Rebuild converts stored history into transcript entries. It is pure: the
// same history always yields the same entries.
func Rebuild(history []models.StoredMessage) []models.Entry {
	entries := make([]models.Entry, 0, len(history))
	byID := make(map[string]int)

	for _, msg := range history {
		role := msg.Role
		if role == "" {
			role = models.RoleAssistant
		}
		for _, block := range msg.Content {
			switch block.Type {
			case models.ContentTypeText:
				entries = append(entries, models.NewTextEntry(role, block.Text))

			case models.ContentTypeToolUse:
				entry := models.NewToolEntry(block.ID, block.Name)
				entry.Input = compactInput(block.Input)
				entry.InputClosed = true
				entries = append(entries, entry)
				if block.ID != "" {
					byID[block.ID] = len(entries) - 1
				}

			case models.ContentTypeToolResult:
				if pos, ok := byID[block.ToolUseID]; ok {
					entry := &entries[pos]
					if entry.Status.IsTerminal() {
						continue
					}
					entry.Output = block.Content
					if block.IsError {
						entry.Status = models.ToolStatusError
					} else {
						entry.Status = models.ToolStatusDone
					}
					continue
				}
				entries = append(entries, models.NewOrphanToolEntry(block.ToolUseID, block.Content, block.IsError))
				if block.ToolUseID != "" {
					byID[block.ToolUseID] = len(entries) - 1
				}
			}
		}
	}
	return entries
}

func compactInput(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
