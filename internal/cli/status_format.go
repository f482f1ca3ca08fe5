package cli

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

func formatToolStatus(status models.ToolStatus) string {
	label, color := statusLabelForTool(status)
	return colorize(label, color)
}

func formatTurnStatus(status transcript.TurnStatus, outcome transcript.Outcome) string {
	label, color := statusLabelForTurn(status, outcome)
	return colorize(formatStatusLabel(label, string(outcome)), color)
}

func statusLabelForTool(status models.ToolStatus) (string, string) {
	switch status {
	case models.ToolStatusDone:
		return "done", colorGreen
	case models.ToolStatusError:
		return "error", colorRed
	default:
		return "running", colorCyan
	}
}

func statusLabelForTurn(status transcript.TurnStatus, outcome transcript.Outcome) (string, string) {
	switch status {
	case transcript.TurnStatusStreaming:
		return "BUSY", colorCyan
	case transcript.TurnStatusError:
		return "ERR", colorRed
	}
	switch outcome {
	case transcript.OutcomeCompleted, transcript.OutcomeNone:
		return "OK", colorGreen
	default:
		return "WARN", colorYellow
	}
}

func formatStatusLabel(label, status string) string {
	normalized := strings.TrimSpace(status)
	if normalized != "" {
		normalized = strings.ReplaceAll(normalized, "_", " ")
	}
	if normalized == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, normalized)
}

// formatOutcome is the closing line of a turn.
func formatOutcome(state transcript.State) string {
	switch state.Outcome {
	case transcript.OutcomeCompleted:
		usage := state.TurnUsage
		if usage.Total() == 0 && state.TurnSteps == 0 {
			return ""
		}
		return fmt.Sprintf("%d in / %d out tokens, %d step(s)", usage.InputTokens, usage.OutputTokens, state.TurnSteps)
	case transcript.OutcomeCancelled:
		return "cancelled"
	case transcript.OutcomeIncomplete:
		return "stream ended before the reply finished"
	case transcript.OutcomeFailed:
		if state.Error != "" {
			return "error: " + state.Error
		}
		return "error"
	default:
		return ""
	}
}
