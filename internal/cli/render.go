package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

const (
	colorGreen   = "2"
	colorYellow  = "3"
	colorRed     = "1"
	colorCyan    = "6"
	colorMagenta = "5"
	colorGray    = "8"
)

// maxToolOutput caps how much tool output is printed per entry.
const maxToolOutput = 400

type paint func(string) string

// palette holds the styles for transcript output.
type palette struct {
	user      paint
	assistant paint
	tool      paint
	muted     paint
	warn      paint
}

func plainPalette() palette {
	id := func(s string) string { return s }
	return palette{user: id, assistant: id, tool: id, muted: id, warn: id}
}

func colorPalette() palette {
	style := func(s lipgloss.Style) paint {
		return func(str string) string { return s.Render(str) }
	}
	return palette{
		user:      style(lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)).Bold(true)),
		assistant: style(lipgloss.NewStyle()),
		tool:      style(lipgloss.NewStyle().Foreground(lipgloss.Color(colorMagenta))),
		muted:     style(lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))),
		warn:      style(lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow))),
	}
}

func currentPalette() palette {
	if !colorEnabled() {
		return plainPalette()
	}
	return colorPalette()
}

func colorEnabled() bool {
	if noColor || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return hasTTY()
}

func colorize(text, color string) string {
	if !colorEnabled() || color == "" {
		return text
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(text)
}

// transcriptRenderer prints a transcript and, on later calls, only what
// changed since the previous render.
type transcriptRenderer struct {
	out     io.Writer
	pal     palette
	printed []models.Entry
	note    string
}

func newTranscriptRenderer(out io.Writer, pal palette) *transcriptRenderer {
	return &transcriptRenderer{out: out, pal: pal}
}

// Render prints entries that were added or completed since the last call.
// Text still streaming into the last entry is printed once it stops changing
// or the turn ends.
func (r *transcriptRenderer) Render(state transcript.State) {
	entries := state.Entries
	settled := len(entries)
	if state.Streaming() && settled > 0 && entries[settled-1].IsText() {
		settled--
	}

	// A history sync may rewrite what was already printed. Adopt the new
	// shape without printing it again.
	if !samePrefix(r.printed, entries) {
		r.adopt(entries[:settled])
	}

	for i := len(r.printed); i < settled; i++ {
		e := entries[i]
		if e.IsTool() && !e.Status.IsTerminal() && state.Streaming() {
			break
		}
		fmt.Fprintln(r.out, r.entry(e))
		r.printed = append(r.printed, e)
	}

	if state.Note != "" && state.Note != r.note && state.Streaming() {
		fmt.Fprintln(r.out, r.pal.muted("… "+state.Note))
	}
	r.note = state.Note
}

// Finish prints everything not yet printed plus the turn's closing status.
func (r *transcriptRenderer) Finish(state transcript.State) {
	if samePrefix(r.printed, state.Entries) {
		for i := len(r.printed); i < len(state.Entries); i++ {
			fmt.Fprintln(r.out, r.entry(state.Entries[i]))
		}
	}
	r.adopt(state.Entries)

	if line := formatOutcome(state); line != "" {
		fmt.Fprintln(r.out, r.pal.muted(line))
	}
	if state.SyncWarning != "" {
		fmt.Fprintln(r.out, r.pal.warn("warning: "+state.SyncWarning))
	}
}

func (r *transcriptRenderer) adopt(entries []models.Entry) {
	r.printed = append(r.printed[:0:0], entries...)
}

func samePrefix(printed, entries []models.Entry) bool {
	if len(printed) > len(entries) {
		return false
	}
	for i := range printed {
		if printed[i] != entries[i] {
			return false
		}
	}
	return true
}

func (r *transcriptRenderer) entry(e models.Entry) string {
	return renderEntry(e, r.pal)
}

func renderEntry(e models.Entry, pal palette) string {
	if e.IsText() {
		if e.Role == models.RoleUser {
			return pal.user("> " + e.Text)
		}
		return pal.assistant(e.Text)
	}

	var b strings.Builder
	name := e.ToolName
	if name == "" {
		name = "tool"
	}
	b.WriteString(pal.tool(fmt.Sprintf("[%s] %s", formatToolStatus(e.Status), name)))
	if e.Input != "" {
		b.WriteString(" ")
		b.WriteString(pal.muted(truncate(e.Input, inputWidth(len(name)))))
	}
	if e.Orphan {
		b.WriteString(pal.warn(" (no matching call)"))
	}
	if e.Output != "" {
		b.WriteString("\n")
		b.WriteString(indent(truncate(e.Output, maxToolOutput), "  "))
	}
	return b.String()
}

// renderTranscript prints a complete transcript. Empty text blocks are
// kept in the transcript but not printed.
func renderTranscript(out io.Writer, entries []models.Entry, pal palette) {
	for _, e := range entries {
		if e.IsText() && e.Text == "" {
			continue
		}
		fmt.Fprintln(out, renderEntry(e, pal))
	}
}

// inputWidth is how much tool input fits on the tool's header line.
func inputWidth(nameLen int) int {
	width := terminalWidth(120) - nameLen - 12
	if width < 40 {
		return 40
	}
	return width
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
