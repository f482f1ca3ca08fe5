package cli

import (
	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/models"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

var historyRaw bool

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&historyRaw, "raw", false, "print stored messages instead of the rebuilt transcript (JSON only)")
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show a session's stored history",
	Long:  "Fetch the server's stored history for a session and print it as a transcript.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		progress := startProgress("Fetching history")
		history, err := newClient().FetchHistory(cmd.Context(), args[0])
		if err != nil {
			progress.Fail(err)
			return err
		}
		progress.Done()

		if historyRaw {
			if history == nil {
				history = []models.StoredMessage{}
			}
			return WriteOutput(cmd.OutOrStdout(), history)
		}

		entries := transcript.Rebuild(history)
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), entries)
		}
		renderTranscript(cmd.OutOrStdout(), entries, currentPalette())
		return nil
	},
}
