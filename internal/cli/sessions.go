package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/models"
)

var sessionsCreateDir string

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(healthCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)

	sessionsCreateCmd.Flags().StringVar(&sessionsCreateDir, "dir", "", "working directory for the session")
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage agent server sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := newClient().ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if sessions == nil {
			sessions = []models.SessionRecord{}
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
			return nil
		}

		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{s.ID, orDash(s.WorkDir), strconv.Itoa(len(s.History)), orDash(s.UpdatedAt)})
		}
		return writeTable(cmd.OutOrStdout(), []string{"ID", "WORKDIR", "MESSAGES", "UPDATED"}, rows)
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().CreateSession(cmd.Context(), sessionsCreateDir)
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), rec)
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), rec)
		}
		return writeTable(cmd.OutOrStdout(), nil, [][]string{
			{"ID:", rec.ID},
			{"Workdir:", orDash(rec.WorkDir)},
			{"Messages:", strconv.Itoa(len(rec.History))},
			{"Created:", orDash(rec.CreatedAt)},
			{"Updated:", orDash(rec.UpdatedAt)},
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the agent server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := newClient().Health(cmd.Context())
		if err != nil {
			return &PreflightError{
				Message:  fmt.Sprintf("agent server at %s is not reachable: %v", GetConfig().Server.URL, err),
				Hint:     "Start the server or point --server at it",
				NextStep: "streamctl --server http://localhost:2323 health",
			}
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), health)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorize("OK", colorGreen), GetConfig().Server.URL)
		return nil
	},
}
