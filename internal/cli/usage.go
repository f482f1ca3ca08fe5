package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/models"
)

var (
	usageSince     string
	usageTurns     bool
	usageLimit     int
	usageOlderThan string
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usagePruneCmd)

	usageCmd.Flags().StringVar(&usageSince, "since", "", "only usage since a duration (1h, 7d) or timestamp")
	usageCmd.Flags().BoolVar(&usageTurns, "turns", false, "list individual turns instead of per-session totals")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 50, "maximum turns to list with --turns")

	usagePruneCmd.Flags().StringVar(&usageOlderThan, "older-than", "30d", "delete records older than this duration")
}

var usageCmd = &cobra.Command{
	Use:   "usage [session-id]",
	Short: "Show token usage recorded for completed turns",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := ParseSince(usageSince)
		if err != nil {
			return err
		}
		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		}

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewUsageRepository(database)

		if usageTurns {
			q := models.UsageQuery{Since: since, Limit: usageLimit}
			if sessionID != "" {
				q.SessionID = &sessionID
			}
			records, err := repo.Query(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to query usage: %w", err)
			}
			return writeUsageRecords(cmd, records)
		}

		summaries, err := repo.SummarizeBySession(cmd.Context(), sessionID, since)
		if err != nil {
			return fmt.Errorf("failed to summarize usage: %w", err)
		}
		return writeUsageSummaries(cmd, summaries)
	},
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old usage records",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := parseDurationWithDays(usageOlderThan)
		if err != nil {
			return err
		}

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		deleted, err := db.NewUsageRepository(database).DeleteOlderThan(cmd.Context(), time.Now().UTC().Add(-age))
		if err != nil {
			return fmt.Errorf("failed to prune usage: %w", err)
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]int64{"deleted": deleted})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d usage record(s).\n", deleted)
		return nil
	},
}

func writeUsageSummaries(cmd *cobra.Command, summaries []*models.UsageSummary) error {
	if summaries == nil {
		summaries = []*models.UsageSummary{}
	}
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(cmd.OutOrStdout(), summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded.")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.SessionID,
			strconv.FormatInt(s.Turns, 10),
			formatTokens(s.InputTokens),
			formatTokens(s.OutputTokens),
			formatTokens(s.TotalTokens),
			strconv.FormatInt(s.Steps, 10),
			formatTimestamp(s.LastRecordedAt),
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"SESSION", "TURNS", "INPUT", "OUTPUT", "TOTAL", "STEPS", "LAST"}, rows)
}

func writeUsageRecords(cmd *cobra.Command, records []*models.UsageRecord) error {
	if records == nil {
		records = []*models.UsageRecord{}
	}
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded.")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			formatTimestamp(r.RecordedAt),
			r.SessionID,
			orDash(r.TurnID),
			formatTokens(r.InputTokens),
			formatTokens(r.OutputTokens),
			strconv.FormatInt(r.Steps, 10),
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"TIME", "SESSION", "TURN", "INPUT", "OUTPUT", "STEPS"}, rows)
}
