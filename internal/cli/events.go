package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/db"
	"github.com/opencode-ai/streamctl/internal/models"
)

var (
	eventsSession string
	eventsTypes   []string
	eventsSince   string
	eventsLimit   int
	watchMode     bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVarP(&eventsSession, "session", "s", "", "only events for this session")
	eventsCmd.Flags().StringSliceVarP(&eventsTypes, "type", "t", nil, "only these event types (repeatable)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "only events since a duration (1h, 7d) or timestamp")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to list")
	eventsCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "keep streaming new events (requires --jsonl)")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the local turn audit log",
	Long: `List turn and history sync events recorded in the local audit database.

Use --watch --jsonl to tail new events as they are recorded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeJSONLForWatch(); err != nil {
			return err
		}

		since, err := ParseSince(eventsSince)
		if err != nil {
			return err
		}
		types := parseEventTypes(eventsTypes)

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewEventRepository(database)

		if watchMode {
			cfg := DefaultStreamConfig()
			cfg.SessionID = eventsSession
			cfg.Types = types
			if since != nil {
				cfg.IncludeExisting = true
				cfg.Since = since
			}
			return NewEventStreamer(repo, cmd.OutOrStdout(), cfg).Stream(cmd.Context())
		}

		query := db.EventQuery{Since: since, Limit: eventsLimit}
		if eventsSession != "" {
			query.EntityID = &eventsSession
		}
		if len(types) == 1 {
			query.Type = &types[0]
		}
		page, err := repo.Query(cmd.Context(), query)
		if err != nil {
			return fmt.Errorf("failed to query events: %w", err)
		}

		list := make([]*models.Event, 0, len(page.Events))
		for _, event := range page.Events {
			if len(types) == 0 || matchesType(event.Type, types) {
				list = append(list, event)
			}
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events.")
			return nil
		}

		rows := make([][]string, 0, len(list))
		for _, event := range list {
			rows = append(rows, []string{
				formatTimestamp(event.Timestamp),
				colorize(string(event.Type), eventColor(event.Type)),
				event.EntityID,
				truncate(string(event.Payload), 80),
			})
		}
		if err := writeTable(cmd.OutOrStdout(), []string{"TIME", "TYPE", "SESSION", "PAYLOAD"}, rows); err != nil {
			return err
		}
		if page.NextCursor != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "More events available; raise --limit or narrow --since.\n")
		}
		return nil
	},
}

func parseEventTypes(values []string) []models.EventType {
	var types []models.EventType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, models.EventType(part))
			}
		}
	}
	return types
}

func eventColor(t models.EventType) string {
	switch t {
	case models.EventTypeTurnCompleted, models.EventTypeHistorySynced:
		return colorGreen
	case models.EventTypeTurnFailed, models.EventTypeHistorySyncFailed:
		return colorRed
	case models.EventTypeTurnCancelled, models.EventTypeTurnIncomplete:
		return colorYellow
	default:
		return colorCyan
	}
}
