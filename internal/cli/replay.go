package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/logging"
	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/stream"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

var (
	replayUser   string
	replayFrames bool
	replayStats  bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayUser, "user", "", "user message that opened the turn")
	replayCmd.Flags().BoolVar(&replayFrames, "frames", false, "print each decoded frame")
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "print decode and correlation counters")
}

var replayCmd = &cobra.Command{
	Use:   "replay <file|->",
	Short: "Replay a captured event stream",
	Long: `Decode a captured event-stream body offline and print the transcript it
produces. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, closeIn, err := openReplayInput(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		defer closeIn()

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		res, err := replay(cmd.Context(), in, cmd.OutOrStdout(), m)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(out, res)
		}

		pal := currentPalette()
		renderTranscript(out, res.State.Entries, pal)
		if line := formatOutcome(res.State); line != "" {
			fmt.Fprintln(out, pal.muted(line))
		}
		if replayStats {
			return writeTable(out, []string{"FRAMES", "DROPPED", "EVENTS", "STATUS"}, [][]string{{
				fmt.Sprint(res.Frames),
				fmt.Sprint(res.Dropped),
				fmt.Sprint(res.Events),
				formatTurnStatus(res.State.Status, res.State.Outcome),
			}})
		}
		return nil
	},
}

// replayResult is the outcome of decoding a captured stream.
type replayResult struct {
	Frames  int              `json:"frames"`
	Dropped int              `json:"dropped"`
	Events  int              `json:"events"`
	State   transcript.State `json:"state"`
}

func openReplayInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// replay runs a captured body through the same scanner and reducer a live
// turn uses.
func replay(ctx context.Context, in io.Reader, out io.Writer, m *metrics.Metrics) (replayResult, error) {
	logger := logging.Component("replay")

	var res replayResult
	scanner := stream.NewScanner(in,
		stream.WithFrameHandler(func(frame stream.Frame) {
			res.Frames++
			m.FrameDecoded()
			if replayFrames && !IsJSONOutput() && !IsJSONLOutput() {
				fmt.Fprintln(out, colorize(frame.String(), colorGray))
			}
		}),
		stream.WithDropHandler(func(frame stream.Frame, reason error) {
			m.FrameDropped(stream.DropReason(reason))
			logger.Warn().Err(reason).Str("event", frame.Event).Msg("dropped frame")
		}),
	)

	reducer := transcript.NewReducer(transcript.WithMetrics(m), transcript.WithLogger(logger))
	reducer.BeginTurn(replayUser)

	for {
		event, err := scanner.Next(ctx)
		if errors.Is(err, io.EOF) {
			reducer.EndOfStream()
			break
		}
		if err != nil {
			reducer.Fail(err)
			break
		}
		res.Events++
		if reducer.Apply(event).Finalized {
			break
		}
	}

	res.Dropped = scanner.Dropped()
	res.State = reducer.Snapshot()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}
