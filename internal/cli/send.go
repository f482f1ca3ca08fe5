package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/events"
	"github.com/opencode-ai/streamctl/internal/logging"
	"github.com/opencode-ai/streamctl/internal/metrics"
	"github.com/opencode-ai/streamctl/internal/session"
	"github.com/opencode-ai/streamctl/internal/transcript"
)

var (
	sendAgent      string
	sendNoSync     bool
	sendShowPrompt bool
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendAgent, "agent", "a", "default", "agent to address")
	sendCmd.Flags().BoolVar(&sendNoSync, "no-sync", false, "skip the history refetch after the turn")
	sendCmd.Flags().BoolVar(&sendShowPrompt, "echo", false, "print the message before the reply")
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <message>...",
	Short: "Send one message and stream the reply",
	Long: `Send a message to a session and print the reply as it streams.

With --jsonl every transcript change is written as one JSON object per line.
With --json only the final turn result is written.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args[1:], " ")
		if strings.TrimSpace(message) == "" {
			return errors.New("message is required")
		}

		rt, err := newTurnRuntime(session.Handle{SessionID: args[0], AgentID: sendAgent}, !sendNoSync)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		view := newTurnView(out, !sendShowPrompt)
		unsubscribe := rt.session.Subscribe("cli", view.Update)
		defer unsubscribe()

		res, err := rt.session.Send(cmd.Context(), message)
		if err != nil {
			return err
		}
		if err := view.Finish(res); err != nil {
			return err
		}
		if res.Outcome == transcript.OutcomeFailed {
			return fmt.Errorf("turn failed: %s", res.State.Error)
		}
		return nil
	},
}

// turnRuntime bundles what a command needs to drive turns.
type turnRuntime struct {
	session  *session.Session
	sink     events.Sink
	shutdown func()
}

func newTurnRuntime(handle session.Handle, reconcile bool) (*turnRuntime, error) {
	cfg := GetConfig()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	shutdown := startMetricsServer(cfg.Metrics.Addr, m)

	sessCfg := session.ConfigFrom(cfg)
	if !reconcile {
		sessCfg.ReconcileOnDone = false
	}

	sink := openSink()
	s := session.New(handle, newClient(),
		session.WithConfig(sessCfg),
		session.WithSink(sink),
		session.WithMetrics(m),
	)

	return &turnRuntime{session: s, sink: sink, shutdown: shutdown}, nil
}

func (rt *turnRuntime) Close() {
	rt.shutdown()
	if err := rt.sink.Close(); err != nil {
		logger := logging.Component("cli")
		logger.Warn().Err(err).Msg("failed to close audit log")
	}
}

// startMetricsServer serves /metrics on addr until the returned func runs.
// An empty addr disables it.
func startMetricsServer(addr string, m *metrics.Metrics) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := logging.Component("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Debug().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// turnView renders one turn in the selected output mode.
type turnView struct {
	out      io.Writer
	renderer *transcriptRenderer
	skipUser bool
}

func newTurnView(out io.Writer, skipUser bool) *turnView {
	return &turnView{out: out, renderer: newTranscriptRenderer(out, currentPalette()), skipUser: skipUser}
}

// Update is a session subscriber.
func (v *turnView) Update(state transcript.State) {
	switch {
	case IsJSONLOutput():
		if err := json.NewEncoder(v.out).Encode(state); err != nil {
			fmt.Fprintf(os.Stderr, "encode state: %v\n", err)
		}
	case IsJSONOutput():
	default:
		if v.skipUser {
			v.skipUser = false
			v.renderer.adopt(state.Entries)
		}
		v.renderer.Render(state)
	}
}

// Finish prints the end of the turn.
func (v *turnView) Finish(res session.TurnResult) error {
	switch {
	case IsJSONLOutput():
		return nil
	case IsJSONOutput():
		return WriteOutput(v.out, turnOutput{
			TurnID:     res.TurnID,
			Outcome:    res.Outcome,
			DurationMS: res.Duration.Milliseconds(),
			State:      res.State,
		})
	default:
		v.renderer.Finish(res.State)
		return nil
	}
}

type turnOutput struct {
	TurnID     string             `json:"turn_id"`
	Outcome    transcript.Outcome `json:"outcome"`
	DurationMS int64              `json:"duration_ms"`
	State      transcript.State   `json:"state"`
}
