package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamctl/internal/session"
)

var (
	chatAgent  string
	chatCreate bool
	chatDir    string
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatAgent, "agent", "a", "default", "agent to address")
	chatCmd.Flags().BoolVar(&chatCreate, "new", false, "create a new session first")
	chatCmd.Flags().StringVar(&chatDir, "dir", "", "working directory for a new session")
}

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Chat with an agent interactively",
	Long: `Start an interactive chat. Each line is sent as a message and the reply
streams in as it arrives.

Ctrl-C cancels the reply in progress. Ctrl-C while idle, Ctrl-D or /quit exits.
/sync refetches the session history and /history prints the transcript.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsNonInteractive() {
			return &PreflightError{
				Message:  "chat requires an interactive terminal",
				Hint:     "Run with a TTY, or use `streamctl send` for scripted use",
				NextStep: "streamctl send <session-id> <message>",
			}
		}

		sessionID, err := resolveChatSession(cmd.Context(), args)
		if err != nil {
			return err
		}

		rt, err := newTurnRuntime(session.Handle{SessionID: sessionID, AgentID: chatAgent}, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Interrupts are handled here so the first Ctrl-C only cancels a turn.
		ctx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
		defer cancel()
		go handleChatInterrupts(ctx, rt.session, cancel)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %s, agent %s\n", sessionID, chatAgent)
		if err := syncChat(ctx, out, rt.session); err != nil {
			fmt.Fprintln(out, colorize("warning: "+err.Error(), colorYellow))
		}
		return runChat(ctx, cmd.InOrStdin(), out, rt.session)
	},
}

func resolveChatSession(ctx context.Context, args []string) (string, error) {
	if len(args) == 1 && !chatCreate {
		return args[0], nil
	}
	if len(args) == 1 && chatCreate {
		return "", fmt.Errorf("--new does not take a session id")
	}
	if !chatCreate {
		return "", &PreflightError{
			Message:  "session id is required",
			Hint:     "Pass an existing session id or --new to create one",
			NextStep: "streamctl sessions list",
		}
	}

	progress := startProgress("Creating session")
	rec, err := newClient().CreateSession(ctx, chatDir)
	if err != nil {
		progress.Fail(err)
		return "", err
	}
	progress.Done()
	return rec.ID, nil
}

func handleChatInterrupts(ctx context.Context, s *session.Session, exit context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if !s.Cancel() {
				exit()
				return
			}
		}
	}
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, s *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, colorize("> ", colorCyan))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/sync":
			if err := syncChat(ctx, out, s); err != nil {
				fmt.Fprintln(out, colorize("warning: "+err.Error(), colorYellow))
			}
			continue
		case "/history":
			renderTranscript(out, s.Snapshot().Entries, currentPalette())
			continue
		}

		view := newTurnView(out, true)
		unsubscribe := s.Subscribe("chat", view.Update)
		res, err := s.Send(ctx, line)
		unsubscribe()
		if err != nil {
			fmt.Fprintln(out, colorize("error: "+err.Error(), colorRed))
			continue
		}
		if err := view.Finish(res); err != nil {
			return err
		}
	}
}

// syncChat loads the stored history and prints it.
func syncChat(ctx context.Context, out io.Writer, s *session.Session) error {
	progress := startProgress("Syncing history")
	if err := s.Reconcile(ctx); err != nil {
		progress.Fail(err)
		return err
	}
	progress.Done()
	renderTranscript(out, s.Snapshot().Entries, currentPalette())
	return nil
}
