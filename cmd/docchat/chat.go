package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"docchat/internal/apiclient"
	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/connection"
	"docchat/internal/dto"
	"docchat/internal/history"
	"docchat/internal/pkg/logger"
	"docchat/internal/transport"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type chatOpts struct {
	sessionID string
	document  string
	mode      string
	apiURL    string
	wsURL     string
}

func newChatCmd() *cobra.Command {
	var opts chatOpts

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a document in the terminal",
		Long: "Opens the conversation for --session (or creates one for --document on a relay), " +
			"prints its history and then each turn as it happens. Type a question and press enter. " +
			"/dismiss clears the current error, /quit leaves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "chat session id from the upload flow")
	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "create a relay session for this document name instead")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "transport: push or request (default from CHAT_MODE)")
	cmd.Flags().StringVar(&opts.apiURL, "api", "", "REST base URL (default from CHAT_API_BASE_URL)")
	cmd.Flags().StringVar(&opts.wsURL, "ws", "", "WebSocket URL (default from CHAT_WS_URL)")
	return cmd
}

func runChat(cmd *cobra.Command, opts chatOpts) error {
	if opts.sessionID == "" && opts.document == "" {
		return errors.New("either --session or --document is required")
	}

	cfg := config.Load()
	if opts.mode != "" {
		cfg.Client.Mode = opts.mode
	}
	if opts.apiURL != "" {
		cfg.Client.APIBaseURL = opts.apiURL
	}
	if opts.wsURL != "" {
		cfg.Client.WSURL = opts.wsURL
	}

	mode, err := transport.ParseMode(cfg.Client.Mode)
	if err != nil {
		return err
	}

	// Logs go to a file so they never interleave with the transcript.
	log := logger.NewIsolatedLogger(cfg.Client.LogFilePath)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(cfg.Client.APIBaseURL, cfg.Client.RequestTimeout)

	session := chat.Session{SessionID: opts.sessionID}
	if session.SessionID == "" {
		res, err := api.CreateSession(ctx, dto.CreateSessionRequest{
			DocumentId:   uuid.NewString(),
			DocumentName: opts.document,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		session = chat.Session{SessionID: res.SessionId, DocumentID: res.DocumentId, DocumentName: res.DocumentName}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s created for %q\n", session.SessionID, session.DocumentName)
	}

	return chat.WithEngine(ctx, chat.Options{
		Session:     session,
		Transport:   newTransport(mode, cfg.Client, api, log),
		History:     history.NewLoader(api, log),
		Logger:      log,
		RetryDelay:  cfg.Client.ReconnectDelay,
		TurnTimeout: cfg.Client.TurnTimeout,
	}, func(e *chat.Engine) error {
		return interact(ctx, e, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

func newTransport(mode transport.Mode, cfg config.ClientConfig, api *apiclient.Client, log logger.ILogger) transport.Transport {
	if mode == transport.ModeRequest {
		return transport.NewRequestTransport(api, log)
	}
	return transport.NewPushTransport(transport.PushConfig{
		URL:               cfg.WSURL,
		Host:              cfg.Host,
		HeartbeatOutgoing: cfg.HeartbeatOutgoing,
		HeartbeatIncoming: cfg.HeartbeatIncoming,
	}, log)
}

// interact renders snapshots and feeds stdin lines to the engine until EOF,
// /quit, or ctx ends.
func interact(ctx context.Context, e *chat.Engine, in io.Reader, out io.Writer) error {
	snapshots, err := e.Subscribe(ctx)
	if err != nil {
		return err
	}
	view := newTranscript(out)

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
		select {
		case s, ok := <-snapshots:
			if !ok {
				return nil
			}
			view.render(s)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			case "/dismiss":
				e.Dismiss()
				continue
			}
			// Rejections show up as a notice in the next snapshot.
			if _, err := e.Submit(ctx, line); errors.Is(err, chat.ErrEngineClosed) {
				return nil
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// transcript prints what changed between successive snapshots.
type transcript struct {
	out       io.Writer
	printed   int
	state     connection.State
	stateSeen bool
	loading   bool
	notice    *chat.Notice
	// inflight is the question printed while its turn was still pending.
	inflight *chat.Message

	you, assistant, muted, warn *color.Color
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{
		out:       out,
		you:       color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen, color.Bold),
		muted:     color.New(color.FgHiBlack),
		warn:      color.New(color.FgRed),
	}
}

func (t *transcript) render(s chat.Snapshot) {
	if !t.stateSeen || s.State != t.state {
		t.stateSeen = true
		t.state = s.State
		t.printState(s.State)
	}

	t.settleInFlight(s)

	for _, m := range s.Messages {
		if m.Sequence <= t.printed {
			continue
		}
		t.printed = m.Sequence
		if s.Pending != nil && m.Sequence == s.Pending.Sequence && m.Optimistic {
			t.muted.Fprintf(t.out, "you: %s\n", m.Content)
			msg := m
			t.inflight = &msg
			continue
		}
		t.printMessage(m)
	}

	if s.Loading() && !t.loading {
		t.muted.Fprintln(t.out, "assistant is typing...")
	}
	t.loading = s.Loading()

	switch {
	case s.Notice == nil:
		t.notice = nil
	case t.notice == nil || *t.notice != *s.Notice:
		n := *s.Notice
		t.notice = &n
		t.warn.Fprintf(t.out, "! %s ", n.Message)
		t.muted.Fprintln(t.out, "(/dismiss to clear)")
	}
}

// settleInFlight marks the in-flight question once its turn is over and the
// backend never confirmed it.
func (t *transcript) settleInFlight(s chat.Snapshot) {
	if t.inflight == nil {
		return
	}
	q := t.inflight
	if s.Pending != nil && s.Pending.Sequence == q.Sequence {
		return
	}
	t.inflight = nil
	for _, m := range s.Messages {
		if m.Sequence == q.Sequence {
			if m.Optimistic {
				t.warn.Fprintf(t.out, "✗ not delivered: %s\n", q.Content)
			}
			return
		}
	}
	t.warn.Fprintf(t.out, "✗ withdrawn: %s\n", q.Content)
}

func (t *transcript) printState(state connection.State) {
	switch state {
	case connection.Connected:
		color.New(color.FgGreen).Fprintln(t.out, "● connected")
	case connection.Connecting:
		color.New(color.FgYellow).Fprintln(t.out, "◌ connecting")
	default:
		color.New(color.FgRed).Fprintln(t.out, "○ disconnected")
	}
}

func (t *transcript) printMessage(m chat.Message) {
	switch m.Role {
	case chat.RoleUser:
		t.you.Fprint(t.out, "you: ")
	default:
		t.assistant.Fprint(t.out, "assistant: ")
	}
	fmt.Fprint(t.out, m.Content)
	if m.Optimistic {
		t.muted.Fprint(t.out, " (not delivered)")
	}
	fmt.Fprintln(t.out)
}
