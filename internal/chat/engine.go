// Package chat owns one document conversation: the ordered message log, the
// single outstanding turn, the notification slot and the goroutine that
// serialises every change to them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"docchat/internal/apiclient"
	"docchat/internal/connection"
	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
	"docchat/internal/transport"
)

// HistorySource is satisfied by *history.Loader.
type HistorySource interface {
	Load(ctx context.Context, sessionID string) ([]dto.ChatMessageDTO, error)
}

type Options struct {
	Session   Session
	Transport transport.Transport
	History   HistorySource
	Logger    logger.ILogger

	// RetryDelay is the reconnect backoff in push mode.
	RetryDelay time.Duration
	// TurnTimeout clears a turn that never got a reply. Zero means two minutes.
	TurnTimeout time.Duration

	Now       func() time.Time
	NewTurnID func() string
}

const defaultTurnTimeout = 2 * time.Minute

type Engine struct {
	session     Session
	mode        transport.Mode
	logger      logger.ILogger
	turnTimeout time.Duration

	store    *Store
	coord    *Coordinator
	surface  *Surface
	notifier *Notifier
	manager  *connection.Manager

	// Owned by the loop goroutine.
	state     connection.State
	conn      transport.Conn
	sub       transport.Subscription
	turnTimer *time.Timer
	version   uint64

	latest atomic.Pointer[Snapshot]

	events    chan any
	ctx       context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
}

type (
	submitCmd struct {
		text  string
		reply chan submitResult
	}
	submitResult struct {
		sequence int
		err      error
	}
	dismissCmd struct {
		reply chan bool
	}
	connEvent struct {
		connection.Event
	}
	frameEvent struct {
		conn  transport.Conn
		frame transport.Frame
	}
	sendResult struct {
		turnID string
		reply  *transport.Reply
		err    error
	}
	turnExpired struct {
		turnID string
	}
)

// Open loads the session's history, then starts the engine. In push mode the
// connection is brought up in the background; in request mode the engine is
// usable immediately. ctx bounds the history load only.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if opts.History == nil {
		return nil, errors.New("chat: history source is required")
	}
	if opts.Session.SessionID == "" {
		return nil, errors.New("chat: session id is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}

	mode := opts.Transport.Mode()
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Engine{
		session:     opts.Session,
		mode:        mode,
		logger:      opts.Logger,
		turnTimeout: opts.TurnTimeout,
		store:       NewStore(),
		coord:       NewCoordinator(mode, opts.Now, opts.NewTurnID),
		surface:     NewSurface(opts.Now),
		notifier:    NewNotifier(opts.Logger),
		state:       connection.Disconnected,
		events:      make(chan any),
		ctx:         lifetime,
		cancel:      cancel,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if err := e.loadHistory(ctx, opts.History); err != nil {
		cancel()
		e.notifier.Close()
		return nil, err
	}

	if mode == transport.ModeRequest {
		conn, err := opts.Transport.Connect(lifetime)
		if err != nil {
			cancel()
			e.notifier.Close()
			return nil, fmt.Errorf("chat: connect: %w", err)
		}
		e.conn = conn
		e.state = connection.Connected
	}

	historyLen := e.store.Len()
	e.publish()
	go e.run()

	if mode == transport.ModePush {
		e.manager = connection.NewManager(opts.Transport, connection.Config{RetryDelay: opts.RetryDelay}, opts.Logger, func(ev connection.Event) {
			e.post(connEvent{ev})
		})
		if err := e.manager.Start(lifetime); err != nil {
			e.Close()
			return nil, err
		}
	}

	e.logger.Info("Engine", "Chat session opened", map[string]interface{}{
		"session_id": e.session.SessionID,
		"document":   e.session.DocumentName,
		"mode":       string(mode),
		"history":    historyLen,
	})
	return e, nil
}

// WithEngine opens an engine, runs fn and closes the engine on every path.
func WithEngine(ctx context.Context, opts Options, fn func(*Engine) error) error {
	e, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func (e *Engine) loadHistory(ctx context.Context, source HistorySource) error {
	entries, err := source.Load(ctx, e.session.SessionID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.surface.Raise(SourceHistory, err.Error())
		return e.store.Seed(nil)
	}

	history := make([]Message, 0, len(entries))
	for _, m := range entries {
		history = append(history, Message{Role: Role(m.Role), Content: m.Content, TurnID: m.TurnId})
	}
	return e.store.Seed(history)
}

func (e *Engine) Session() Session { return e.session }

func (e *Engine) Mode() transport.Mode { return e.mode }

// Submit sends a question. It returns the sequence of the optimistic user
// line, or the precondition that refused it.
func (e *Engine) Submit(ctx context.Context, text string) (int, error) {
	cmd := submitCmd{text: text, reply: make(chan submitResult, 1)}
	if !e.postCtx(ctx, cmd) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, ErrEngineClosed
	}
	select {
	case res := <-cmd.reply:
		return res.sequence, res.err
	case <-e.done:
		return 0, ErrEngineClosed
	}
}

// Dismiss clears the notification slot. It reports whether a notice was showing.
func (e *Engine) Dismiss() bool {
	cmd := dismissCmd{reply: make(chan bool, 1)}
	if !e.post(cmd) {
		return false
	}
	select {
	case had := <-cmd.reply:
		return had
	case <-e.done:
		return false
	}
}

// Snapshot returns the most recently published state.
func (e *Engine) Snapshot() Snapshot {
	return *e.latest.Load()
}

// Subscribe streams snapshots until ctx is cancelled or the engine closes.
// The current state is delivered first.
func (e *Engine) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	select {
	case <-e.done:
		return nil, ErrEngineClosed
	default:
	}
	updates, err := e.notifier.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	initial := e.Snapshot()
	out := make(chan Snapshot, 1)
	out <- initial
	go func() {
		defer close(out)
		for s := range updates {
			if s.Version <= initial.Version {
				continue
			}
			select {
			case out <- s:
			default:
				select {
				case <-out:
				default:
				}
				out <- s
			}
		}
	}()
	return out, nil
}

// Done is closed once the engine has shut down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Close stops the connection, cancels in-flight work and releases the
// snapshot bus. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.quit)
		<-e.done
		if e.manager != nil {
			e.manager.Stop()
		}
		e.workers.Wait()
		if err := e.notifier.Close(); err != nil {
			e.logger.Warn("Engine", "Failed to close snapshot bus", map[string]interface{}{
				"error": err.Error(),
			})
		}
		e.logger.Info("Engine", "Chat session closed", map[string]interface{}{
			"session_id": e.session.SessionID,
		})
	})
	return nil
}

// post hands an event to the loop. It gives up once the engine is closed.
func (e *Engine) post(ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Engine) postCtx(ctx context.Context, ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.shutdown()
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) shutdown() {
	e.stopTurnTimer()
	if e.sub != nil {
		if err := e.sub.Unsubscribe(); err != nil && !errors.Is(err, transport.ErrClosed) {
			e.logger.Warn("Engine", "Failed to unsubscribe", map[string]interface{}{
				"session_id": e.session.SessionID,
				"error":      err.Error(),
			})
		}
		e.sub = nil
	}
	if e.mode == transport.ModeRequest && e.conn != nil {
		e.conn.Close()
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case submitCmd:
		seq, err := e.handleSubmit(ev.text)
		ev.reply <- submitResult{sequence: seq, err: err}
	case dismissCmd:
		had := e.surface.Dismiss()
		if had {
			e.publish()
		}
		ev.reply <- had
	case connEvent:
		e.handleConnection(ev.Event)
	case frameEvent:
		e.handleFrame(ev.conn, ev.frame)
	case sendResult:
		e.handleSendResult(ev)
	case turnExpired:
		e.handleTurnExpired(ev.turnID)
	default:
		e.logger.Error("Engine", "Unknown event", map[string]interface{}{
			"type": fmt.Sprintf("%T", ev),
		})
	}
}

func (e *Engine) handleSubmit(text string) (int, error) {
	turn, err := e.coord.Submit(text, e.state, e.store)
	if err != nil {
		e.surface.Raise(SourceInput, inputNotice(err))
		e.publish()
		return 0, err
	}

	e.logger.Info("Engine", "Turn submitted", map[string]interface{}{
		"session_id": e.session.SessionID,
		"turn_id":    turn.TurnID,
		"sequence":   turn.Sequence,
	})
	e.publish()

	req := dto.ChatMessageRequest{
		SessionId: e.session.SessionID,
		Question:  turn.UserContent,
		TurnId:    turn.TurnID,
	}
	conn := e.conn
	e.armTurnTimer(turn.TurnID)

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		reply, err := conn.Send(e.ctx, req)
		e.post(sendResult{turnID: req.TurnId, reply: reply, err: err})
	}()
	return turn.Sequence, nil
}

func (e *Engine) handleSendResult(r sendResult) {
	if !e.coord.IsPending(r.turnID) {
		e.logger.Debug("Engine", "Ignoring send result for a turn that is no longer pending", map[string]interface{}{
			"turn_id": r.turnID,
		})
		return
	}

	if e.mode == transport.ModePush {
		if r.err == nil {
			// The reply arrives on the session topic.
			return
		}
		e.coord.Complete()
		e.stopTurnTimer()
		e.logger.Warn("Engine", "Failed to publish turn", map[string]interface{}{
			"turn_id": r.turnID,
			"error":   r.err.Error(),
		})
		e.surface.Raise(SourceRequest, describe(r.err))
		e.publish()
		return
	}

	turn, _ := e.coord.Complete()
	e.stopTurnTimer()
	if r.err != nil {
		e.store.Rollback(turn.Sequence)
		e.surface.Raise(SourceRequest, describe(r.err))
		e.publish()
		return
	}

	e.store.Confirm(turn.Sequence)
	content := ""
	if r.reply != nil {
		content = r.reply.Content
	}
	e.store.AppendConfirmed(RoleAssistant, content, turn.TurnID)
	e.surface.Dismiss()
	e.publish()
}

func (e *Engine) handleConnection(ev connection.Event) {
	e.state = ev.State
	switch ev.State {
	case connection.Connected:
		e.conn = ev.Conn
		conn := ev.Conn
		sub, err := conn.Subscribe(e.session.SessionID, func(f transport.Frame) {
			e.post(frameEvent{conn: conn, frame: f})
		})
		if err != nil {
			e.logger.Error("Engine", "Failed to subscribe to session topic", map[string]interface{}{
				"session_id": e.session.SessionID,
				"error":      err.Error(),
			})
			e.surface.Raise(SourceConnection, err.Error())
			// The manager sees the closed connection and reconnects.
			conn.Close()
			break
		}
		e.sub = sub
	case connection.Disconnected:
		e.conn = nil
		e.sub = nil
		// Replies are published to the topic we just lost.
		if turn, ok := e.coord.Abandon(); ok {
			e.stopTurnTimer()
			e.logger.Warn("Engine", "Abandoning turn after disconnect", map[string]interface{}{
				"session_id": e.session.SessionID,
				"turn_id":    turn.TurnID,
			})
		}
		if ev.Err != nil {
			e.surface.Raise(SourceConnection, describe(ev.Err))
		}
	}
	e.publish()
}

func (e *Engine) handleFrame(conn transport.Conn, f transport.Frame) {
	if conn != e.conn {
		e.logger.Debug("Engine", "Dropping frame from a previous connection", map[string]interface{}{
			"role": f.Role,
		})
		return
	}

	class := e.coord.Classify(f.TurnID)
	pending := e.coord.Pending()

	switch Role(f.Role) {
	case RoleError:
		if class == turnCurrent || (class == turnUnscoped && pending != nil) {
			e.coord.Complete()
			e.stopTurnTimer()
		} else if class != turnUnscoped {
			e.logger.Debug("Engine", "Ignoring error frame for another turn", map[string]interface{}{
				"turn_id": f.TurnID,
			})
			return
		}
		e.surface.Raise(SourceProtocol, f.Content)

	case RoleAssistant:
		switch {
		case class == turnCurrent || (class == turnUnscoped && pending != nil):
			turn, _ := e.coord.Complete()
			e.stopTurnTimer()
			e.store.Confirm(turn.Sequence)
			e.store.AppendConfirmed(RoleAssistant, f.Content, turn.TurnID)
			e.surface.Dismiss()
		case class == turnStale:
			e.logger.Warn("Engine", "Dropping late reply for a turn that is no longer pending", map[string]interface{}{
				"turn_id": f.TurnID,
			})
			return
		default:
			e.store.AppendConfirmed(RoleAssistant, f.Content, f.TurnID)
		}

	case RoleUser:
		switch {
		case class == turnCurrent:
			e.store.Confirm(pending.Sequence)
		case class == turnUnscoped && pending != nil && f.Content == pending.UserContent:
			e.store.Confirm(pending.Sequence)
		case class == turnStale:
			return
		case class == turnUnscoped && pending != nil:
			// Someone else's question, appended after ours. Our reply still
			// follows our own question.
			e.store.AppendConfirmed(RoleUser, f.Content, "")
		default:
			e.store.AppendConfirmed(RoleUser, f.Content, f.TurnID)
		}

	default:
		e.logger.Warn("Engine", "Dropping frame with unknown role", map[string]interface{}{
			"role": f.Role,
		})
		return
	}
	e.publish()
}

func (e *Engine) handleTurnExpired(turnID string) {
	if !e.coord.IsPending(turnID) {
		return
	}
	turn, _ := e.coord.Abandon()
	e.turnTimer = nil
	if e.mode == transport.ModeRequest {
		e.store.Rollback(turn.Sequence)
	}
	e.logger.Warn("Engine", "Turn timed out", map[string]interface{}{
		"session_id": e.session.SessionID,
		"turn_id":    turnID,
		"timeout":    e.turnTimeout.String(),
	})
	e.surface.Raise(SourceRequest, fmt.Sprintf("no reply within %s", e.turnTimeout))
	e.publish()
}

func (e *Engine) armTurnTimer(turnID string) {
	e.stopTurnTimer()
	e.turnTimer = time.AfterFunc(e.turnTimeout, func() {
		e.post(turnExpired{turnID: turnID})
	})
}

func (e *Engine) stopTurnTimer() {
	if e.turnTimer != nil {
		e.turnTimer.Stop()
		e.turnTimer = nil
	}
}

func (e *Engine) publish() {
	e.version++
	s := Snapshot{
		Version:  e.version,
		Session:  e.session,
		Messages: e.store.Messages(),
		State:    e.state,
		Pending:  e.coord.Pending(),
		Notice:   e.surface.Current(),
	}
	e.latest.Store(&s)
	if err := e.notifier.Publish(s); err != nil {
		e.logger.Warn("Engine", "Failed to publish snapshot", map[string]interface{}{
			"version": s.Version,
			"error":   err.Error(),
		})
	}
}

func inputNotice(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Please type a question first."
	case errors.Is(err, ErrTurnAlreadyPending):
		return "Please wait for the current answer before asking again."
	case errors.Is(err, ErrNotConnected):
		return "WebSocket not connected. Please wait..."
	}
	return err.Error()
}

// describe picks the most readable part of a transport failure.
func describe(err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var protoErr *transport.ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Message
	}
	return err.Error()
}
