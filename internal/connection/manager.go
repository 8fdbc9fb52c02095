// Package connection keeps a push transport alive for as long as a chat
// session is open: it connects, reports state changes, retries after a fixed
// delay when the link fails, and tears everything down on Stop.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docchat/internal/pkg/logger"
	"docchat/internal/transport"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrAlreadyStarted    = errors.New("connection manager already started")
)

// CanTransition reports whether from -> to is a legal edge:
// Disconnected -> Connecting -> Connected, and Connecting|Connected -> Disconnected.
func CanTransition(from, to State) bool {
	switch to {
	case Connecting:
		return from == Disconnected
	case Connected:
		return from == Connecting
	case Disconnected:
		return from == Connecting || from == Connected
	}
	return false
}

// Event is emitted on every state change. Conn is set only with Connected;
// Err explains a transition to Disconnected when the link failed.
type Event struct {
	State State
	Conn  transport.Conn
	Err   error
}

type Config struct {
	RetryDelay time.Duration
}

type Manager struct {
	transport transport.Transport
	cfg       Config
	logger    logger.ILogger
	onEvent   func(Event)

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager builds a manager. onEvent runs on the manager's goroutine and
// must not call back into the manager.
func NewManager(t transport.Transport, cfg Config, log logger.ILogger, onEvent func(Event)) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Manager{
		transport: t,
		cfg:       cfg,
		logger:    log,
		onEvent:   onEvent,
		done:      make(chan struct{}),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connect/retry loop. The loop lives until Stop or until
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(ctx)
	return nil
}

// Stop cancels any pending retry or dial, closes the live connection and waits
// for the loop to exit. Safe to call more than once, and before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.started = true
	m.mu.Unlock()

	if !started {
		close(m.done)
		return
	}
	if cancel != nil {
		cancel()
	}
	<-m.done
}

func (m *Manager) transition(to State, conn transport.Conn, err error) {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.logger.Error("Connection", "Refusing state transition", map[string]interface{}{
			"from":  from.String(),
			"to":    to.String(),
			"error": ErrInvalidTransition.Error(),
		})
		return
	}
	m.state = to
	m.mu.Unlock()

	details := map[string]interface{}{"from": from.String(), "to": to.String()}
	if err != nil {
		details["error"] = err.Error()
	}
	m.logger.Info("Connection", "State changed", details)
	m.onEvent(Event{State: to, Conn: conn, Err: err})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for attempt := 1; ; attempt++ {
		m.transition(Connecting, nil, nil)

		conn, err := m.transport.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.transition(Disconnected, nil, nil)
				return
			}
			m.logger.Warn("Connection", "Connect attempt failed", map[string]interface{}{
				"attempt":  attempt,
				"retry_in": m.cfg.RetryDelay.String(),
				"error":    err.Error(),
			})
			m.transition(Disconnected, nil, err)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		attempt = 0
		m.transition(Connected, conn, nil)

		select {
		case <-conn.Done():
			m.transition(Disconnected, nil, conn.Err())
			conn.Close()
		case <-ctx.Done():
			conn.Close()
			m.transition(Disconnected, nil, nil)
			return
		}

		if !m.sleep(ctx) {
			return
		}
	}
}

// sleep waits out the retry delay; false means the manager was stopped.
func (m *Manager) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
