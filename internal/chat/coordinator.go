package chat

import (
	"strings"
	"time"

	"docchat/internal/connection"
	"docchat/internal/transport"

	"github.com/google/uuid"
)

type turnStatus int

const (
	turnPending turnStatus = iota
	turnDone
	turnAbandoned
)

// maxFinishedTurns bounds how many closed turn ids are kept for stale
// classification. Older ids classify as foreign.
const maxFinishedTurns = 64

// turnClass says how an inbound line relates to the turns this client issued.
type turnClass int

const (
	// turnUnscoped lines carry no turn id; they are matched by session only.
	turnUnscoped turnClass = iota
	turnCurrent
	turnStale
	turnForeign
)

// Coordinator enforces one outstanding turn per session.
type Coordinator struct {
	mode    transport.Mode
	pending *PendingTurn
	turns   map[string]turnStatus
	// finished holds closed turn ids, oldest first.
	finished []string
	now      func() time.Time
	newID    func() string
}

func NewCoordinator(mode transport.Mode, now func() time.Time, newID func() string) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Coordinator{
		mode:  mode,
		turns: make(map[string]turnStatus),
		now:   now,
		newID: newID,
	}
}

// Submit validates text, opens the pending turn and appends the optimistic
// user line. Nothing is touched when a precondition fails.
func (c *Coordinator) Submit(text string, state connection.State, store *Store) (PendingTurn, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return PendingTurn{}, ErrInvalidInput
	}
	if c.pending != nil {
		return PendingTurn{}, ErrTurnAlreadyPending
	}
	if c.mode == transport.ModePush && state != connection.Connected {
		return PendingTurn{}, ErrNotConnected
	}

	turn := PendingTurn{
		TurnID:      c.newID(),
		UserContent: content,
		StartedAt:   c.now(),
	}
	turn.Sequence = store.AppendOptimistic(content, turn.TurnID)
	c.pending = &turn
	c.turns[turn.TurnID] = turnPending
	return turn, nil
}

// Pending returns a copy of the outstanding turn, or nil.
func (c *Coordinator) Pending() *PendingTurn {
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// IsPending reports whether turnID is the outstanding turn.
func (c *Coordinator) IsPending(turnID string) bool {
	return c.pending != nil && c.pending.TurnID == turnID
}

// Classify relates an inbound turn id to the turns issued here.
func (c *Coordinator) Classify(turnID string) turnClass {
	if turnID == "" {
		return turnUnscoped
	}
	status, ok := c.turns[turnID]
	switch {
	case !ok:
		return turnForeign
	case status == turnPending:
		return turnCurrent
	default:
		return turnStale
	}
}

// Complete closes the outstanding turn after a reply or a reported failure.
func (c *Coordinator) Complete() (PendingTurn, bool) {
	return c.finish(turnDone)
}

// Abandon closes the outstanding turn without a reply. Late replies for it
// are classified stale.
func (c *Coordinator) Abandon() (PendingTurn, bool) {
	return c.finish(turnAbandoned)
}

func (c *Coordinator) finish(status turnStatus) (PendingTurn, bool) {
	if c.pending == nil {
		return PendingTurn{}, false
	}
	turn := *c.pending
	c.pending = nil
	c.turns[turn.TurnID] = status
	c.finished = append(c.finished, turn.TurnID)
	if len(c.finished) > maxFinishedTurns {
		delete(c.turns, c.finished[0])
		c.finished = c.finished[1:]
	}
	return turn, true
}
