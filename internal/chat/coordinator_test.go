package chat

import (
	"fmt"
	"testing"
	"time"

	"docchat/internal/connection"
	"docchat/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("turn-%d", n)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCoordinatorPreconditionOrder(t *testing.T) {
	store := NewStore()
	c := NewCoordinator(transport.ModePush, nil, sequentialIDs())

	// Blank input wins over every other failure.
	_, err := c.Submit("   \n", connection.Disconnected, store)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Submit("What is the refund policy?", connection.Connecting, store)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, store.Len())

	turn, err := c.Submit("  What is the refund policy?  ", connection.Connected, store)
	require.NoError(t, err)
	assert.Equal(t, "What is the refund policy?", turn.UserContent)
	assert.Equal(t, "turn-1", turn.TurnID)

	// A pending turn is reported before the connection state.
	_, err = c.Submit("another", connection.Disconnected, store)
	assert.ErrorIs(t, err, ErrTurnAlreadyPending)
	assert.Equal(t, 1, store.Len())
}

func TestCoordinatorRequestModeIgnoresConnectionState(t *testing.T) {
	store := NewStore()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCoordinator(transport.ModeRequest, fixedClock(started), sequentialIDs())

	turn, err := c.Submit("Summarize page 2", connection.Disconnected, store)
	require.NoError(t, err)
	assert.Equal(t, started, turn.StartedAt)
	assert.Equal(t, 1, turn.Sequence)

	pending := c.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, turn, *pending)
}

func TestCoordinatorClassify(t *testing.T) {
	store := NewStore()
	c := NewCoordinator(transport.ModePush, nil, sequentialIDs())

	assert.Equal(t, turnUnscoped, c.Classify(""))
	assert.Equal(t, turnForeign, c.Classify("someone-else"))

	_, err := c.Submit("one", connection.Connected, store)
	require.NoError(t, err)
	assert.Equal(t, turnCurrent, c.Classify("turn-1"))
	assert.True(t, c.IsPending("turn-1"))

	_, ok := c.Abandon()
	require.True(t, ok)
	assert.Equal(t, turnStale, c.Classify("turn-1"))
	assert.Nil(t, c.Pending())

	_, err = c.Submit("two", connection.Connected, store)
	require.NoError(t, err)
	done, ok := c.Complete()
	require.True(t, ok)
	assert.Equal(t, "turn-2", done.TurnID)
	assert.Equal(t, turnStale, c.Classify("turn-2"))

	_, ok = c.Complete()
	assert.False(t, ok)
}

func TestCoordinatorForgetsOldTurns(t *testing.T) {
	store := NewStore()
	c := NewCoordinator(transport.ModeRequest, nil, sequentialIDs())

	for i := 0; i < maxFinishedTurns+2; i++ {
		_, err := c.Submit("q", connection.Connected, store)
		require.NoError(t, err)
		_, ok := c.Complete()
		require.True(t, ok)
	}

	assert.Len(t, c.turns, maxFinishedTurns)
	assert.Equal(t, turnForeign, c.Classify("turn-1"))
	assert.Equal(t, turnForeign, c.Classify("turn-2"))
	assert.Equal(t, turnStale, c.Classify("turn-3"))
	assert.Equal(t, turnStale, c.Classify(fmt.Sprintf("turn-%d", maxFinishedTurns+2)))

	// The outstanding turn is never evicted.
	_, err := c.Submit("q", connection.Connected, store)
	require.NoError(t, err)
	assert.Len(t, c.turns, maxFinishedTurns+1)
	assert.Equal(t, turnCurrent, c.Classify(fmt.Sprintf("turn-%d", maxFinishedTurns+3)))
}
