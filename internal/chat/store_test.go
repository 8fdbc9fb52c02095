package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSeedAssignsSequencesAndDropsErrors(t *testing.T) {
	s := NewStore()
	err := s.Seed([]Message{
		{Role: RoleUser, Content: "What is this document about?"},
		{Role: RoleError, Content: "boom"},
		{Role: RoleAssistant, Content: "It is a refund policy."},
	})
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Sequence)
	assert.Equal(t, 2, msgs[1].Sequence)
	assert.False(t, msgs[0].Optimistic)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestStoreSeedAfterAppendFails(t *testing.T) {
	s := NewStore()
	s.AppendOptimistic("hello", "t1")

	err := s.Seed([]Message{{Role: RoleUser, Content: "old"}})
	assert.ErrorIs(t, err, ErrSeedAfterAppend)
	assert.Equal(t, 1, s.Len())
}

func TestStoreAppendConfirmedRefusesErrorRole(t *testing.T) {
	s := NewStore()

	_, err := s.AppendConfirmed(RoleError, "Something went wrong", "")
	assert.ErrorIs(t, err, ErrErrorRole)

	_, err = s.AppendConfirmed(Role("system"), "x", "")
	assert.ErrorIs(t, err, ErrUnknownRole)

	assert.Equal(t, 0, s.Len())
}

func TestStoreConfirmAndRollback(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Seed([]Message{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}))
	before := s.Messages()

	seq := s.AppendOptimistic("Summarize page 2", "t1")
	assert.Equal(t, 3, seq)
	assert.True(t, s.Messages()[2].Optimistic)

	// Rolled back entries leave the log exactly as it was.
	assert.True(t, s.Rollback(seq))
	assert.Equal(t, before, s.Messages())

	seq = s.AppendOptimistic("Summarize page 2", "t2")
	assert.Equal(t, 4, seq, "sequences are never reused")
	assert.True(t, s.Confirm(seq))
	assert.False(t, s.Confirm(seq), "already confirmed")
	assert.False(t, s.Rollback(seq), "confirmed entries cannot be rolled back")
	assert.False(t, s.Rollback(99))
}

func TestStoreMessagesIsACopy(t *testing.T) {
	s := NewStore()
	s.AppendOptimistic("hello", "t1")

	msgs := s.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hello", s.Messages()[0].Content)
}
