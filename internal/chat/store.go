package chat

import "fmt"

// Store is the conversation log. It is not safe for concurrent use: the
// engine's loop goroutine is its only caller.
type Store struct {
	log      []Message
	next     int
	appended bool
}

func NewStore() *Store {
	return &Store{next: 1}
}

// Seed replaces the log with loaded history. It fails once a turn has been
// appended, since history must precede every turn.
func (s *Store) Seed(history []Message) error {
	if s.appended {
		return ErrSeedAfterAppend
	}
	s.log = make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}
		s.log = append(s.log, Message{
			Role:     msg.Role,
			Content:  msg.Content,
			Sequence: s.nextSequence(),
			TurnID:   msg.TurnID,
		})
	}
	return nil
}

// AppendOptimistic records the user's question before the backend has seen it.
func (s *Store) AppendOptimistic(content, turnID string) int {
	s.appended = true
	seq := s.nextSequence()
	s.log = append(s.log, Message{
		Role:       RoleUser,
		Content:    content,
		Sequence:   seq,
		TurnID:     turnID,
		Optimistic: true,
	})
	return seq
}

// AppendConfirmed records a line the backend delivered.
func (s *Store) AppendConfirmed(role Role, content, turnID string) (int, error) {
	switch role {
	case RoleUser, RoleAssistant:
	case RoleError:
		return 0, ErrErrorRole
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	s.appended = true
	seq := s.nextSequence()
	s.log = append(s.log, Message{Role: role, Content: content, Sequence: seq, TurnID: turnID})
	return seq, nil
}

// Confirm clears the optimistic flag of the entry at seq.
func (s *Store) Confirm(seq int) bool {
	i := s.index(seq)
	if i < 0 || !s.log[i].Optimistic {
		return false
	}
	s.log[i].Optimistic = false
	return true
}

// Rollback removes the optimistic entry at seq. Confirmed entries never move.
func (s *Store) Rollback(seq int) bool {
	i := s.index(seq)
	if i < 0 || !s.log[i].Optimistic {
		return false
	}
	s.log = append(s.log[:i], s.log[i+1:]...)
	return true
}

func (s *Store) Len() int {
	return len(s.log)
}

// Messages returns a copy of the log in display order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Store) nextSequence() int {
	seq := s.next
	s.next++
	return seq
}

func (s *Store) index(seq int) int {
	// Recent entries are the ones that get confirmed or rolled back.
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Sequence == seq {
			return i
		}
	}
	return -1
}
