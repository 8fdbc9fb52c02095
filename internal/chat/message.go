package chat

import (
	"time"

	"docchat/internal/connection"
	"docchat/internal/constant"
)

type Role string

const (
	RoleUser      Role = constant.ChatMessageRoleUser
	RoleAssistant Role = constant.ChatMessageRoleAssistant
	RoleError     Role = constant.ChatMessageRoleError
)

// Session identifies the document conversation an engine is bound to. It is
// handed over by the upload flow and never changes.
type Session struct {
	SessionID    string `json:"sessionId"`
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
}

type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Sequence int    `json:"sequence"`
	TurnID   string `json:"turnId,omitempty"`
	// Optimistic marks a user line the backend has not acknowledged yet.
	Optimistic bool `json:"optimistic,omitempty"`
}

type PendingTurn struct {
	TurnID      string    `json:"turnId"`
	UserContent string    `json:"userContent"`
	Sequence    int       `json:"sequence"`
	StartedAt   time.Time `json:"startedAt"`
}

// Snapshot is an immutable copy of everything an observer may render.
type Snapshot struct {
	Version  uint64           `json:"version"`
	Session  Session          `json:"session"`
	Messages []Message        `json:"messages"`
	State    connection.State `json:"state"`
	Pending  *PendingTurn     `json:"pending,omitempty"`
	Notice   *Notice          `json:"notice,omitempty"`
}

// Loading reports whether a reply is outstanding (the typing indicator).
func (s Snapshot) Loading() bool {
	return s.Pending != nil
}

// CanSend reports whether the input box should accept a question.
func (s Snapshot) CanSend() bool {
	return s.Pending == nil && s.State == connection.Connected
}
