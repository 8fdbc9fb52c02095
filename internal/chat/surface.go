package chat

import (
	"fmt"
	"time"
)

type Source string

const (
	SourceConnection Source = "connection"
	SourceProtocol   Source = "protocol"
	SourceRequest    Source = "request"
	SourceHistory    Source = "history"
	SourceInput      Source = "input"
)

type Notice struct {
	Source   Source    `json:"source"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
}

// Surface is the single-slot notification area. A new notice replaces the old one.
type Surface struct {
	current *Notice
	now     func() time.Time
}

func NewSurface(now func() time.Time) *Surface {
	if now == nil {
		now = time.Now
	}
	return &Surface{now: now}
}

func (s *Surface) Raise(source Source, detail string) Notice {
	n := Notice{Source: source, Message: formatNotice(source, detail), RaisedAt: s.now()}
	s.current = &n
	return n
}

// Dismiss clears the slot and reports whether anything was showing.
func (s *Surface) Dismiss() bool {
	had := s.current != nil
	s.current = nil
	return had
}

func (s *Surface) Current() *Notice {
	if s.current == nil {
		return nil
	}
	n := *s.current
	return &n
}

func formatNotice(source Source, detail string) string {
	switch source {
	case SourceConnection:
		if detail == "" {
			return "WebSocket connection error"
		}
		return fmt.Sprintf("WebSocket connection error: %s", detail)
	case SourceProtocol:
		return detail
	case SourceRequest:
		if detail == "" {
			return "Failed to send message. Please try again."
		}
		return fmt.Sprintf("Failed to send message: %s", detail)
	case SourceHistory:
		return "Failed to load chat history"
	}
	return detail
}
