package entity

import (
	"time"
)

type ChatMessage struct {
	Role      string
	Content   string
	TurnId    string
	CreatedAt time.Time
}
