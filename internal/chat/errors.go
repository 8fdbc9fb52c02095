package chat

import "errors"

var (
	ErrInvalidInput       = errors.New("question is empty")
	ErrTurnAlreadyPending = errors.New("a question is already waiting for its answer")
	ErrNotConnected       = errors.New("not connected to the chat server")
	ErrEngineClosed       = errors.New("chat engine closed")

	ErrSeedAfterAppend = errors.New("history can only be seeded before the first turn")
	ErrErrorRole       = errors.New("error messages are never stored in the conversation log")
	ErrUnknownRole     = errors.New("unknown message role")
)
