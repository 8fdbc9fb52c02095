package dto

// ChatMessageDTO is one conversation entry as it travels on the wire, both in
// history responses and as the body of inbound push frames.
type ChatMessageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TurnId  string `json:"turnId,omitempty"`
}

// ChatMessageRequest is published to the chat destination (push mode) or
// POSTed to the message endpoint (request/response mode).
type ChatMessageRequest struct {
	SessionId string `json:"sessionId" validate:"required"`
	Question  string `json:"question" validate:"required"`
	TurnId    string `json:"turnId,omitempty"`
}

type ChatSessionResponse struct {
	SessionId       string           `json:"sessionId"`
	DocumentId      string           `json:"documentId"`
	DocumentName    string           `json:"documentName"`
	Messages        []ChatMessageDTO `json:"messages"`
	CurrentResponse string           `json:"currentResponse,omitempty"`
}

type CreateSessionRequest struct {
	DocumentId   string `json:"documentId" validate:"required"`
	DocumentName string `json:"documentName" validate:"required"`
}

// ErrorResponse is the envelope every non-2xx API response carries.
type ErrorResponse struct {
	Message string `json:"message"`
}
