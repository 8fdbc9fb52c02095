package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleError     = "error"

	// STOMP destinations used by the push transport and the relay.
	ChatTopicPrefix        = "/topic/chat/"
	ChatMessageDestination = "/app/chat/message"

	// REST routes served by the relay and consumed by the API client.
	ChatAPIPrefix       = "/api/v1/chat"
	ChatMessagePath     = ChatAPIPrefix + "/message"
	ChatSessionsPath    = ChatAPIPrefix + "/sessions"
	ChatWebSocketPath   = "/ws"
	ChatClusterChannel  = "chat_cluster_frames"
	ChatClusterSubject  = "chat.cluster.frames"
	ChatDefaultGreeting = "Hi, ask me anything about %s."
)

// ChatTopic returns the per-session topic clients subscribe to.
func ChatTopic(sessionID string) string {
	return ChatTopicPrefix + sessionID
}
