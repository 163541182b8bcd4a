package domain

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks messages typed by the human.
	RoleUser Role = "user"
	// RoleAssistant marks replies from the agent.
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation as seen by the chat UI.
// Messages are not persisted by the server.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
