package session

import "time"

// Session is a bounded conversational window for a (user, channel) pair.
// At most one session is active per pair at any time.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ChannelID    string    `json:"channel_id,omitempty"`
	AgentID      string    `json:"agent_id"`
	IsActive     bool      `json:"is_active"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContextMessage is one message in the recent-conversation window.
type ContextMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the derived conversational context handed to the classifier.
type Context struct {
	SessionID      string           `json:"session_id"`
	RecentMessages []ContextMessage `json:"recent_messages"`
	CurrentTopic   string           `json:"current_topic,omitempty"`
}
