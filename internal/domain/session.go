package domain

import "time"

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session represents a conversation kept in memory between turns
type Session struct {
	ID           string         `json:"session_id"`
	Messages     []Message      `json:"messages"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"` // assistant messages only
}

// SessionInfo is the summary returned by the session endpoint
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// MemoryStats is an approximate health signal of the conversation store
type MemoryStats struct {
	TotalSessions  int `json:"total_sessions"`
	TotalMessages  int `json:"total_messages"`
	ActiveSessions int `json:"active_sessions"`
}
