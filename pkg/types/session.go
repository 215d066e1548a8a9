package types

import "time"

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session records one persisted conversation.
type Session struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	Source      string    `json:"source"`
	BaseURL     string    `json:"base_url"`
	Model       string    `json:"model"`
	Status      string    `json:"status"`
	TotalTokens int       `json:"total_tokens"`
	TurnCount   int       `json:"turn_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoredTurn is a transcript entry as persisted for a session.
type StoredTurn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
