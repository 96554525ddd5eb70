// Package store provides SQLite-based persistence for conversation threads,
// response formats and the locally cached message transcript.
package store

import "time"

// Agent roles owning threads. Exactly one thread may be active per role.
const (
	RolePlanner  = "planner"
	RoleRewriter = "rewriter"
)

// Message roles. System messages are synthetic dividers inserted by the
// orchestrator; they carry no remote identity.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// Thread is the locally cached metadata for a remote conversation thread.
type Thread struct {
	LastActivity   time.Time `json:"last_activity"`
	CreatedAt      time.Time `json:"created_at"`
	ActiveFormatID *string   `json:"active_format_id,omitempty"`
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	AssistantID    string    `json:"assistant_id"`
	Title          string    `json:"title,omitempty"`
	MessageCount   int       `json:"message_count"`
	Active         bool      `json:"active"`
}

// Format is a named instruction blob applied to subsequent runs on a thread.
// Predefined catalog entries are immutable; custom entries are user-authored
// and may be updated in place. Formats are never implicitly deleted.
type Format struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Custom       bool      `json:"custom"`
}

// Message is one locally cached transcript entry. Ordering within a thread is
// monotonic by creation time and never reordered.
type Message struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}
