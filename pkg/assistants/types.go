// Package assistants provides a thin client for the thread-based assistants
// REST surface: threads, messages and runs. Each call is a single network
// round trip; retry policy belongs to the callers.
package assistants

import "strings"

// Message roles on a thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RunStatus is the lifecycle status of an asynchronous run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the status ends the run's lifecycle.
// requires_action is terminal here: there is no tool-execution loop, so a run
// waiting for tool output can never make progress.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusRequiresAction:
		return true
	default:
		return false
	}
}

// Thread is a server-side ordered conversation container.
type Thread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// RunError is the failure detail attached to a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one asynchronous inference pass over a thread. Runs are ephemeral
// and never persisted; the poller owns a run for its lifetime.
type Run struct {
	LastError   *RunError `json:"last_error,omitempty"`
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      RunStatus `json:"status"`
	CreatedAt   int64     `json:"created_at"`
}

// TextContent is the text body of a message content block.
type TextContent struct {
	Value string `json:"value"`
}

// ContentBlock is one typed block of message content. Only text blocks are
// consumed; other block types are skipped.
type ContentBlock struct {
	Text *TextContent `json:"text,omitempty"`
	Type string       `json:"type"`
}

// Message is an ordered, immutable thread entry.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt int64          `json:"created_at"`
}

// Text joins the message's text content blocks into a single string.
func (m *Message) Text() string {
	var parts []string
	for i := range m.Content {
		block := &m.Content[i]
		if block.Type == "text" && block.Text != nil {
			parts = append(parts, block.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}

// list is the envelope wrapping collection responses.
type list[T any] struct {
	Data    []T    `json:"data"`
	FirstID string `json:"first_id"`
	LastID  string `json:"last_id"`
	HasMore bool   `json:"has_more"`
}

// createMessageParams is the body for message creation.
type createMessageParams struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// createRunParams is the body for run creation. AdditionalInstructions
// carries the active response format so the assistant's own system prompt is
// preserved.
type createRunParams struct {
	AssistantID            string `json:"assistant_id"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
}
