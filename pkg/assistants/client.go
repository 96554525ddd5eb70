package assistants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"duet/pkg/runerrors"
)

// DefaultRequestTimeout bounds every individual API round trip.
const DefaultRequestTimeout = 30 * time.Second

// betaHeader opts a request into the assistants API surface.
const (
	betaHeaderName  = "OpenAI-Beta"
	betaHeaderValue = "assistants=v2"
)

// API is the run-client contract consumed by the poller, the thread manager
// and the orchestrator. Implementations perform one round trip per call and
// never retry.
type API interface {
	// CreateThread creates a new empty remote thread.
	CreateThread(ctx context.Context) (*Thread, error)

	// CreateMessage appends a message to a thread.
	CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error)

	// CreateRun starts an asynchronous run of an assistant over a thread.
	// instructions, when non-empty, is applied on top of the assistant's own
	// prompt for this run only.
	CreateRun(ctx context.Context, threadID, assistantID, instructions string) (*Run, error)

	// GetRun fetches the current status of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// ListMessages returns the thread's messages in ascending creation order.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// Client implements API over the official OpenAI Go client. Bearer auth and
// the beta header are injected uniformly by the underlying transport; this
// package never constructs auth headers itself.
type Client struct {
	api     openai.Client
	timeout time.Duration
}

// NewClient creates an assistants client with the given API key.
func NewClient(apiKey string) *Client {
	return NewClientWithOptions(apiKey, "", DefaultRequestTimeout)
}

// NewClientWithOptions creates an assistants client with an explicit base URL
// (empty means the vendor default) and per-request timeout.
func NewClientWithOptions(apiKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader(betaHeaderName, betaHeaderValue),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		api:     openai.NewClient(opts...),
		timeout: timeout,
	}
}

// CreateThread creates a new empty remote thread.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.api.Post(ctx, "/threads", map[string]any{}, &thread); err != nil {
		return nil, classify(err, runerrors.ResourceThread)
	}
	return &thread, nil
}

// CreateMessage appends a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	params := createMessageParams{Role: role, Content: content}

	var message Message
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.api.Post(ctx, path, params, &message); err != nil {
		return nil, classify(err, runerrors.ResourceMessage)
	}
	return &message, nil
}

// CreateRun starts an asynchronous run of an assistant over a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, instructions string) (*Run, error) {
	params := createRunParams{
		AssistantID:            assistantID,
		AdditionalInstructions: instructions,
	}

	var run Run
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	if err := c.api.Post(ctx, path, params, &run); err != nil {
		return nil, classify(err, runerrors.ResourceRun)
	}
	return &run, nil
}

// GetRun fetches the current status of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.api.Get(ctx, path, nil, &run); err != nil {
		return nil, classify(err, runerrors.ResourceRun)
	}
	return &run, nil
}

// listPageLimit is the page size for list endpoints.
const listPageLimit = 100

// ListMessages returns the thread's messages in ascending creation order,
// following has_more cursors so threads longer than one page come back whole.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var messages []Message
	after := ""
	for {
		path := fmt.Sprintf("/threads/%s/messages?order=asc&limit=%d", threadID, listPageLimit)
		if after != "" {
			path += "&after=" + after
		}

		var envelope list[Message]
		if err := c.api.Get(ctx, path, nil, &envelope); err != nil {
			return nil, classify(err, runerrors.ResourceMessage)
		}
		messages = append(messages, envelope.Data...)

		if !envelope.HasMore || envelope.LastID == "" || len(envelope.Data) == 0 {
			return messages, nil
		}
		after = envelope.LastID
	}
}

// classify maps a transport/API error from the SDK into the closed taxonomy.
func classify(err error, resource runerrors.Resource) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return runerrors.FromStatus(apiErr.StatusCode, resource, apiErr.Message)
	}
	return runerrors.FromTransport(err)
}
