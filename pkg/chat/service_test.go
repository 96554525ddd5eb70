package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/pkg/assistants"
	"duet/pkg/handoff"
	"duet/pkg/metrics"
	"duet/pkg/runner"
	"duet/pkg/store"
	"duet/pkg/threads"
)

// echoAPI answers every run by echoing the newest user message back,
// prefixed so tests can tell input from output.
type echoAPI struct {
	remote    map[string][]assistants.Message
	threadSeq int
	msgSeq    int
}

func newEchoAPI() *echoAPI {
	return &echoAPI{remote: make(map[string][]assistants.Message)}
}

func (e *echoAPI) CreateThread(_ context.Context) (*assistants.Thread, error) {
	e.threadSeq++
	return &assistants.Thread{ID: fmt.Sprintf("thread_%d", e.threadSeq)}, nil
}

func (e *echoAPI) CreateMessage(_ context.Context, threadID, role, content string) (*assistants.Message, error) {
	e.msgSeq++
	msg := assistants.Message{
		ID:       fmt.Sprintf("msg_%d", e.msgSeq),
		ThreadID: threadID,
		Role:     role,
		Content: []assistants.ContentBlock{
			{Type: "text", Text: &assistants.TextContent{Value: content}},
		},
	}
	e.remote[threadID] = append(e.remote[threadID], msg)
	return &msg, nil
}

func (e *echoAPI) CreateRun(_ context.Context, threadID, assistantID, _ string) (*assistants.Run, error) {
	reply := "echo: " + e.lastUserMessage(threadID)
	e.msgSeq++
	e.remote[threadID] = append(e.remote[threadID], assistants.Message{
		ID:       fmt.Sprintf("msg_%d", e.msgSeq),
		ThreadID: threadID,
		Role:     assistants.RoleAssistant,
		Content: []assistants.ContentBlock{
			{Type: "text", Text: &assistants.TextContent{Value: reply}},
		},
	})
	return &assistants.Run{
		ID:          fmt.Sprintf("run_%d", e.msgSeq),
		ThreadID:    threadID,
		AssistantID: assistantID,
		Status:      assistants.RunStatusCompleted,
	}, nil
}

func (e *echoAPI) GetRun(_ context.Context, threadID, runID string) (*assistants.Run, error) {
	return &assistants.Run{ID: runID, ThreadID: threadID, Status: assistants.RunStatusCompleted}, nil
}

func (e *echoAPI) ListMessages(_ context.Context, threadID string) ([]assistants.Message, error) {
	return e.remote[threadID], nil
}

func (e *echoAPI) lastUserMessage(threadID string) string {
	msgs := e.remote[threadID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == assistants.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

func newTestService(t *testing.T, maxChars int) (*Service, *echoAPI) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	api := newEchoAPI()
	poller := runner.NewPoller(api, runner.Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		BackoffFactor:   1.2,
		MaxWait:         500 * time.Millisecond,
	}, nil)
	manager := threads.NewManager(api, st, map[string]string{
		store.RolePlanner:  "asst_planner",
		store.RoleRewriter: "asst_rewriter",
	})
	orchestrator := handoff.NewOrchestrator(api, poller, manager, st, nil, nil)
	return NewService(orchestrator, manager, st, nil, nil, maxChars), api
}

func TestSendMessage_EmptyInputRejected(t *testing.T) {
	service, _ := newTestService(t, 0)

	_, err := service.SendMessage(context.Background(), "   \n")
	require.Error(t, err)
}

func TestSendMessage_RoundTrip(t *testing.T) {
	service, _ := newTestService(t, 0)

	result, err := service.SendMessage(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there", result.Answer)
	assert.False(t, result.Handoff)
}

func TestSendMessage_TruncatesOversizedInput(t *testing.T) {
	maxChars := 64
	service, api := newTestService(t, maxChars)

	long := strings.Repeat("x", 500)
	result, err := service.SendMessage(context.Background(), long)
	require.NoError(t, err)

	sent := api.lastUserMessage(result.Messages[0].ThreadID)
	assert.Len(t, sent, maxChars)
	assert.True(t, strings.HasSuffix(sent, TruncationSuffix))
}

func TestSendMessage_TinyCapFallsBackToDefault(t *testing.T) {
	// A cap smaller than the truncation suffix must not blow up slicing;
	// it falls back to the default instead.
	service, api := newTestService(t, 5)

	long := strings.Repeat("x", DefaultMaxMessageChars+500)
	result, err := service.SendMessage(context.Background(), long)
	require.NoError(t, err)

	sent := api.lastUserMessage(result.Messages[0].ThreadID)
	assert.Len(t, sent, DefaultMaxMessageChars)
	assert.True(t, strings.HasSuffix(sent, TruncationSuffix))
}

func TestSendMessage_TruncationKeepsRuneBoundary(t *testing.T) {
	maxChars := 64
	service, api := newTestService(t, maxChars)

	// 1 single-byte rune followed by 3-byte runes, so the raw cut position
	// lands mid-rune.
	long := "a" + strings.Repeat("€", 200)
	result, err := service.SendMessage(context.Background(), long)
	require.NoError(t, err)

	sent := api.lastUserMessage(result.Messages[0].ThreadID)
	assert.True(t, utf8.ValidString(sent), "truncation split a rune: %q", sent)
	assert.LessOrEqual(t, len(sent), maxChars)
	assert.True(t, strings.HasSuffix(sent, TruncationSuffix))
}

// recordingRecorder captures AddTokens observations.
type recordingRecorder struct {
	tokens map[string]int // tokenType -> total
}

func (r *recordingRecorder) ObserveRun(_, _, _ string, _ int, _ time.Duration) {}
func (r *recordingRecorder) ObserveTurn(_ string, _ time.Duration)            {}
func (r *recordingRecorder) AddTokens(_, _, tokenType string, tokens int) {
	if r.tokens == nil {
		r.tokens = make(map[string]int)
	}
	r.tokens[tokenType] += tokens
}

func TestSendMessage_AccountsTokensWithoutCounter(t *testing.T) {
	service, _ := newTestService(t, 0)
	recorder := &recordingRecorder{}
	service.recorder = recorder
	service.counter = nil

	_, err := service.SendMessage(context.Background(), "count the tokens of this message")
	require.NoError(t, err)

	assert.Greater(t, recorder.tokens[metrics.TokenTypePrompt], 0)
	assert.Greater(t, recorder.tokens[metrics.TokenTypeCompletion], 0)
}

func TestSelectFormat(t *testing.T) {
	service, _ := newTestService(t, 0)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, service.store.UpsertFormat(&store.Format{
		ID: "fmt_1", Name: "bullets", Instructions: "Use bullets.",
		CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, service.SelectFormat(ctx, store.RolePlanner, "bullets"))

	thread, err := service.manager.EnsureThread(ctx, store.RolePlanner)
	require.NoError(t, err)
	instructions, err := service.manager.ActiveInstructions(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Use bullets.", instructions)

	err = service.SelectFormat(ctx, store.RolePlanner, "no-such-format")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestCreateCustomFormat(t *testing.T) {
	service, _ := newTestService(t, 0)
	ctx := context.Background()

	require.NoError(t, service.CreateCustomFormat(ctx, store.RolePlanner, "mine", "Do it my way."))

	format, err := service.store.GetFormatByName("mine")
	require.NoError(t, err)
	require.NotNil(t, format)
	assert.True(t, format.Custom)

	// Editing updates in place under the same id.
	require.NoError(t, service.CreateCustomFormat(ctx, store.RolePlanner, "mine", "Do it another way."))
	updated, err := service.store.GetFormatByName("mine")
	require.NoError(t, err)
	assert.Equal(t, format.ID, updated.ID)
	assert.Equal(t, "Do it another way.", updated.Instructions)
}

func TestCreateCustomFormat_PredefinedProtected(t *testing.T) {
	service, _ := newTestService(t, 0)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, service.store.UpsertFormat(&store.Format{
		ID: "fmt_1", Name: "bullets", Instructions: "Use bullets.",
		CreatedAt: now, UpdatedAt: now,
	}))

	err := service.CreateCustomFormat(ctx, store.RolePlanner, "bullets", "Overwrite attempt.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predefined")
}

func TestNewThreadAndTranscript(t *testing.T) {
	service, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := service.SendMessage(ctx, "first turn")
	require.NoError(t, err)

	transcript, err := service.Transcript(ctx, store.RolePlanner)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "first turn", transcript[0].Content)

	fresh, err := service.NewThread(ctx, store.RolePlanner)
	require.NoError(t, err)

	transcript, err = service.Transcript(ctx, store.RolePlanner)
	require.NoError(t, err)
	assert.Empty(t, transcript)
	assert.NotEmpty(t, fresh.ID)
}
