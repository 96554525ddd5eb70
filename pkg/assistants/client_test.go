package assistants

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Text_JoinsTextBlocks(t *testing.T) {
	msg := Message{
		Content: []ContentBlock{
			{Type: "text", Text: &TextContent{Value: "first"}},
			{Type: "image_file"},
			{Type: "text", Text: &TextContent{Value: "second"}},
		},
	}
	assert.Equal(t, "first\nsecond", msg.Text())
}

func TestMessage_Text_Empty(t *testing.T) {
	msg := Message{}
	assert.Equal(t, "", msg.Text())
}

func TestRunStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusQueued, false},
		{RunStatusInProgress, false},
		{RunStatusCancelling, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
		{RunStatusExpired, true},
		{RunStatusRequiresAction, true}, // no tool loop, so terminal
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestRun_DecodesFailureDetail(t *testing.T) {
	raw := `{
		"id": "run_1",
		"thread_id": "thread_1",
		"assistant_id": "asst_1",
		"status": "failed",
		"created_at": 1700000000,
		"last_error": {"code": "rate_limit_exceeded", "message": "slow down"}
	}`

	var run Run
	require.NoError(t, json.Unmarshal([]byte(raw), &run))
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "rate_limit_exceeded", run.LastError.Code)
	assert.Equal(t, "slow down", run.LastError.Message)
}

func TestListEnvelope_Decodes(t *testing.T) {
	raw := `{
		"data": [
			{"id": "msg_1", "role": "user", "content": [{"type": "text", "text": {"value": "hi"}}], "created_at": 1},
			{"id": "msg_2", "role": "assistant", "content": [{"type": "text", "text": {"value": "hello"}}], "created_at": 2}
		],
		"first_id": "msg_1",
		"last_id": "msg_2",
		"has_more": false
	}`

	var envelope list[Message]
	require.NoError(t, json.Unmarshal([]byte(raw), &envelope))
	require.Len(t, envelope.Data, 2)
	assert.Equal(t, "hi", envelope.Data[0].Text())
	assert.Equal(t, RoleAssistant, envelope.Data[1].Role)
}

// pageJSON renders one list page of user messages msg_<from>..msg_<to>, with
// the final message authored by the assistant when it ends the thread.
func pageJSON(from, to, total int, hasMore bool) string {
	var items []string
	for i := from; i <= to; i++ {
		role := RoleUser
		if i == total {
			role = RoleAssistant
		}
		items = append(items, fmt.Sprintf(
			`{"id": "msg_%d", "role": "%s", "content": [{"type": "text", "text": {"value": "m%d"}}], "created_at": %d}`,
			i, role, i, i))
	}
	return fmt.Sprintf(`{"data": [%s], "first_id": "msg_%d", "last_id": "msg_%d", "has_more": %t}`,
		strings.Join(items, ","), from, to, hasMore)
}

func TestListMessages_PaginatesBeyondOnePage(t *testing.T) {
	const total = 103

	var afterParams []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_1/messages", r.URL.Path)
		require.Equal(t, "asc", r.URL.Query().Get("order"))

		after := r.URL.Query().Get("after")
		afterParams = append(afterParams, after)

		w.Header().Set("Content-Type", "application/json")
		switch after {
		case "":
			fmt.Fprint(w, pageJSON(1, listPageLimit, total, true))
		case fmt.Sprintf("msg_%d", listPageLimit):
			fmt.Fprint(w, pageJSON(listPageLimit+1, total, total, false))
		default:
			t.Errorf("unexpected after cursor %q", after)
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client := NewClientWithOptions("sk-test", server.URL, time.Second)
	messages, err := client.ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)

	require.Len(t, messages, total)
	assert.Equal(t, []string{"", fmt.Sprintf("msg_%d", listPageLimit)}, afterParams)

	last := messages[len(messages)-1]
	assert.Equal(t, fmt.Sprintf("msg_%d", total), last.ID)
	assert.Equal(t, RoleAssistant, last.Role)
}
