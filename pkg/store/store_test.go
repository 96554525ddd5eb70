package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "duet_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testThread(id, role string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:           id,
		Role:         role,
		AssistantID:  "asst_1",
		Active:       true,
		LastActivity: now,
		CreatedAt:    now,
	}
}

func testFormat(id, name string) *Format {
	now := time.Now().UTC()
	return &Format{
		ID:           id,
		Name:         name,
		Instructions: "Reply in bullet points.",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestGetActiveThread_NoneCached(t *testing.T) {
	s := openTestStore(t)

	thread, err := s.GetActiveThread(RolePlanner)
	require.NoError(t, err)
	assert.Nil(t, thread)
}

func TestUpsertAndGetActiveThread(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertThread(testThread("thread_1", RolePlanner)))

	thread, err := s.GetActiveThread(RolePlanner)
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, "thread_1", thread.ID)
	assert.Equal(t, RolePlanner, thread.Role)
	assert.True(t, thread.Active)

	// Other roles are unaffected.
	other, err := s.GetActiveThread(RoleRewriter)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestDeactivateThreads(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertThread(testThread("thread_1", RolePlanner)))
	require.NoError(t, s.DeactivateThreads(RolePlanner))

	thread, err := s.GetActiveThread(RolePlanner)
	require.NoError(t, err)
	assert.Nil(t, thread)

	// The thread record itself survives deactivation.
	cached, err := s.GetThread("thread_1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.False(t, cached.Active)
}

func TestSetActiveFormat_PointerOnly(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertFormat(testFormat("fmt_1", "bullets")))
	require.NoError(t, s.UpsertThread(testThread("thread_1", RolePlanner)))

	formatID := "fmt_1"
	require.NoError(t, s.SetActiveFormat("thread_1", &formatID))

	format, err := s.GetActiveFormat("thread_1")
	require.NoError(t, err)
	require.NotNil(t, format)
	assert.Equal(t, "bullets", format.Name)

	// Clearing the pointer leaves the format definition in place.
	require.NoError(t, s.SetActiveFormat("thread_1", nil))

	format, err = s.GetActiveFormat("thread_1")
	require.NoError(t, err)
	assert.Nil(t, format)

	kept, err := s.GetFormatByName("bullets")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSetActiveFormat_UnknownThread(t *testing.T) {
	s := openTestStore(t)

	formatID := "fmt_1"
	err := s.SetActiveFormat("thread_missing", &formatID)
	assert.Error(t, err)
}

func TestAppendMessage_BumpsThreadCounters(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertThread(testThread("thread_1", RolePlanner)))

	base := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMessage(&Message{
			ID:        content,
			ThreadID:  "thread_1",
			Role:      MessageRoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	thread, err := s.GetThread("thread_1")
	require.NoError(t, err)
	assert.Equal(t, 3, thread.MessageCount)

	count, err := s.MessageCount("thread_1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestListMessages_OrderedByCreation(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertThread(testThread("thread_1", RolePlanner)))

	base := time.Now().UTC()
	// Insert out of order; listing must return creation order.
	require.NoError(t, s.AppendMessage(&Message{
		ID: "msg_2", ThreadID: "thread_1", Role: MessageRoleAssistant,
		Content: "second", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.AppendMessage(&Message{
		ID: "msg_1", ThreadID: "thread_1", Role: MessageRoleUser,
		Content: "first", CreatedAt: base,
	}))

	messages, err := s.ListMessages("thread_1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestSeedFormats_Idempotent(t *testing.T) {
	s := openTestStore(t)

	catalog := []*Format{
		testFormat("fmt_1", "bullets"),
		testFormat("fmt_2", "summary"),
	}
	require.NoError(t, s.SeedFormats(catalog))

	// Simulate a user edit, then reseed: the edit must survive.
	edited := testFormat("fmt_1", "bullets")
	edited.Instructions = "User-edited instructions."
	edited.Custom = true
	require.NoError(t, s.UpsertFormat(edited))

	require.NoError(t, s.SeedFormats(catalog))

	format, err := s.GetFormatByName("bullets")
	require.NoError(t, err)
	assert.Equal(t, "User-edited instructions.", format.Instructions)
	assert.True(t, format.Custom)

	formats, err := s.ListFormats()
	require.NoError(t, err)
	assert.Len(t, formats, 2)
}

func TestUpsertFormat_UpdateInPlace(t *testing.T) {
	s := openTestStore(t)

	format := testFormat("fmt_1", "bullets")
	require.NoError(t, s.UpsertFormat(format))

	format.Instructions = "Use numbered lists."
	format.UpdatedAt = format.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpsertFormat(format))

	got, err := s.GetFormatByName("bullets")
	require.NoError(t, err)
	assert.Equal(t, "Use numbered lists.", got.Instructions)
}
