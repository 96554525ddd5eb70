// Package threads owns the mapping from agent roles to remote conversation
// threads and the active response format of each thread.
package threads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duet/pkg/assistants"
	"duet/pkg/logx"
	"duet/pkg/runerrors"
	"duet/pkg/store"
)

// Manager resolves the active thread per agent role, creating remote threads
// on demand and transparently recreating them when the cached id goes stale.
//
// The cached active-thread-per-role pointer is the only shared mutable state
// in the pipeline; a per-role mutex enforces single-writer discipline on it.
type Manager struct {
	client     assistants.API
	store      *store.Store
	logger     *logx.Logger
	assistants map[string]string // role -> assistant id
	locks      map[string]*sync.Mutex
	mu         sync.Mutex
}

// NewManager creates a thread manager. assistantIDs maps each agent role to
// the remote assistant that serves it.
func NewManager(client assistants.API, st *store.Store, assistantIDs map[string]string) *Manager {
	return &Manager{
		client:     client,
		store:      st,
		logger:     logx.NewLogger("threads"),
		assistants: assistantIDs,
		locks:      make(map[string]*sync.Mutex),
	}
}

// roleLock returns the mutex guarding a role's active-thread pointer.
func (m *Manager) roleLock(role string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[role]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[role] = lock
	}
	return lock
}

// EnsureThread returns the cached active thread for a role, creating one
// remotely (and persisting the mapping) if none exists. Safe to call
// repeatedly: the cached pointer is checked first, so no duplicate remote
// threads are created for the same role.
func (m *Manager) EnsureThread(ctx context.Context, role string) (*store.Thread, error) {
	lock := m.roleLock(role)
	lock.Lock()
	defer lock.Unlock()

	return m.ensureThreadLocked(ctx, role)
}

func (m *Manager) ensureThreadLocked(ctx context.Context, role string) (*store.Thread, error) {
	thread, err := m.store.GetActiveThread(role)
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}

	return m.createThreadLocked(ctx, role, nil)
}

// createThreadLocked creates a remote thread for the role and persists it as
// the role's active thread. carryFormat, when non-nil, is re-applied to the
// replacement thread. Caller must hold the role lock.
func (m *Manager) createThreadLocked(ctx context.Context, role string, carryFormat *string) (*store.Thread, error) {
	assistantID, ok := m.assistants[role]
	if !ok || assistantID == "" {
		return nil, runerrors.New(runerrors.KindAssistantNotFound,
			fmt.Sprintf("no assistant configured for role %q", role))
	}

	remote, err := m.client.CreateThread(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	thread := &store.Thread{
		ID:             remote.ID,
		Role:           role,
		AssistantID:    assistantID,
		ActiveFormatID: carryFormat,
		Active:         true,
		LastActivity:   now,
		CreatedAt:      now,
	}

	if err := m.store.DeactivateThreads(role); err != nil {
		return nil, err
	}
	if err := m.store.UpsertThread(thread); err != nil {
		return nil, err
	}

	m.logger.Info("Created thread %s for role %s (assistant %s)", thread.ID, role, assistantID)
	return thread, nil
}

// NewThread abandons the role's current thread (keeping its local transcript)
// and starts a fresh one. The new thread starts with no active format.
func (m *Manager) NewThread(ctx context.Context, role string) (*store.Thread, error) {
	lock := m.roleLock(role)
	lock.Lock()
	defer lock.Unlock()

	if old, err := m.store.GetActiveThread(role); err == nil && old != nil {
		if count, cerr := m.store.MessageCount(old.ID); cerr == nil {
			m.logger.Info("Abandoning thread %s for role %s (%d cached messages)", old.ID, role, count)
		}
	}

	if err := m.store.DeactivateThreads(role); err != nil {
		return nil, err
	}
	return m.createThreadLocked(ctx, role, nil)
}

// SetFormat activates a format on a thread. The definition is upserted (so
// user edits of custom formats land here too) and the thread's active-format
// pointer moves; any previously active format is thereby deactivated. The
// thread's message history and identifier are never touched, so a pure
// format change preserves conversation context.
func (m *Manager) SetFormat(threadID string, format *store.Format) error {
	if format == nil {
		return runerrors.New(runerrors.KindFormatNotSet, "no format given")
	}
	if err := m.store.UpsertFormat(format); err != nil {
		return err
	}
	if err := m.store.SetActiveFormat(threadID, &format.ID); err != nil {
		return err
	}

	m.logger.Debug("Thread %s format set to %q", threadID, format.Name)
	return nil
}

// DeactivateFormat clears the thread's active-format pointer without deleting
// the format definition.
func (m *Manager) DeactivateFormat(threadID string) error {
	return m.store.SetActiveFormat(threadID, nil)
}

// ActiveInstructions returns the instruction blob of the thread's active
// format, or empty when none is set.
func (m *Manager) ActiveInstructions(threadID string) (string, error) {
	format, err := m.store.GetActiveFormat(threadID)
	if err != nil {
		return "", err
	}
	if format == nil {
		return "", nil
	}
	return format.Instructions, nil
}

// WithThread resolves the role's thread and runs fn against it. If fn fails
// because the cached thread id is stale (a 404-class ThreadNotFound), the
// thread is recreated remotely, the last known active format is re-applied,
// and fn is retried exactly once. Every other error kind surfaces verbatim.
func (m *Manager) WithThread(ctx context.Context, role string, fn func(*store.Thread) error) error {
	lock := m.roleLock(role)
	lock.Lock()
	thread, err := m.ensureThreadLocked(ctx, role)
	lock.Unlock()
	if err != nil {
		return err
	}

	err = fn(thread)
	if !runerrors.Is(err, runerrors.KindThreadNotFound) {
		return err
	}

	m.logger.Warn("Thread %s for role %s is gone remotely; recreating once", thread.ID, role)

	lock.Lock()
	replacement, rerr := m.createThreadLocked(ctx, role, thread.ActiveFormatID)
	lock.Unlock()
	if rerr != nil {
		return rerr
	}

	return fn(replacement)
}
