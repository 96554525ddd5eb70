// Package chat is the user-facing surface over the two-agent pipeline:
// sending messages, picking response formats and reading transcripts.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"duet/pkg/handoff"
	"duet/pkg/logx"
	"duet/pkg/metrics"
	"duet/pkg/store"
	"duet/pkg/threads"
	"duet/pkg/utils"
)

const (
	// DefaultMaxMessageChars is the default maximum length for a chat message.
	DefaultMaxMessageChars = 4096

	// TruncationSuffix is appended to messages that exceed the max length.
	TruncationSuffix = " … [truncated]"

	// minMessageChars is the smallest usable cap. Configured values below it
	// fall back to the default so truncation always has room for the suffix.
	minMessageChars = 4 * len(TruncationSuffix)
)

// Service coordinates turns, formats and transcripts for a UI or REPL.
type Service struct {
	orchestrator *handoff.Orchestrator
	manager      *threads.Manager
	store        *store.Store
	recorder     metrics.Recorder
	counter      *utils.TokenCounter
	logger       *logx.Logger
	maxChars     int
}

// NewService wires the chat surface. A maxMessageChars of zero, or one too
// small to hold the truncation suffix, uses the default; a nil token counter
// falls back to simple estimation.
func NewService(orchestrator *handoff.Orchestrator, manager *threads.Manager, st *store.Store, recorder metrics.Recorder, counter *utils.TokenCounter, maxMessageChars int) *Service {
	if maxMessageChars < minMessageChars {
		maxMessageChars = DefaultMaxMessageChars
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Service{
		orchestrator: orchestrator,
		manager:      manager,
		store:        st,
		recorder:     recorder,
		counter:      counter,
		logger:       logx.NewLogger("chat"),
		maxChars:     maxMessageChars,
	}
}

// SendMessage runs one conversation turn. Oversized input is truncated with
// a visible suffix before it reaches the planner. Token usage for the prompt
// and the final answer is estimated and fed to the metrics recorder.
func (s *Service) SendMessage(ctx context.Context, text string) (*handoff.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}

	if len(text) > s.maxChars {
		original := len(text)
		text = truncate(text, s.maxChars)
		s.logger.Debug("Truncated message (original: %d chars, max: %d)", original, s.maxChars)
	}

	result, err := s.orchestrator.Turn(ctx, text)
	if err != nil {
		return result, err
	}

	s.accountTokens(result, text)
	return result, nil
}

// truncate cuts text to at most maxChars bytes including the suffix, backing
// up so a multi-byte rune is never split.
func truncate(text string, maxChars int) string {
	cut := maxChars - len(TruncationSuffix)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationSuffix
}

// accountTokens estimates prompt and completion token usage for the turn.
func (s *Service) accountTokens(result *handoff.TurnResult, prompt string) {
	if len(result.Messages) == 0 {
		return
	}
	threadID := result.Messages[0].ThreadID

	agent := store.RolePlanner
	if result.Handoff {
		agent = store.RoleRewriter
	}

	s.recorder.AddTokens(store.RolePlanner, threadID, metrics.TokenTypePrompt, s.countTokens(prompt))
	s.recorder.AddTokens(agent, threadID, metrics.TokenTypeCompletion, s.countTokens(result.Answer))
}

func (s *Service) countTokens(text string) int {
	if s.counter != nil {
		return s.counter.CountTokens(text)
	}
	return utils.CountTokensSimple(text)
}

// SelectFormat activates a format by name on the role's current thread. The
// conversation history and thread identity are preserved.
func (s *Service) SelectFormat(ctx context.Context, role, name string) error {
	format, err := s.store.GetFormatByName(name)
	if err != nil {
		return err
	}
	if format == nil {
		return fmt.Errorf("unknown format %q", name)
	}

	thread, err := s.manager.EnsureThread(ctx, role)
	if err != nil {
		return err
	}
	return s.manager.SetFormat(thread.ID, format)
}

// ClearFormat removes the active format from the role's current thread.
func (s *Service) ClearFormat(ctx context.Context, role string) error {
	thread, err := s.manager.EnsureThread(ctx, role)
	if err != nil {
		return err
	}
	return s.manager.DeactivateFormat(thread.ID)
}

// CreateCustomFormat stores a user-authored format and activates it on the
// role's current thread. An existing custom format of the same name is
// updated in place.
func (s *Service) CreateCustomFormat(ctx context.Context, role, name, instructions string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("format name must not be empty")
	}
	if strings.TrimSpace(instructions) == "" {
		return fmt.Errorf("format instructions must not be empty")
	}

	now := time.Now().UTC()
	format, err := s.store.GetFormatByName(name)
	if err != nil {
		return err
	}
	if format == nil {
		format = &store.Format{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: now,
		}
	} else if !format.Custom {
		return fmt.Errorf("format %q is predefined and cannot be edited", name)
	}
	format.Instructions = instructions
	format.Custom = true
	format.UpdatedAt = now

	thread, err := s.manager.EnsureThread(ctx, role)
	if err != nil {
		return err
	}
	return s.manager.SetFormat(thread.ID, format)
}

// ListFormats returns all known format definitions.
func (s *Service) ListFormats() ([]*store.Format, error) {
	return s.store.ListFormats()
}

// NewThread abandons the role's current conversation and starts a fresh one.
func (s *Service) NewThread(ctx context.Context, role string) (*store.Thread, error) {
	return s.manager.NewThread(ctx, role)
}

// ActiveThread returns the role's current thread, creating one if needed.
func (s *Service) ActiveThread(ctx context.Context, role string) (*store.Thread, error) {
	return s.manager.EnsureThread(ctx, role)
}

// Transcript returns the cached visible transcript of the role's current
// thread, oldest first.
func (s *Service) Transcript(ctx context.Context, role string) ([]*store.Message, error) {
	thread, err := s.manager.EnsureThread(ctx, role)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(thread.ID)
}
