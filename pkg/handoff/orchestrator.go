package handoff

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"duet/pkg/assistants"
	"duet/pkg/logx"
	"duet/pkg/metrics"
	"duet/pkg/runner"
	"duet/pkg/store"
	"duet/pkg/threads"
)

// Divider texts synthesized into the visible transcript around a handoff.
// Dividers are local-only: they carry no remote identity and are never sent
// to the API.
const (
	DividerHandoffInProgress = "handoff in progress"
	DividerPayloadAccepted   = "payload accepted"
)

// TurnResult is the outcome of one conversation turn: the ordered messages
// that were emitted into the visible transcript, and the final answer text.
type TurnResult struct {
	// Messages are the transcript entries this turn produced, in emission
	// order. On error the slice holds whatever was emitted before the
	// failure; nothing is rolled back.
	Messages []*store.Message
	// Answer is the final answer text shown to the user. Empty on error.
	Answer string
	// Handoff reports whether the rewriter produced the answer.
	Handoff bool
}

// Orchestrator runs the two-agent pipeline for a conversation turn: user
// input goes to the planner; if the planner's reply opens with the handoff
// marker, the extracted payload is forwarded to the rewriter whose reply
// becomes the final answer.
type Orchestrator struct {
	client   assistants.API
	poller   *runner.Poller
	manager  *threads.Manager
	store    *store.Store
	recorder metrics.Recorder
	classify Classifier
	logger   *logx.Logger

	// turnLocks serializes turns per thread id.
	turnLocks map[string]*sync.Mutex
	mu        sync.Mutex
}

// NewOrchestrator wires the pipeline. A nil classifier falls back to
// ClassifyReply; a nil recorder discards observations.
func NewOrchestrator(client assistants.API, poller *runner.Poller, manager *threads.Manager, st *store.Store, recorder metrics.Recorder, classify Classifier) *Orchestrator {
	if classify == nil {
		classify = ClassifyReply
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Orchestrator{
		client:    client,
		poller:    poller,
		manager:   manager,
		store:     st,
		recorder:  recorder,
		classify:  classify,
		logger:    logx.NewLogger("handoff"),
		turnLocks: make(map[string]*sync.Mutex),
	}
}

// lockThread acquires the per-thread turn lock and returns its release func.
// At most one turn may be in flight against a given thread.
func (o *Orchestrator) lockThread(threadID string) func() {
	o.mu.Lock()
	lock, ok := o.turnLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		o.turnLocks[threadID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Turn executes one full conversation turn for the given user input.
//
// The user message and the planner's run always happen first; a planner
// failure aborts the turn before the rewriter is ever contacted. When the
// planner's reply carries the handoff marker, two system dividers are
// emitted into the visible transcript, the payload is forwarded to the
// rewriter's thread and the rewriter's reply becomes the final answer. A
// rewriter failure surfaces as an error while the messages already emitted
// stay in the transcript.
//
// On error the returned TurnResult still holds the partial transcript.
func (o *Orchestrator) Turn(ctx context.Context, userText string) (*TurnResult, error) {
	start := time.Now()
	result := &TurnResult{}

	var plannerThreadID string
	var plannerReply string

	err := o.manager.WithThread(ctx, store.RolePlanner, func(th *store.Thread) error {
		unlock := o.lockThread(th.ID)
		defer unlock()

		// A stale-thread retry runs this whole closure again against the
		// replacement thread, so the emission list restarts from scratch.
		result.Messages = result.Messages[:0]
		plannerThreadID = th.ID

		if _, err := o.client.CreateMessage(ctx, th.ID, assistants.RoleUser, userText); err != nil {
			return err
		}
		if err := o.emit(result, th.ID, store.MessageRoleUser, userText); err != nil {
			return err
		}

		instructions, err := o.manager.ActiveInstructions(th.ID)
		if err != nil {
			return err
		}

		run, err := o.client.CreateRun(ctx, th.ID, th.AssistantID, instructions)
		if err != nil {
			return err
		}

		reply, err := o.poller.Await(ctx, store.RolePlanner, run)
		if err != nil {
			return err
		}
		plannerReply = reply.Text()
		return nil
	})
	if err != nil {
		o.recorder.ObserveTurn(metrics.OutcomeError, time.Since(start))
		return result, err
	}

	outcome := o.classify(plannerReply)
	if !outcome.Handoff {
		if err := o.emit(result, plannerThreadID, store.MessageRoleAssistant, plannerReply); err != nil {
			o.recorder.ObserveTurn(metrics.OutcomeError, time.Since(start))
			return result, err
		}
		result.Answer = plannerReply
		o.recorder.ObserveTurn(metrics.OutcomeFinal, time.Since(start))
		return result, nil
	}

	logx.Debug(ctx, "handoff", "Planner requested handoff (payload: %d chars)", len(outcome.Text))

	if err := o.emit(result, plannerThreadID, store.MessageRoleSystem, DividerHandoffInProgress); err != nil {
		o.recorder.ObserveTurn(metrics.OutcomeError, time.Since(start))
		return result, err
	}

	var rewriterReply string
	dividerEmitted := false

	err = o.manager.WithThread(ctx, store.RoleRewriter, func(th *store.Thread) error {
		unlock := o.lockThread(th.ID)
		defer unlock()

		if _, err := o.client.CreateMessage(ctx, th.ID, assistants.RoleUser, outcome.Text); err != nil {
			return err
		}
		if err := o.persist(th.ID, store.MessageRoleUser, outcome.Text); err != nil {
			return err
		}

		// The second divider lands in the visible transcript before the
		// rewriter's run exists. Emitted once even if a stale-thread retry
		// re-runs this closure.
		if !dividerEmitted {
			if err := o.emit(result, plannerThreadID, store.MessageRoleSystem, DividerPayloadAccepted); err != nil {
				return err
			}
			dividerEmitted = true
		}

		run, err := o.client.CreateRun(ctx, th.ID, th.AssistantID, "")
		if err != nil {
			return err
		}

		reply, err := o.poller.Await(ctx, store.RoleRewriter, run)
		if err != nil {
			return err
		}
		rewriterReply = reply.Text()
		return o.persist(th.ID, store.MessageRoleAssistant, rewriterReply)
	})
	if err != nil {
		// No rollback: the dividers stay, and the planner's raw reply is
		// surfaced so the transcript shows what the handoff was based on.
		if perr := o.emit(result, plannerThreadID, store.MessageRoleAssistant, plannerReply); perr != nil {
			o.logger.Error("Failed to preserve planner reply after rewriter failure: %v", perr)
		}
		o.recorder.ObserveTurn(metrics.OutcomeError, time.Since(start))
		return result, err
	}

	if err := o.emit(result, plannerThreadID, store.MessageRoleAssistant, rewriterReply); err != nil {
		o.recorder.ObserveTurn(metrics.OutcomeError, time.Since(start))
		return result, err
	}

	result.Answer = rewriterReply
	result.Handoff = true
	o.recorder.ObserveTurn(metrics.OutcomeHandoff, time.Since(start))
	return result, nil
}

// emit persists a message into the visible transcript and appends it to the
// turn's emission list.
func (o *Orchestrator) emit(result *TurnResult, threadID, role, content string) error {
	msg := newLocalMessage(threadID, role, content)
	if err := o.store.AppendMessage(msg); err != nil {
		return err
	}
	result.Messages = append(result.Messages, msg)
	return nil
}

// persist caches a message on a thread without emitting it into the turn's
// visible transcript. Used for the rewriter's own conversation log.
func (o *Orchestrator) persist(threadID, role, content string) error {
	return o.store.AppendMessage(newLocalMessage(threadID, role, content))
}

func newLocalMessage(threadID, role, content string) *store.Message {
	return &store.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Content:   strings.TrimRight(content, "\n"),
		CreatedAt: time.Now().UTC(),
	}
}
