// Package runner drives asynchronous assistant runs to a terminal status via
// bounded repeated polling with light exponential backoff.
package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	"duet/pkg/assistants"
	"duet/pkg/logx"
	"duet/pkg/metrics"
	"duet/pkg/runerrors"
)

// Config defines polling behavior for a single run.
type Config struct {
	InitialInterval time.Duration `json:"initial_interval"` // Delay before the first status poll
	MaxInterval     time.Duration `json:"max_interval"`     // Ceiling for the backed-off poll interval
	BackoffFactor   float64       `json:"backoff_factor"`   // Multiplier applied between polls
	MaxWait         time.Duration `json:"max_wait"`         // Total ceiling; exceeding it yields RunTimeout
}

// DefaultConfig provides reasonable defaults for interactive chat turns.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	InitialInterval: 1 * time.Second,
	MaxInterval:     5 * time.Second,
	BackoffFactor:   1.5,
	MaxWait:         60 * time.Second,
}

// interval computes the backed-off delay before poll number n (1-based).
func (c Config) interval(n int) time.Duration {
	if n <= 1 {
		return c.InitialInterval
	}

	delay := time.Duration(float64(c.InitialInterval) * math.Pow(c.BackoffFactor, float64(n-1)))
	if delay > c.MaxInterval {
		delay = c.MaxInterval
	}
	return delay
}

// Poller owns a run for its lifetime: it polls the run to a terminal status,
// maps failure modes into the closed error taxonomy and, on completion,
// fetches the newest assistant message as the run's result.
type Poller struct {
	client   assistants.API
	recorder metrics.Recorder
	logger   *logx.Logger
	config   Config
}

// NewPoller creates a poller over the given run client.
func NewPoller(client assistants.API, config Config, recorder metrics.Recorder) *Poller {
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultConfig.InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	if config.BackoffFactor < 1.0 {
		config.BackoffFactor = 1.0
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultConfig.MaxWait
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	return &Poller{
		client:   client,
		recorder: recorder,
		logger:   logx.NewLogger("poller"),
		config:   config,
	}
}

// Await drives the run to a terminal status and returns the resulting
// assistant message. The agent label is used for logging and metrics only.
//
// Exceeding the configured ceiling yields RunTimeout without cancelling the
// remote run. Context cancellation stops polling but likewise leaves the
// remote run untouched.
func (p *Poller) Await(ctx context.Context, agent string, run *assistants.Run) (*assistants.Message, error) {
	if run == nil {
		return nil, runerrors.New(runerrors.KindUnknown, "nil run handle")
	}

	start := time.Now()
	deadline := start.Add(p.config.MaxWait)
	status := run.Status
	lastError := run.LastError
	polls := 0

	for !status.Terminal() {
		if time.Now().After(deadline) {
			p.logger.Warn("Run %s exceeded polling ceiling of %s (status: %s)", run.ID, p.config.MaxWait, status)
			err := runerrors.New(runerrors.KindRunTimeout,
				fmt.Sprintf("run did not complete within %s", p.config.MaxWait))
			p.observe(agent, "timeout", err, polls, start)
			return nil, err
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("Polling of run %s cancelled after %d polls", run.ID, polls)
			return nil, ctx.Err()
		case <-time.After(p.config.interval(polls + 1)):
		}

		polled, err := p.client.GetRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			p.observe(agent, "poll_error", err, polls, start)
			return nil, err
		}
		polls++

		if polled.Status != status {
			logx.Debug(ctx, "poller", "Run %s status: %s -> %s", run.ID, status, polled.Status)
		}
		status = polled.Status
		lastError = polled.LastError
	}

	if status != assistants.RunStatusCompleted {
		code, message := "", ""
		if lastError != nil {
			code, message = lastError.Code, lastError.Message
		}
		err := runerrors.FromRunFailure(string(status), code, message)
		p.observe(agent, string(status), err, polls, start)
		return nil, err
	}

	reply, err := p.newestAssistantMessage(ctx, run.ThreadID)
	if err != nil {
		p.observe(agent, string(status), err, polls, start)
		return nil, err
	}

	p.observe(agent, string(status), nil, polls, start)
	p.logger.Debug("Run %s completed after %d polls in %s", run.ID, polls, time.Since(start).Round(time.Millisecond))
	return reply, nil
}

// newestAssistantMessage returns the latest assistant-role message on the
// thread. A completed run with no assistant reply is a fatal unknown error.
func (p *Poller) newestAssistantMessage(ctx context.Context, threadID string) (*assistants.Message, error) {
	messages, err := p.client.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == assistants.RoleAssistant {
			return &messages[i], nil
		}
	}

	return nil, runerrors.New(runerrors.KindUnknown, "run completed but thread has no assistant reply")
}

func (p *Poller) observe(agent, status string, err error, polls int, start time.Time) {
	errorKind := ""
	if err != nil {
		errorKind = runerrors.KindOf(err).String()
	}
	p.recorder.ObserveRun(agent, status, errorKind, polls, time.Since(start))
}
