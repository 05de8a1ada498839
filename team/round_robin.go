// Package team coordinates several chat agents in one conversation.
//
// RoundRobin gives the turn to each participant in construction order,
// handing every speaker the full transcript so far. A conversation ends when
// the turn budget is spent or an optional TerminationCondition fires.
package team

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
)

var (
	// ErrCompleted is returned by Run on a finished conversation until Reset is called.
	ErrCompleted = errors.New("team: conversation already completed, call Reset to start over")

	// ErrRunning is returned when Run or Reset is called while a run is in progress.
	ErrRunning = errors.New("team: run already in progress")
)

// State is the lifecycle state of a team.
type State int

const (
	// StatePending means the team has not run since construction or Reset.
	StatePending State = iota
	// StateRunning means a run is in progress.
	StateRunning
	// StateCompleted means the last run ended; Reset before running again.
	StateCompleted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Options configures a RoundRobin team.
type Options struct {
	MaxTurns    int                  // Turn budget; 0 means no budget (a Termination is then required)
	Termination TerminationCondition // Optional early stop
	Logger      logging.Logger
}

// RoundRobin runs participants in strict rotation.
//
// Execution is sequential: exactly one participant speaks at a time. The team
// does not own the participants' model descriptors.
type RoundRobin struct {
	participants []core.ChatAgent
	maxTurns     int
	termination  TerminationCondition
	logger       logging.Logger

	mu         sync.Mutex
	state      State
	transcript *core.Transcript
	turn       int
	next       int
	stopReason string
}

// NewRoundRobin creates a round-robin team.
//
// Construction fails with a *core.ConfigError on zero participants, duplicate
// participant names, a negative turn budget, or when neither a positive
// MaxTurns nor a Termination is configured.
func NewRoundRobin(participants []core.ChatAgent, optFns ...func(o *Options)) (*RoundRobin, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(participants) == 0 {
		return nil, core.NewConfigError("participants", "at least one participant is required")
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == nil {
			return nil, core.NewConfigError("participants", "participant must not be nil")
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, core.NewConfigError("participants", fmt.Sprintf("duplicate participant name %q", p.Name()))
		}
		seen[p.Name()] = struct{}{}
	}
	if opts.MaxTurns < 0 {
		return nil, core.NewConfigError("max_turns", "must not be negative")
	}
	if opts.MaxTurns == 0 && opts.Termination == nil {
		return nil, core.NewConfigError("max_turns", "a positive max turns or a termination condition is required")
	}

	logger := logging.OrNoOp(opts.Logger)
	if sl, ok := logger.(*logging.StructuredLogger); ok {
		logger = sl.WithComponent("team")
	}

	return &RoundRobin{
		participants: append([]core.ChatAgent(nil), participants...),
		maxTurns:     opts.MaxTurns,
		termination:  opts.Termination,
		logger:       logger,
		transcript:   core.NewTranscript(),
	}, nil
}

// Participants returns the participants in speaking order.
func (r *RoundRobin) Participants() []core.ChatAgent {
	return append([]core.ChatAgent(nil), r.participants...)
}

// State returns the current lifecycle state.
func (r *RoundRobin) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Turn returns the number of completed turns of the current conversation.
func (r *RoundRobin) Turn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turn
}

// StopReason returns why the last run ended ("" before the first run).
func (r *RoundRobin) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason
}

// Messages returns a copy of the current conversation's transcript.
func (r *RoundRobin) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.Messages()
}

// Reset returns a completed team to pending, clearing the transcript, the
// turn counter and the termination condition's state.
func (r *RoundRobin) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return ErrRunning
	}
	r.state = StatePending
	r.transcript = core.NewTranscript()
	r.turn = 0
	r.next = 0
	r.stopReason = ""
	if r.termination != nil {
		r.termination.Reset()
	}
	return nil
}

// Run executes the conversation to completion and returns the transcript
// (streaming chunks excluded) with the stop reason.
func (r *RoundRobin) Run(ctx context.Context, task string) (*core.TaskResult, error) {
	msgs, errs := r.RunStream(ctx, task)
	res, err := core.Collect(msgs, errs)
	if err != nil {
		return res, err
	}
	r.mu.Lock()
	res.StopReason = r.stopReason
	r.mu.Unlock()
	return res, nil
}

// RunStream starts the conversation and delivers every message, streaming
// chunks included, in production order.
func (r *RoundRobin) RunStream(ctx context.Context, task string) (<-chan core.Message, <-chan error) {
	r.mu.Lock()
	switch r.state {
	case StateRunning:
		r.mu.Unlock()
		return closedStream(ErrRunning)
	case StateCompleted:
		r.mu.Unlock()
		return closedStream(ErrCompleted)
	}
	r.state = StateRunning
	transcript := r.transcript
	r.mu.Unlock()

	out := make(chan core.Message, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		runLog := logging.WithRun(r.logger, core.NewID())
		start := time.Now()
		runLog.Info("team.run.start", "participants", len(r.participants), "max_turns", r.maxTurns)

		emit := func(m core.Message) error {
			transcript.Append(m)
			select {
			case out <- m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		reason, err := r.loop(ctx, runLog, task, transcript, emit)

		r.mu.Lock()
		r.state = StateCompleted
		r.stopReason = reason
		r.mu.Unlock()

		if err != nil {
			runLog.Error("team.run.failed", "error", err.Error())
			errCh <- err
			return
		}
		runLog.Info("team.run.complete", "stop_reason", reason, "duration_ms", time.Since(start).Milliseconds())
	}()

	return out, errCh
}

func (r *RoundRobin) loop(ctx context.Context, logger logging.Logger, task string, transcript *core.Transcript, emit core.EmitFunc) (string, error) {
	if err := emit(core.NewUserMessage(task)); err != nil {
		return "", err
	}
	checked := 0

	for {
		r.mu.Lock()
		turn, idx := r.turn, r.next
		r.mu.Unlock()

		if r.maxTurns > 0 && turn >= r.maxTurns {
			return fmt.Sprintf("Maximum number of turns %d reached.", r.maxTurns), nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		speaker := r.participants[idx]
		turnStart := time.Now()
		if err := speaker.Step(ctx, transcript.Messages(), emit); err != nil {
			return "", fmt.Errorf("turn %d failed for agent %s: %w", turn+1, speaker.Name(), err)
		}

		r.mu.Lock()
		r.turn++
		r.next = (idx + 1) % len(r.participants)
		turn = r.turn
		r.mu.Unlock()

		delta := transcript.Since(checked)
		checked += len(delta)
		logTurn(logger, speaker.Name(), turn, len(delta), time.Since(turnStart))

		if r.termination != nil {
			if stop, reason := r.termination.Check(delta); stop {
				return reason, nil
			}
		}
	}
}

func logTurn(logger logging.Logger, speaker string, turn, messages int, d time.Duration) {
	if sl, ok := logger.(*logging.StructuredLogger); ok {
		sl.LogTurn(speaker, turn, messages, d)
		return
	}
	logger.Info("team.turn.complete", "speaker", speaker, "turn", turn, "messages", messages, "duration", d)
}

func closedStream(err error) (<-chan core.Message, <-chan error) {
	out := make(chan core.Message)
	errCh := make(chan error, 1)
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}

var _ core.TaskRunner = (*RoundRobin)(nil)
