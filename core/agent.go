package core

import "context"

// EmitFunc receives each message an agent produces, in order. Returning an
// error aborts the agent's turn.
type EmitFunc func(Message) error

// ChatAgent is a conversation participant driven by a coordinator.
//
// Step runs one turn: the agent reads the full transcript so far, produces
// its new messages through emit and returns once its turn (including any
// nested tool call round trips) is complete. Implementations must not retain
// history beyond the call; the coordinator owns the transcript.
type ChatAgent interface {
	Name() string
	Description() string
	Step(ctx context.Context, history []Message, emit EmitFunc) error
}
