// Package flow implements the per-agent tool-call loop.
//
// A flow sends the agent's model context to the model, turns the reply into
// transcript messages and, when the reply requests tools, executes them and
// optionally hands the results back to the model until it answers with text.
// Request processors shape each outgoing request (instructions, tool
// declarations, context window) so agents can plug in behavior without
// touching the loop.
package flow

import (
	"context"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/tool"
)

// Flow defines the interface for agent execution flows.
type Flow interface {
	// Run executes one agent turn over contents, emitting every produced
	// message through emit. It returns when the turn is complete.
	Run(ctx context.Context, contents []core.Content, emit core.EmitFunc) error
}

// FlowAgent defines what a flow needs from the agent it drives.
type FlowAgent interface {
	// Name returns the agent's name, used as the source of emitted messages.
	Name() string

	// Model returns the connection descriptor.
	Model() model.Model

	// ResolveInstructions returns the system prompt for the next request.
	ResolveInstructions(ctx context.Context) (string, error)

	// Tools returns the registered tools (may be empty, never nil).
	Tools() *tool.Registry

	// IsStreamingEnabled reports whether partial text chunks are requested.
	IsStreamingEnabled() bool

	// ReflectOnToolUse reports whether tool results are sent back to the model.
	ReflectOnToolUse() bool

	// MaxToolIterations bounds the tool round trips of one turn (0 = unbounded).
	MaxToolIterations() int

	// IsJSONOutputEnabled reports whether the model is asked for JSON.
	IsJSONOutputEnabled() bool
}

// RequestProcessor processes the request before sending it to the model.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before model execution.
	ProcessRequest(ctx context.Context, req *model.Request, agent FlowAgent) error
}

// RequestProcessorFunc adapts a function to RequestProcessor.
type RequestProcessorFunc struct {
	ID string
	Fn func(ctx context.Context, req *model.Request, agent FlowAgent) error
}

// Name implements RequestProcessor.
func (p RequestProcessorFunc) Name() string { return p.ID }

// ProcessRequest implements RequestProcessor.
func (p RequestProcessorFunc) ProcessRequest(ctx context.Context, req *model.Request, agent FlowAgent) error {
	return p.Fn(ctx, req, agent)
}

// ToolObserver is notified after every tool execution.
type ToolObserver interface {
	ObserveToolCall(agent, tool string, d time.Duration, err error)
}
