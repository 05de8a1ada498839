package core

import (
	"context"

	"github.com/hupe1980/agentchat/logging"
)

// ToolContext is the surface handed to a tool implementation for one call:
// the run's context (cancellation), the calling agent and the model-issued
// call identifier.
type ToolContext struct {
	ctx            context.Context
	agentName      string
	functionCallID string

	*loggerAdapter
}

// NewToolContext constructs a tool context for a single function call.
func NewToolContext(ctx context.Context, agentName, functionCallID string, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:            ctx,
		agentName:      agentName,
		functionCallID: functionCallID,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// AgentName returns the name of the agent executing the tool.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// FunctionCallID returns the function call ID (may be empty).
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }
