package flow

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/modelcontext"
)

// InstructionsProcessor sets the system prompt.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest adds the agent's resolved instructions to the request.
func (p *InstructionsProcessor) ProcessRequest(ctx context.Context, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstructions(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}
	req.Instructions = instructions
	return nil
}

// ToolsProcessor declares the agent's tools and output options.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest attaches tool definitions plus the stream and JSON flags.
func (p *ToolsProcessor) ProcessRequest(_ context.Context, req *model.Request, agent FlowAgent) error {
	if reg := agent.Tools(); reg != nil && reg.Len() > 0 {
		req.Tools = reg.Definitions()
	}
	req.Stream = agent.IsStreamingEnabled()
	req.JSONOutput = agent.IsJSONOutputEnabled()
	return nil
}

// ContextProcessor applies a model context policy to the request contents.
type ContextProcessor struct {
	policy modelcontext.Policy
}

// NewContextProcessor creates a processor windowing contents with policy.
func NewContextProcessor(policy modelcontext.Policy) *ContextProcessor {
	if policy == nil {
		policy = modelcontext.Unbounded{}
	}
	return &ContextProcessor{policy: policy}
}

// Name returns the processor's identifier.
func (p *ContextProcessor) Name() string { return "context:" + p.policy.Name() }

// ProcessRequest narrows req.Contents to the policy's window.
func (p *ContextProcessor) ProcessRequest(_ context.Context, req *model.Request, _ FlowAgent) error {
	req.Contents = p.policy.Window(req.Contents)
	return nil
}
