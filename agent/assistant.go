package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/flow"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/modelcontext"
	"github.com/hupe1980/agentchat/tool"
)

// Default texts used when Options leave them empty.
const (
	DefaultSystemMessage = "You are a helpful AI assistant. Solve tasks using your tools. Reply with TERMINATE when the task has been completed."
	DefaultDescription   = "An agent that provides assistance with ability to use tools."
)

// Options configures an AssistantAgent.
//
// Use functional options with NewAssistantAgent to override defaults.
type Options struct {
	SystemMessage     Instruction
	Variables         map[string]any // Template variables for a static system message
	Description       string
	Tools             []tool.Tool
	Stream            bool // Emit partial text chunks while the model generates
	ReflectOnToolUse  bool // Send tool results back to the model for a final answer
	MaxToolIterations int  // Tool round trips per turn; 0 leaves it to the model
	ToolParallelism   int  // Concurrent tool calls per batch; <= 1 runs them in order
	JSONOutput        bool
	Context           modelcontext.Policy
	Executor          flow.FunctionExecutor
	Metrics           flow.ToolObserver
	Logger            logging.Logger
}

// AssistantAgent answers with a model, optionally calling tools.
//
// It is stateless between turns: every Step rebuilds the model context from
// the transcript it receives, so one agent can take part in several teams.
// The model descriptor is shared, not owned; closing it is the caller's job.
type AssistantAgent struct {
	BaseAgent
	llm           model.Model
	systemMessage Instruction
	variables     map[string]any
	tools         *tool.Registry
	stream        bool
	reflect       bool
	maxToolIters  int
	jsonOutput    bool
	flow          *flow.BaseFlow
	logger        logging.Logger
}

// NewAssistantAgent creates an assistant agent.
//
// Construction fails with a *core.ConfigError when the name is empty or
// reserved, the model is nil, tools are given to a model without function
// calling, JSON output is requested from a model that lacks it, or two tools
// share a name.
func NewAssistantAgent(name string, llm model.Model, optFns ...func(o *Options)) (*AssistantAgent, error) {
	opts := Options{
		SystemMessage: NewInstructionFromText(DefaultSystemMessage),
		Description:   DefaultDescription,
		Context:       modelcontext.Unbounded{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(name) == "" {
		return nil, core.NewConfigError("name", "agent name must not be empty")
	}
	if name == core.SourceUser {
		return nil, core.NewConfigError("name", "agent name \"user\" is reserved")
	}
	if llm == nil {
		return nil, core.NewConfigError("model", "model must not be nil")
	}

	caps := llm.Info().Capabilities
	if len(opts.Tools) > 0 && !caps.FunctionCalling {
		return nil, core.NewConfigError("tools", "model does not support function calling")
	}
	if opts.JSONOutput && !caps.JSONOutput {
		return nil, core.NewConfigError("json_output", "model does not support JSON output")
	}

	reg, err := tool.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, &core.ConfigError{Field: "tools", Message: err.Error(), Err: err}
	}

	logger := logging.OrNoOp(opts.Logger)
	if sl, ok := logger.(*logging.StructuredLogger); ok {
		logger = sl.WithAgent(name)
	}

	a := &AssistantAgent{
		BaseAgent:     NewBaseAgent(name),
		llm:           llm,
		systemMessage: opts.SystemMessage,
		variables:     opts.Variables,
		tools:         reg,
		stream:        opts.Stream,
		reflect:       opts.ReflectOnToolUse,
		maxToolIters:  opts.MaxToolIterations,
		jsonOutput:    opts.JSONOutput,
		logger:        logger,
	}
	a.SetDescription(opts.Description)

	executor := opts.Executor
	if executor == nil {
		executor = flow.NewFunctionExecutor(flow.FunctionExecutorConfig{
			MaxParallel: opts.ToolParallelism,
			Logger:      logger,
			Observer:    opts.Metrics,
		})
	}
	a.flow = flow.NewBaseFlow(a, func(o *flow.Options) {
		o.Executor = executor
		o.Logger = logger
	})
	if opts.Context != nil {
		a.flow.AddRequestProcessor(flow.NewContextProcessor(opts.Context))
	}

	return a, nil
}

// Run executes task as a single-agent conversation and returns the
// transcript: the user's task followed by the agent's messages. Streaming
// chunks are not part of the result.
func (a *AssistantAgent) Run(ctx context.Context, task string) (*core.TaskResult, error) {
	return core.Collect(a.RunStream(ctx, task))
}

// RunStream is Run delivering every message, streaming chunks included, as
// it is produced.
func (a *AssistantAgent) RunStream(ctx context.Context, task string) (<-chan core.Message, <-chan error) {
	out := make(chan core.Message, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		runLog := logging.WithRun(a.logger, core.NewID())
		start := time.Now()
		runLog.Info("agent.run.start", "agent", a.Name())

		emit := func(m core.Message) error {
			select {
			case out <- m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		user := core.NewUserMessage(task)
		if err := emit(user); err != nil {
			errCh <- err
			return
		}

		if err := a.Step(ctx, []core.Message{user}, emit); err != nil {
			runLog.Error("agent.run.failed", "agent", a.Name(), "error", err.Error())
			errCh <- err
			return
		}

		runLog.Info("agent.run.complete", "agent", a.Name(), "duration_ms", time.Since(start).Milliseconds())
	}()

	return out, errCh
}

// Step runs one turn over history. It implements core.ChatAgent.
func (a *AssistantAgent) Step(ctx context.Context, history []core.Message, emit core.EmitFunc) error {
	if emit == nil {
		return errors.New("emit must not be nil")
	}
	contents := BuildContents(a.Name(), history)
	if len(contents) == 0 {
		return core.NewConfigError("history", "nothing to respond to")
	}
	return a.flow.Run(ctx, contents, emit)
}

// BuildContents converts a transcript into the model context of agent name.
//
// The user's and other agents' chat messages become user turns. The agent's
// own text becomes assistant turns and its own tool calls and results become
// assistant function calls and tool responses. Streaming chunks and other
// agents' tool events are skipped.
func BuildContents(name string, history []core.Message) []core.Content {
	contents := make([]core.Content, 0, len(history))
	for _, m := range history {
		if m.IsChunk() {
			continue
		}
		if m.Source != name {
			if m.IsChat() && m.Content != "" {
				contents = append(contents, core.NewTextContent(core.RoleUser, m.Content))
			}
			continue
		}
		switch m.Kind {
		case core.KindText, core.KindToolCallSummary:
			contents = append(contents, core.NewTextContent(core.RoleAssistant, m.Content))
		case core.KindToolCallRequest:
			parts := make([]core.Part, len(m.ToolCalls))
			for i, fc := range m.ToolCalls {
				parts[i] = core.FunctionCallPart{FunctionCall: fc}
			}
			contents = append(contents, core.Content{Role: core.RoleAssistant, Parts: parts})
		case core.KindToolCallExecution:
			parts := make([]core.Part, len(m.ToolResults))
			for i, fr := range m.ToolResults {
				parts[i] = core.FunctionResponsePart{FunctionResponse: fr}
			}
			contents = append(contents, core.Content{Role: core.RoleTool, Parts: parts})
		}
	}
	return contents
}

// FlowAgent implementation

// Model returns the connection descriptor.
func (a *AssistantAgent) Model() model.Model { return a.llm }

// Tools returns the registered tools.
func (a *AssistantAgent) Tools() *tool.Registry { return a.tools }

// ResolveInstructions renders the system message.
func (a *AssistantAgent) ResolveInstructions(ctx context.Context) (string, error) {
	vars := make(map[string]any, len(a.variables)+1)
	for k, v := range a.variables {
		vars[k] = v
	}
	vars["agent_name"] = a.Name()
	return a.systemMessage.Resolve(ctx, vars)
}

// IsStreamingEnabled reports whether partial text chunks are requested.
func (a *AssistantAgent) IsStreamingEnabled() bool { return a.stream }

// ReflectOnToolUse reports whether tool results are sent back to the model.
func (a *AssistantAgent) ReflectOnToolUse() bool { return a.reflect }

// MaxToolIterations bounds the tool round trips of one turn.
func (a *AssistantAgent) MaxToolIterations() int { return a.maxToolIters }

// IsJSONOutputEnabled reports whether JSON output is requested.
func (a *AssistantAgent) IsJSONOutputEnabled() bool { return a.jsonOutput }

var (
	_ core.ChatAgent  = (*AssistantAgent)(nil)
	_ core.TaskRunner = (*AssistantAgent)(nil)
	_ flow.FlowAgent  = (*AssistantAgent)(nil)
)
