package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
)

// BaseFlow is the single-agent request -> model -> (optional tool loop) cycle
// with pluggable request processors.
type BaseFlow struct {
	agent             FlowAgent
	requestProcessors []RequestProcessor
	executor          FunctionExecutor
	logger            logging.Logger
}

// Options configure a BaseFlow.
type Options struct {
	Executor FunctionExecutor // defaults to a sequential executor
	Logger   logging.Logger
}

// NewBaseFlow creates a new flow with the instructions and tools processors
// installed.
func NewBaseFlow(agent FlowAgent, optFns ...func(o *Options)) *BaseFlow {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)
	if opts.Executor == nil {
		opts.Executor = NewFunctionExecutor(FunctionExecutorConfig{Logger: logger})
	}
	return &BaseFlow{
		agent: agent,
		requestProcessors: []RequestProcessor{
			NewInstructionsProcessor(),
			NewToolsProcessor(),
		},
		executor: opts.Executor,
		logger:   logger,
	}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// Run executes one agent turn. contents is the model context built from the
// transcript; tool round trips of this turn are appended to a private copy.
func (f *BaseFlow) Run(ctx context.Context, contents []core.Content, emit core.EmitFunc) error {
	contents = append([]core.Content(nil), contents...)
	name := f.agent.Name()
	maxIter := f.agent.MaxToolIterations()

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Once the tool budget is spent, ask once more without tools so the
		// model has to answer in text.
		forceText := maxIter > 0 && iteration >= maxIter

		resp, err := f.runOnce(ctx, contents, forceText, emit)
		if err != nil {
			return err
		}

		fnCalls := resp.Content.FunctionCalls()
		if len(fnCalls) == 0 || forceText {
			msg := core.NewTextMessage(name, resp.Content.Text())
			msg.Usage = resp.Usage
			return emit(msg)
		}

		reqMsg := core.NewToolCallRequest(name, fnCalls)
		reqMsg.Usage = resp.Usage
		if err := emit(reqMsg); err != nil {
			return err
		}

		results, err := f.executor.Execute(ctx, name, f.agent.Tools(), fnCalls)
		if err != nil {
			f.logger.Error("agent.tool.failed", "agent", name, "error", err.Error())
			return err
		}

		if err := emit(core.NewToolCallExecution(name, results)); err != nil {
			return err
		}

		if !f.agent.ReflectOnToolUse() {
			return emit(core.NewToolCallSummary(name, results))
		}

		contents = append(contents, resp.Content, toolResultsContent(results))
	}
}

// runOnce performs one model request and returns its final response.
// Partial text is forwarded as streaming chunk messages.
func (f *BaseFlow) runOnce(ctx context.Context, contents []core.Content, withoutTools bool, emit core.EmitFunc) (*model.Response, error) {
	req := &model.Request{Contents: contents}
	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(ctx, req, f.agent); err != nil {
			return nil, fmt.Errorf("request processor %s failed: %w", processor.Name(), err)
		}
	}
	if withoutTools {
		req.Tools = nil
	}

	name := f.agent.Name()
	llm := f.agent.Model()
	start := time.Now()

	f.logger.Debug("agent.model.request", "agent", name, "contents", len(req.Contents), "tools", len(req.Tools), "stream", req.Stream)

	respCh, errCh := llm.Generate(ctx, *req)
	resp, err := model.Drain(respCh, errCh, func(partial model.Response) error {
		text := partial.Content.Text()
		if text == "" {
			return nil
		}
		return emit(core.NewStreamingChunk(name, text))
	})
	if err == nil && resp == nil {
		err = core.NewTransportError(llm.Info().Provider, 0, errors.New("model returned no final response"))
	}
	f.logModelCall(llm.Info().Name, resp, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (f *BaseFlow) logModelCall(modelName string, resp *model.Response, dur time.Duration, err error) {
	name := f.agent.Name()
	if sl, ok := f.logger.(*logging.StructuredLogger); ok {
		tokens := 0
		if resp != nil && resp.Usage != nil {
			tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		}
		sl.WithAgent(name).LogModelCall(modelName, tokens, dur, err)
		return
	}
	if err != nil {
		f.logger.Error("agent.model.failed", "agent", name, "model", modelName, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	f.logger.Debug("agent.model.response", "agent", name, "model", modelName, "finish_reason", resp.FinishReason, "duration_ms", dur.Milliseconds())
}

func toolResultsContent(results []core.FunctionResponse) core.Content {
	parts := make([]core.Part, len(results))
	for i, r := range results {
		parts[i] = core.FunctionResponsePart{FunctionResponse: r}
	}
	return core.Content{Role: core.RoleTool, Parts: parts}
}
