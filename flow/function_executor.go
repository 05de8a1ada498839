package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/tool"
)

// FunctionExecutor executes one batch of function/tool calls requested by a
// single model reply. Implementations must:
//   - Resolve every tool name before running any tool (unknown name ->
//     *tool.ToolError with code NOT_FOUND, nothing executed)
//   - Return exactly one FunctionResponse per call, in call order
//   - Abort the batch on the first failing call
//   - Never panic (a recovered panic becomes an EXECUTION_ERROR)
type FunctionExecutor interface {
	Execute(ctx context.Context, agentName string, tools *tool.Registry, fnCalls []core.FunctionCall) ([]core.FunctionResponse, error)
}

// FunctionExecutorConfig configures the default executor.
type FunctionExecutorConfig struct {
	MaxParallel    int  // <= 1 runs calls one after another
	LogStartEvents bool // log a start line per function
	Logger         logging.Logger
	Observer       ToolObserver
}

// functionExecutor is the default implementation.
type functionExecutor struct {
	cfg    FunctionExecutorConfig
	logger logging.Logger
}

// NewFunctionExecutor constructs a new executor with the given config.
func NewFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &functionExecutor{cfg: cfg, logger: logging.OrNoOp(cfg.Logger)}
}

func (e *functionExecutor) Execute(
	ctx context.Context,
	agentName string,
	tools *tool.Registry,
	fnCalls []core.FunctionCall,
) ([]core.FunctionResponse, error) {
	n := len(fnCalls)
	if n == 0 {
		return nil, nil
	}

	impls := make([]tool.Tool, n)
	for i, fc := range fnCalls {
		var (
			impl tool.Tool
			ok   bool
		)
		if tools != nil {
			impl, ok = tools.Lookup(fc.Name)
		}
		if !ok {
			e.logger.Error("agent.function.not_found", "agent", agentName, "function", fc.Name)
			return nil, &tool.ToolError{
				Tool:      fc.Name,
				Message:   fmt.Sprintf("tool %s not found", fc.Name),
				Code:      tool.CodeNotFound,
				Arguments: fc.Arguments,
			}
		}
		impls[i] = impl
	}

	maxPar := e.cfg.MaxParallel
	if maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()
	results := make([]core.FunctionResponse, n)

	if maxPar <= 1 {
		for i, fc := range fnCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := e.executeSingle(ctx, agentName, impls[i], fc)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	} else {
		errs := make([]error, n)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var wg sync.WaitGroup
		sem := make(chan struct{}, maxPar)

		for i := range fnCalls {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, fc core.FunctionCall) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := ctx.Err(); err != nil {
					errs[idx] = err
					return
				}
				res, err := e.executeSingle(ctx, agentName, impls[idx], fc)
				if err != nil {
					errs[idx] = err
					cancel()
					return
				}
				results[idx] = res
			}(i, fnCalls[i])
		}

		wg.Wait()

		// Report the first real failure in call order rather than a
		// cancellation it caused in a sibling call.
		var first error
		for _, err := range errs {
			if err == nil {
				continue
			}
			if first == nil || (errors.Is(first, context.Canceled) && !errors.Is(err, context.Canceled)) {
				first = err
			}
		}
		if first != nil {
			return nil, first
		}
	}

	e.logger.Debug(
		"agent.functions.batch.complete",
		"agent", agentName,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results, nil
}

func (e *functionExecutor) executeSingle(
	ctx context.Context,
	agentName string,
	impl tool.Tool,
	fc core.FunctionCall,
) (core.FunctionResponse, error) {
	toolCtx := core.NewToolContext(ctx, agentName, fc.ID, e.logger)
	if e.cfg.LogStartEvents {
		e.logger.Info("agent.function.start", "agent", agentName, "function", fc.Name, "function_call_id", fc.ID)
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				if sl, ok := e.logger.(*logging.StructuredLogger); ok {
					sl.WithAgent(agentName).ErrorWithStack(err, "agent.function.panic")
					return
				}
				e.logger.Error("agent.function.panic", "agent", agentName, "function", fc.Name, "recover", r)
			}
		}()
		result, err = executeTool(impl, toolCtx, fc.Arguments)
	}()
	dur := time.Since(start)

	e.logToolCall(agentName, fc.Name, dur, err)
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveToolCall(agentName, fc.Name, dur, err)
	}

	if err != nil {
		return core.FunctionResponse{}, asToolError(err, fc)
	}

	return core.FunctionResponse{
		ID:      fc.ID,
		Name:    fc.Name,
		Content: formatResult(result),
	}, nil
}

func (e *functionExecutor) logToolCall(agentName, name string, dur time.Duration, err error) {
	if sl, ok := e.logger.(*logging.StructuredLogger); ok {
		sl.WithAgent(agentName).LogToolCall(name, dur, err)
		return
	}
	e.logger.Info(
		"agent.function.executed",
		"agent", agentName,
		"function", name,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)
}

// asToolError normalizes err into a *tool.ToolError carrying the call's name
// and raw arguments.
func asToolError(err error, fc core.FunctionCall) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *tool.ToolError
	if errors.As(err, &te) {
		cp := *te
		if cp.Tool == "" {
			cp.Tool = fc.Name
		}
		if cp.Arguments == "" {
			cp.Arguments = fc.Arguments
		}
		return &cp
	}
	return &tool.ToolError{
		Tool:      fc.Name,
		Message:   err.Error(),
		Code:      tool.CodeExecution,
		Arguments: fc.Arguments,
		Err:       err,
	}
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

// executeTool decodes the JSON arguments and calls the tool.
func executeTool(impl tool.Tool, toolCtx *core.ToolContext, args string) (any, error) {
	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, &tool.ToolError{
				Tool:    impl.Name(),
				Message: fmt.Sprintf("failed to unmarshal args: %v", err),
				Code:    tool.CodeInvalidArguments,
				Err:     err,
			}
		}
	}

	return impl.Call(toolCtx, argMap)
}

// formatResult renders a tool result as the text handed back to the model.
func formatResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}
