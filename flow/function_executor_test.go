package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type teMockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
}

func (mt *teMockTool) Name() string               { return mt.name }
func (mt *teMockTool) Description() string        { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *teMockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

type observedCall struct {
	agent, tool string
	failed      bool
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observedCall
}

func (o *recordingObserver) ObserveToolCall(agent, tool string, _ time.Duration, err error) {
	o.mu.Lock()
	o.calls = append(o.calls, observedCall{agent: agent, tool: tool, failed: err != nil})
	o.mu.Unlock()
}

func registry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	reg, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	return reg
}

func TestFunctionExecutor_Single(t *testing.T) {
	obs := &recordingObserver{}
	te := NewFunctionExecutor(FunctionExecutorConfig{Observer: obs, LogStartEvents: true})
	reg := registry(t, &teMockTool{name: "one", result: 42})

	res, err := te.Execute(context.Background(), "A", reg, []core.FunctionCall{{ID: "1", Name: "one", Arguments: "{}"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, core.FunctionResponse{ID: "1", Name: "one", Content: "42"}, res[0])
	assert.Equal(t, []observedCall{{agent: "A", tool: "one"}}, obs.calls)
}

func TestFunctionExecutor_EmptyIDsPairedByPosition(t *testing.T) {
	te := NewFunctionExecutor(FunctionExecutorConfig{})
	reg := registry(t, &teMockTool{name: "a", result: "ra"}, &teMockTool{name: "b", result: "rb"})

	res, err := te.Execute(context.Background(), "A", reg, []core.FunctionCall{{Name: "b"}, {Name: "a"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "rb", res[0].Content)
	assert.Equal(t, "ra", res[1].Content)
}

func TestFunctionExecutor_ParallelPreservesOrder(t *testing.T) {
	reg := registry(t,
		&teMockTool{name: "slow", delay: 60 * time.Millisecond, result: "s"},
		&teMockTool{name: "fast", delay: 5 * time.Millisecond, result: "f"},
	)
	te := NewFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})
	calls := []core.FunctionCall{{ID: "1", Name: "slow", Arguments: "{}"}, {ID: "2", Name: "fast", Arguments: "{}"}}

	start := time.Now()
	res, err := te.Execute(context.Background(), "A", reg, calls)
	require.NoError(t, err)
	assert.Equal(t, "s", res[0].Content)
	assert.Equal(t, "f", res[1].Content)
	if elapsed := time.Since(start); elapsed > 90*time.Millisecond {
		t.Fatalf("expected parallel speedup, elapsed=%v", elapsed)
	}
}

func TestFunctionExecutor_SequentialStopsAtFirstError(t *testing.T) {
	after := &teMockTool{name: "after", result: "x"}
	obs := &recordingObserver{}
	reg := registry(t, &teMockTool{name: "bad", err: errors.New("boom")}, after)
	te := NewFunctionExecutor(FunctionExecutorConfig{Observer: obs})

	_, err := te.Execute(context.Background(), "A", reg, []core.FunctionCall{{Name: "bad", Arguments: `{"k":"v"}`}, {Name: "after"}})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeExecution, toolErr.Code)
	assert.Equal(t, "bad", toolErr.Tool)
	assert.Equal(t, `{"k":"v"}`, toolErr.Arguments)
	assert.Equal(t, []observedCall{{agent: "A", tool: "bad", failed: true}}, obs.calls)
}

func TestFunctionExecutor_ParallelReportsRealFailure(t *testing.T) {
	reg := registry(t,
		&teMockTool{name: "slow", delay: time.Second, result: "s"},
		&teMockTool{name: "bad", err: errors.New("boom")},
	)
	te := NewFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})

	_, err := te.Execute(context.Background(), "A", reg, []core.FunctionCall{{Name: "slow"}, {Name: "bad"}})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "bad", toolErr.Tool)
}

func TestFunctionExecutor_NotFound(t *testing.T) {
	ran := &teMockTool{name: "ok", result: "fine"}
	te := NewFunctionExecutor(FunctionExecutorConfig{})

	_, err := te.Execute(context.Background(), "A", registry(t, ran), []core.FunctionCall{{Name: "ok"}, {Name: "missing", Arguments: "{}"}})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeNotFound, toolErr.Code)
	assert.Equal(t, "missing", toolErr.Tool)

	_, err = te.Execute(context.Background(), "A", nil, []core.FunctionCall{{Name: "ok"}})
	require.ErrorAs(t, err, &toolErr)
}

func TestFunctionExecutor_InvalidArguments(t *testing.T) {
	te := NewFunctionExecutor(FunctionExecutorConfig{})
	_, err := te.Execute(context.Background(), "A", registry(t, &teMockTool{name: "ok"}), []core.FunctionCall{{Name: "ok", Arguments: "{not json"}})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeInvalidArguments, toolErr.Code)
	assert.Equal(t, "{not json", toolErr.Arguments)
}

func TestFunctionExecutor_PanicRecovery(t *testing.T) {
	te := NewFunctionExecutor(FunctionExecutorConfig{})
	_, err := te.Execute(context.Background(), "A", registry(t, &teMockTool{name: "panic", panicMsg: "boom"}), []core.FunctionCall{{Name: "panic"}})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "panic recovered: boom")
}

func TestFunctionExecutor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	te := NewFunctionExecutor(FunctionExecutorConfig{})
	_, err := te.Execute(ctx, "A", registry(t, &teMockTool{name: "ok"}), []core.FunctionCall{{Name: "ok"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "", formatResult(nil))
	assert.Equal(t, "text", formatResult("text"))
	assert.Equal(t, "raw", formatResult([]byte("raw")))
	assert.Equal(t, `{"a":1}`, formatResult(map[string]int{"a": 1}))
	assert.Equal(t, "5", formatResult(5.0))
}
