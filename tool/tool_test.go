package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/internal/util"
	"github.com/hupe1980/agentchat/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Schema & Validation Tests --------------------

func TestValidateParameters(t *testing.T) {
	for name, required := range map[string]any{"[]any": []any{"x"}, "[]string": []string{"x"}} {
		t.Run(name, func(t *testing.T) {
			schema := map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": map[string]any{"type": "integer"},
				},
				"required": required,
			}

			assert.NoError(t, util.ValidateParameters(map[string]any{"x": 5}, schema))

			err := util.ValidateParameters(map[string]any{}, schema)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "x", vErr.Field)

			err = util.ValidateParameters(map[string]any{"x": "not-int"}, schema)
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Message, "expected type integer")
		})
	}
}

func TestValidateParameters_Enum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"unit": map[string]any{"type": "string", "enum": []any{"C", "F"}},
		},
	}
	assert.NoError(t, util.ValidateParameters(map[string]any{"unit": "C"}, schema))
	assert.Error(t, util.ValidateParameters(map[string]any{"unit": "K"}, schema))
}

// -------------------- FunctionTool Tests --------------------

func newToolContext(id string) *core.ToolContext {
	return core.NewToolContext(context.Background(), "assistant", id, logging.NoOpLogger{})
}

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *core.ToolContext, args map[string]any) (any, error) {
		a := args["a"].(float64)
		b := args["b"].(float64)
		return a + b, nil
	})

	result, err := sumTool.Call(newToolContext("fc1"), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(newToolContext("fc2"), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "test", toolErr.Tool)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	boom := errors.New("boom")
	execTool := NewFunctionTool("fail", "Fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, boom
	})
	_, err := execTool.Call(newToolContext("fc3"), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("fail", "quota exceeded", "QUOTA")
	execTool := NewFunctionTool("fail", "Fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, custom
	})
	_, err := execTool.Call(newToolContext("fc4"), nil)
	assert.Same(t, custom, err)
}

func TestTypedTool(t *testing.T) {
	type greetArgs struct {
		Name string `json:"name"`
	}
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}
	greet := NewTypedTool("greet", "Greets", params, func(_ *core.ToolContext, args greetArgs) (string, error) {
		return "Hello " + args.Name, nil
	})

	res, err := greet.Call(newToolContext("fc5"), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", res)
}

// -------------------- Registry Tests --------------------

func TestRegistry(t *testing.T) {
	noop := func(_ *core.ToolContext, _ map[string]any) (any, error) { return nil, nil }
	r, err := NewRegistry(
		NewFunctionTool("zeta", "Z", nil, noop),
		NewFunctionTool("alpha", "A", nil, noop),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "zeta", defs[1].Function.Name)

	_, ok := r.Lookup("alpha")
	assert.True(t, ok)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.Error(t, r.Register(NewFunctionTool("alpha", "dup", nil, noop)))
	assert.Error(t, r.Register(NewFunctionTool("", "empty", nil, noop)))
}

func TestNewRegistry_Duplicate(t *testing.T) {
	noop := func(_ *core.ToolContext, _ map[string]any) (any, error) { return nil, nil }
	_, err := NewRegistry(NewFunctionTool("a", "", nil, noop), NewFunctionTool("a", "", nil, noop))
	assert.Error(t, err)
}

// -------------------- ToolError Formatting --------------------

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")

	plain := &ToolError{Tool: "demo", Message: "x"}
	assert.Equal(t, "tool error in demo: x", plain.Error())
}
