// Package tool implements the function / tool calling subsystem that lets agents
// invoke plain Go functions with schema validated arguments and uniform error
// reporting.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/internal/util"
)

// Tool is a named function advertised to the model.
//
// Implementations must be safe for concurrent use; the executor may run
// several calls at once when parallelism is enabled.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is shown to the model to help it decide when to call the tool.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool lookup or execution.
type ToolError struct {
	Tool      string `json:"tool"`                // Name of the tool that failed
	Message   string `json:"message"`             // Error message
	Code      string `json:"code"`                // Error code for categorization
	Arguments string `json:"arguments,omitempty"` // Raw arguments of the failing call
	Details   any    `json:"details,omitempty"`   // Additional error details
	Err       error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
