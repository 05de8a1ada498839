package model

import (
	"context"

	"github.com/hupe1980/agentchat/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
	JSONOutput   bool             `json:"json_output,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *core.Usage  `json:"usage,omitempty"`
}

// Capabilities declares what the remote model supports. Backends reached
// through an OpenAI-compatible endpoint cannot be introspected, so the caller
// states them explicitly.
type Capabilities struct {
	Vision           bool   `json:"vision" yaml:"vision"`
	FunctionCalling  bool   `json:"function_calling" yaml:"function_calling"`
	JSONOutput       bool   `json:"json_output" yaml:"json_output"`
	StructuredOutput bool   `json:"structured_output" yaml:"structured_output"`
	Family           string `json:"family" yaml:"family"`
}

// Family labels.
const (
	FamilyGemini  = "gemini"
	FamilyGPT     = "gpt"
	FamilyClaude  = "claude"
	FamilyOllama  = "ollama"
	FamilyUnknown = "unknown"
)

// Info contains metadata about a model implementation.
type Info struct {
	Name         string       `json:"name"`
	Provider     string       `json:"provider"` // "openai", "anthropic", "gemini", "ollama", ...
	BaseURL      string       `json:"base_url,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Model is the connection descriptor interface agents drive.
//
// Generate returns a response channel and an error channel. Streaming
// implementations emit Partial text responses followed by exactly one final
// response; non-streaming ones emit only the final response. The error
// channel carries at most one error. Both channels are closed when the
// exchange ends.
//
// Close releases the descriptor. It is safe to call more than once. Generate
// after Close fails with a *core.TransportError wrapping core.ErrClientClosed.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
	Close() error
}

// Final drains a Generate call and returns the final (non-partial) response.
func Final(respCh <-chan Response, errCh <-chan error) (*Response, error) {
	return Drain(respCh, errCh, nil)
}

// Drain is Final with partial responses passed to onPartial when it is
// non-nil. An onPartial error stops delivery and is returned once the
// exchange has ended.
func Drain(respCh <-chan Response, errCh <-chan error, onPartial func(Response) error) (*Response, error) {
	var final *Response
	var genErr error
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if onPartial != nil && genErr == nil {
					if err := onPartial(resp); err != nil {
						genErr = err
					}
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && genErr == nil {
				genErr = err
			}
		}
	}
	if genErr != nil {
		return nil, genErr
	}
	return final, nil
}

// Closed returns a pair of already closed channels carrying err. Adapters use
// it to fail fast without spawning a goroutine.
func Closed(err error) (<-chan Response, <-chan error) {
	out := make(chan Response)
	errCh := make(chan error, 1)
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}
