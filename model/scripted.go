package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentchat/core"
)

// Step is one scripted reply of a ScriptedModel.
type Step struct {
	Text      string
	ToolCalls []core.FunctionCall
	Usage     *core.Usage
	Err       error // returned instead of a reply
}

// ScriptedModel is a deterministic in-memory Model for tests and examples.
// Each Generate call consumes the next Step; once the script is exhausted it
// answers "Mock response to: <last user text>".
type ScriptedModel struct {
	info   Info
	mu     sync.Mutex
	steps  []Step
	reqs   []Request
	closed atomic.Bool
}

// NewScriptedModel constructs a ScriptedModel with function calling enabled.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info: Info{
			Name:     "scripted",
			Provider: "scripted",
			Capabilities: Capabilities{
				FunctionCalling: true,
				JSONOutput:      true,
				Family:          FamilyUnknown,
			},
		},
		steps: steps,
	}
}

// WithCapabilities overrides the advertised capabilities.
func (m *ScriptedModel) WithCapabilities(c Capabilities) *ScriptedModel {
	m.info.Capabilities = c
	return m
}

// Push appends steps to the script.
func (m *ScriptedModel) Push(steps ...Step) {
	m.mu.Lock()
	m.steps = append(m.steps, steps...)
	m.mu.Unlock()
}

// Requests returns a copy of every request received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.reqs...)
}

// Calls returns the number of Generate calls received.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func (m *ScriptedModel) next(req Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		return s
	}
	var last string
	if n := len(req.Contents); n > 0 {
		last = req.Contents[n-1].Text()
	}
	return Step{Text: fmt.Sprintf("Mock response to: %s", last)}
}

// Generate implements Model; emits word sized chunks when streaming, then the final response.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	if m.closed.Load() {
		return Closed(core.NewTransportError(m.info.Provider, 0, core.ErrClientClosed))
	}
	if len(req.Contents) == 0 {
		return Closed(core.NewTransportError(m.info.Provider, 0, errors.New("no contents provided")))
	}
	step := m.next(req)

	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if step.Err != nil {
			errCh <- step.Err
			return
		}
		if req.Stream && step.Text != "" {
			for _, chunk := range splitChunks(step.Text) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.NewTextContent(core.RoleAssistant, chunk),
				}:
				}
			}
		}
		content := core.Content{Role: core.RoleAssistant}
		if step.Text != "" {
			content.Parts = append(content.Parts, core.TextPart{Text: step.Text})
		}
		finish := "stop"
		for _, fc := range step.ToolCalls {
			content.Parts = append(content.Parts, core.FunctionCallPart{FunctionCall: fc})
			finish = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Content: content, FinishReason: finish, Usage: step.Usage}:
		}
	}()
	return respCh, errCh
}

// splitChunks splits text after each space, preserving the spaces.
func splitChunks(text string) []string {
	parts := strings.SplitAfter(text, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Close implements Model. Subsequent calls are no-ops.
func (m *ScriptedModel) Close() error {
	m.closed.Store(true)
	return nil
}
