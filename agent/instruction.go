package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentchat/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context) (string, error) { return f(ctx) }

// Instruction represents either a static instruction string or a dynamic provider.
//
// Static text may reference template variables ({{.agent_name}} and any
// variable passed through Options.Variables).
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
// Static text is rendered as a template against vars.
func (i Instruction) Resolve(ctx context.Context, vars map[string]any) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx)
	}
	out, err := util.RenderTemplate(i.text, vars)
	if err != nil {
		return "", fmt.Errorf("failed to render instruction template: %w", err)
	}
	return out, nil
}
