// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/internal/util"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
)

// ProviderName identifies this adapter in errors, logs and metrics.
const ProviderName = "anthropic"

// Options configures the Anthropic model adapter.
type Options struct {
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	APIKey       string
	BaseURL      string
	Capabilities model.Capabilities
	HTTPClient   *http.Client
	Logger       logging.Logger
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client anthropic.Client
	opts   Options
	closed atomic.Bool
}

// NewModel creates a new Anthropic model. No network I/O happens here. An
// empty APIKey yields a *core.ConfigError wrapping core.ErrMissingCredential.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		Capabilities: model.Capabilities{
			Vision:          true,
			FunctionCalling: true,
			Family:          model.FamilyClaude,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &core.ConfigError{Field: "api_key", Err: core.ErrMissingCredential}
	}
	if opts.MaxTokens <= 0 {
		return nil, core.NewConfigError("max_tokens", "must be positive")
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Model{client: anthropic.NewClient(clientOpts...), opts: opts}, nil
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	if m.closed.Load() {
		return model.Closed(core.NewTransportError(ProviderName, 0, core.ErrClientClosed))
	}

	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if system := systemBlocks(req); len(system) > 0 {
			params.System = system
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		m.opts.Logger.Debug("model.request", "provider", ProviderName, "model", string(m.opts.Model), "messages", len(params.Messages), "tools", len(params.Tools), "stream", req.Stream)

		var (
			msg *anthropic.Message
			err error
		)
		if req.Stream {
			msg, err = m.stream(ctx, params, out)
		} else {
			msg, err = m.client.Messages.New(ctx, params)
		}
		if err != nil {
			errCh <- classify(err)
			return
		}
		out <- toResponse(msg)
	}()

	return out, errCh
}

// stream forwards text deltas as partial responses and returns the
// accumulated message.
func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) (*anthropic.Message, error) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, err
		}
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		select {
		case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, text.Text)}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func toResponse(msg *anthropic.Message) model.Response {
	var parts []core.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if t := block.AsText(); t.Text != "" {
				parts = append(parts, core.TextPart{Text: t.Text})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if raw, err := json.Marshal(tu.Input); err == nil && string(raw) != "null" {
				args = string(raw)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			}})
		}
	}

	finishReason := "stop"
	switch msg.StopReason {
	case "":
	case anthropic.StopReasonToolUse:
		finishReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		finishReason = "length"
	default:
		finishReason = string(msg.StopReason)
	}

	return model.Response{
		ID:           msg.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
		Usage: &core.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// buildMessages converts contents to Anthropic messages. Tool results travel
// as tool_result blocks of a user message right after the assistant message
// that requested them.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := c.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, fc := range c.FunctionCalls() {
				var input any = map[string]any{}
				if fc.Arguments != "" {
					if err := json.Unmarshal([]byte(fc.Arguments), &input); err != nil {
						input = fc.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, input, fc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, fr := range c.FunctionResponses() {
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, fr.Content, fr.IsError))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	return messages
}

// systemBlocks collects the instructions and any system role contents.
func systemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role == core.RoleSystem {
			if text := c.Text(); text != "" {
				blocks = append(blocks, anthropic.TextBlockParam{Text: text})
			}
		}
	}
	return blocks
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := def.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = util.RequiredFields(params)
		}
		tp := anthropic.ToolParam{Name: def.Function.Name, InputSchema: schema}
		if def.Function.Description != "" {
			tp.Description = anthropic.String(def.Function.Description)
		}
		tools[i] = anthropic.ToolUnionParam{OfTool: &tp}
	}
	return tools
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransportError(ProviderName, 0, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return core.NewTransportError(ProviderName, apiErr.StatusCode, err)
	}
	return core.NewTransportError(ProviderName, 0, fmt.Errorf("request failed: %w", err))
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:         string(m.opts.Model),
		Provider:     ProviderName,
		BaseURL:      m.opts.BaseURL,
		Capabilities: m.opts.Capabilities,
	}
}

// Close marks the descriptor closed. Subsequent calls are no-ops.
func (m *Model) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.opts.HTTPClient != nil {
		m.opts.HTTPClient.CloseIdleConnections()
	}
	return nil
}

var _ model.Model = (*Model)(nil)
