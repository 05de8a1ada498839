// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming + function/tool calling). Any
// OpenAI-compatible endpoint can be targeted through BaseURL; the default is
// Gemini's OpenAI compatibility layer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	// ProviderName identifies this adapter in errors, logs and metrics.
	ProviderName = "openai"

	// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gemini-2.5-flash"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete function call parts at stream end.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	BaseURL             string
	APIKey              string
	Capabilities        model.Capabilities
	Temperature         *float64 // nil leaves the service default
	MaxCompletionTokens int64    // 0 leaves the service default
	HTTPClient          *http.Client
	Logger              logging.Logger
}

// Model wraps the Chat Completions API behind the generic model.Model interface.
type Model struct {
	client openai.Client
	opts   Options
	closed atomic.Bool
}

// NewModel validates the options and builds the connection descriptor. No
// network I/O happens here. An empty APIKey yields a *core.ConfigError
// wrapping core.ErrMissingCredential.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:   DefaultModel,
		BaseURL: GeminiBaseURL,
		Capabilities: model.Capabilities{
			FunctionCalling: true,
			Family:          model.FamilyGemini,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &core.ConfigError{Field: "api_key", Err: core.ErrMissingCredential}
	}
	if opts.Model == "" {
		return nil, core.NewConfigError("model", "model name is required")
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0), // retries belong to the retry middleware
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Model{client: openai.NewClient(reqOpts...), opts: opts}, nil
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
		params := m.buildParams(req, buildMessages(req))
		m.opts.Logger.Debug("model.request", "provider", ProviderName, "model", m.opts.Model, "messages", len(params.Messages), "tools", len(params.Tools), "stream", req.Stream)
		var err error
		if req.Stream {
			err = m.handleStreaming(ctx, params, out)
		} else {
			err = m.handleNonStreaming(ctx, params, out)
		}
		if err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// buildMessages converts normalized contents into chat messages. The system
// prompt comes first; tool results follow the assistant message that
// requested them in the order they were recorded.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, c := range req.Contents {
		text := c.Text()
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case core.RoleAssistant:
			toolCalls := toToolCallParams(c.FunctionCalls())
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case core.RoleTool:
			for _, fr := range c.FunctionResponses() {
				messages = append(messages, openai.ToolMessage(fr.Content, fr.ID))
			}
		default:
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	return messages
}

func toToolCallParams(calls []core.FunctionCall) []openai.ChatCompletionMessageToolCallParam {
	if len(calls) == 0 {
		return nil
	}
	params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, fc := range calls {
		args := fc.Arguments
		if args == "" {
			args = "{}"
		}
		params[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: args,
			},
		}
	}
	return params
}

// buildParams assembles the request parameters including tool definitions.
func (m *Model) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    m.opts.Model,
	}
	if m.opts.Temperature != nil {
		params.Temperature = openai.Float(*m.opts.Temperature)
	}
	if m.opts.MaxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(m.opts.MaxCompletionTokens)
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// handleStreaming forwards text deltas as partial responses and emits the
// aggregated final response once the stream ends (after the usage chunk).
func (m *Model) handleStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text         strings.Builder
		toolAgg      = map[int64]*aggCall{}
		finishReason string
		usage        *core.Usage
	)
	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
			usage = &core.Usage{PromptTokens: int(ck.Usage.PromptTokens), CompletionTokens: int(ck.Usage.CompletionTokens)}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				select {
				case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, ch.Delta.Content)}:
				case <-ctx.Done():
					return core.NewTransportError(ProviderName, 0, ctx.Err())
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classify(err)
	}

	parts := make([]core.Part, 0, len(toolAgg)+1)
	if text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: text.String()})
	}
	indexes := make([]int64, 0, len(toolAgg))
	for idx := range toolAgg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		ac := toolAgg[idx]
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: ac.id, Name: ac.name, Arguments: ac.args}})
	}
	if finishReason == "" && len(parts) == 0 {
		return core.NewTransportError(ProviderName, 0, errors.New("stream ended without a completion"))
	}
	out <- model.Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
		Usage:        usage,
	}
	return nil
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return classify(err)
	}
	if len(resp.Choices) == 0 {
		return core.NewTransportError(ProviderName, 0, errors.New("no choices returned"))
	}
	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	out <- model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: ch0.FinishReason,
		Usage: &core.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	return nil
}

// classify wraps an SDK error as a TransportError carrying the HTTP status.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return core.NewTransportError(ProviderName, apiErr.StatusCode, err)
	}
	return core.NewTransportError(ProviderName, 0, fmt.Errorf("request failed: %w", err))
}

// Info returns metadata describing this model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:         m.opts.Model,
		Provider:     ProviderName,
		BaseURL:      m.opts.BaseURL,
		Capabilities: m.opts.Capabilities,
	}
}

// Close marks the descriptor closed and drops idle connections of a caller
// supplied HTTP client. Subsequent calls are no-ops.
func (m *Model) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.opts.HTTPClient != nil {
		m.opts.HTTPClient.CloseIdleConnections()
	}
	m.opts.Logger.Debug("model.closed", "provider", ProviderName, "model", m.opts.Model)
	return nil
}
