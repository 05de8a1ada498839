// Package ollama provides a model.Model backed by a local Ollama server.
// Ollama needs no credential.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
	"github.com/ollama/ollama/api"
)

const (
	// ProviderName identifies this adapter in errors, logs and metrics.
	ProviderName = "ollama"

	// DefaultHost is the address of a default Ollama installation.
	DefaultHost = "http://localhost:11434"

	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "llama3.2"
)

// Options configures the Ollama model adapter.
type Options struct {
	Model        string
	Host         string
	Temperature  *float64
	NumPredict   int
	Capabilities model.Capabilities
	HTTPClient   *http.Client
	Logger       logging.Logger
}

// Model wraps the Ollama chat API.
type Model struct {
	client *api.Client
	opts   Options
	closed atomic.Bool
}

// NewModel creates the descriptor. An unparsable host is a *core.ConfigError.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model: DefaultModel,
		Host:  DefaultHost,
		Capabilities: model.Capabilities{
			FunctionCalling: true,
			JSONOutput:      true,
			Family:          model.FamilyOllama,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Model == "" {
		return nil, core.NewConfigError("model", "model name is required")
	}
	host, err := url.Parse(opts.Host)
	if err != nil || host.Scheme == "" || host.Host == "" {
		return nil, &core.ConfigError{Field: "host", Message: fmt.Sprintf("invalid host %q", opts.Host), Err: err}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Model{client: api.NewClient(host, httpClient), opts: opts}, nil
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	if m.closed.Load() {
		return model.Closed(core.NewTransportError(ProviderName, 0, core.ErrClientClosed))
	}

	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		chatReq, err := m.buildRequest(req)
		if err != nil {
			errCh <- core.NewTransportError(ProviderName, 0, err)
			return
		}

		m.opts.Logger.Debug("model.request", "provider", ProviderName, "model", m.opts.Model, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools), "stream", req.Stream)

		var (
			text  strings.Builder
			calls []core.FunctionCall
			last  api.ChatResponse
		)
		err = m.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			last = resp
			for i, tc := range resp.Message.ToolCalls {
				fc, err := fromToolCall(tc, len(calls)+i)
				if err != nil {
					return err
				}
				calls = append(calls, fc)
			}
			if resp.Message.Content == "" {
				return nil
			}
			text.WriteString(resp.Message.Content)
			if !req.Stream {
				return nil
			}
			select {
			case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, resp.Message.Content)}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errCh <- classify(err)
			return
		}

		content := core.Content{Role: core.RoleAssistant}
		if text.Len() > 0 {
			content.Parts = append(content.Parts, core.TextPart{Text: text.String()})
		}
		for _, fc := range calls {
			content.Parts = append(content.Parts, core.FunctionCallPart{FunctionCall: fc})
		}
		finish := last.DoneReason
		if len(calls) > 0 {
			finish = "tool_calls"
		} else if finish == "" {
			finish = "stop"
		}
		out <- model.Response{
			Content:      content,
			FinishReason: finish,
			Usage:        &core.Usage{PromptTokens: last.PromptEvalCount, CompletionTokens: last.EvalCount},
		}
	}()

	return out, errCh
}

// wireMessage mirrors the JSON shape of an Ollama chat message.
type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// buildRequest converts the request through Ollama's JSON wire format, which
// keeps the conversion independent of the SDK's argument map types.
func (m *Model) buildRequest(req model.Request) (*api.ChatRequest, error) {
	var msgs []wireMessage
	if req.Instructions != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.Instructions})
	}
	for _, c := range req.Contents {
		switch c.Role {
		case core.RoleTool:
			for _, fr := range c.FunctionResponses() {
				msgs = append(msgs, wireMessage{Role: "tool", Content: fr.Content, ToolName: fr.Name})
			}
		case core.RoleAssistant:
			wm := wireMessage{Role: "assistant", Content: c.Text()}
			for _, fc := range c.FunctionCalls() {
				var tc wireToolCall
				tc.Function.Name = fc.Name
				tc.Function.Arguments = json.RawMessage("{}")
				if fc.Arguments != "" {
					if !json.Valid([]byte(fc.Arguments)) {
						return nil, fmt.Errorf("invalid arguments for %s", fc.Name)
					}
					tc.Function.Arguments = json.RawMessage(fc.Arguments)
				}
				wm.ToolCalls = append(wm.ToolCalls, tc)
			}
			msgs = append(msgs, wm)
		case core.RoleSystem:
			msgs = append(msgs, wireMessage{Role: "system", Content: c.Text()})
		default:
			msgs = append(msgs, wireMessage{Role: "user", Content: c.Text()})
		}
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	var messages []api.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	stream := req.Stream
	chatReq := &api.ChatRequest{
		Model:    m.opts.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if m.opts.Temperature != nil {
		chatReq.Options["temperature"] = *m.opts.Temperature
	}
	if m.opts.NumPredict > 0 {
		chatReq.Options["num_predict"] = m.opts.NumPredict
	}
	if req.JSONOutput {
		chatReq.Format = json.RawMessage(`"json"`)
	}
	if len(req.Tools) > 0 {
		raw, err := json.Marshal(req.Tools)
		if err != nil {
			return nil, err
		}
		var tools api.Tools
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatReq.Tools = tools
	}
	return chatReq, nil
}

func fromToolCall(tc api.ToolCall, index int) (core.FunctionCall, error) {
	args, err := json.Marshal(&tc.Function.Arguments)
	if err != nil {
		return core.FunctionCall{}, fmt.Errorf("failed to encode arguments of %s: %w", tc.Function.Name, err)
	}
	if string(args) == "null" {
		args = []byte("{}")
	}
	id := tc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	return core.FunctionCall{ID: id, Name: tc.Function.Name, Arguments: string(args)}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransportError(ProviderName, 0, err)
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return core.NewTransportError(ProviderName, statusErr.StatusCode, err)
	}
	return core.NewTransportError(ProviderName, 0, fmt.Errorf("request failed: %w", err))
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:         m.opts.Model,
		Provider:     ProviderName,
		BaseURL:      m.opts.Host,
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
	return nil
}

var _ model.Model = (*Model)(nil)
