// Package gemini provides a model.Model backed by the native Gemini API
// through google.golang.org/genai.
//
// The SDK client needs a context to be built, so it is created on the first
// Generate call rather than in NewModel.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/internal/util"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
	"google.golang.org/genai"
)

const (
	// ProviderName identifies this adapter in errors, logs and metrics.
	ProviderName = "gemini"

	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gemini-2.5-flash"
)

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	APIKey          string
	BaseURL         string // overrides the SDK endpoint, mainly for tests
	Temperature     *float32
	MaxOutputTokens int32
	Capabilities    model.Capabilities
	HTTPClient      *http.Client
	Logger          logging.Logger
}

// Model wraps the genai Models service.
type Model struct {
	opts   Options
	mu     sync.Mutex
	client *genai.Client
	closed atomic.Bool
}

// NewModel validates the options. An empty APIKey yields a
// *core.ConfigError wrapping core.ErrMissingCredential.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model: DefaultModel,
		Capabilities: model.Capabilities{
			Vision:           true,
			FunctionCalling:  true,
			JSONOutput:       true,
			StructuredOutput: true,
			Family:           model.FamilyGemini,
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
	return &Model{opts: opts}, nil
}

func (m *Model) getClient(ctx context.Context) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     m.opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: m.opts.HTTPClient,
	}
	if m.opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: m.opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, core.NewTransportError(ProviderName, 0, fmt.Errorf("failed to create client: %w", err))
	}
	m.client = client
	return client, nil
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

		client, err := m.getClient(ctx)
		if err != nil {
			errCh <- err
			return
		}

		contents, err := buildContents(req.Contents)
		if err != nil {
			errCh <- core.NewTransportError(ProviderName, 0, err)
			return
		}
		config := m.buildConfig(req)

		m.opts.Logger.Debug("model.request", "provider", ProviderName, "model", m.opts.Model, "contents", len(contents), "tools", len(req.Tools), "stream", req.Stream)

		if !req.Stream {
			result, err := client.Models.GenerateContent(ctx, m.opts.Model, contents, config)
			if err != nil {
				errCh <- classify(err)
				return
			}
			out <- toResponse(result)
			return
		}

		var (
			text  strings.Builder
			calls []*genai.FunctionCall
			last  *genai.GenerateContentResponse
		)
		for chunk, err := range client.Models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
			if err != nil {
				errCh <- classify(err)
				return
			}
			last = chunk
			calls = append(calls, chunk.FunctionCalls()...)
			if t := chunk.Text(); t != "" {
				text.WriteString(t)
				select {
				case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, t)}:
				case <-ctx.Done():
					errCh <- core.NewTransportError(ProviderName, 0, ctx.Err())
					return
				}
			}
		}
		if last == nil {
			errCh <- core.NewTransportError(ProviderName, 0, errors.New("stream ended without a completion"))
			return
		}
		out <- buildResponse(last, text.String(), calls)
	}()

	return out, errCh
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     m.opts.Temperature,
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}}
	}
	if req.JSONOutput {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, def := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  toSchema(def.Function.Parameters),
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// buildContents converts contents to genai contents. Gemini calls the
// assistant role "model"; tool results are user turns of function responses.
func buildContents(contents []core.Content) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, c := range contents {
		var parts []*genai.Part
		role := "user"
		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			role = "model"
			if text := c.Text(); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, fc := range c.FunctionCalls() {
				args := map[string]any{}
				if fc.Arguments != "" {
					if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("invalid arguments for %s: %w", fc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: fc.ID, Name: fc.Name, Args: args}})
			}
		case core.RoleTool:
			for _, fr := range c.FunctionResponses() {
				response := map[string]any{"output": fr.Content}
				if fr.IsError {
					response = map[string]any{"error": fr.Content}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: response}})
			}
		default:
			if text := c.Text(); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
		}
		if len(parts) > 0 {
			result = append(result, &genai.Content{Role: role, Parts: parts})
		}
	}
	return result, nil
}

// toSchema converts a JSON schema map into a genai.Schema.
func toSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	schema := &genai.Schema{}
	if d, ok := s["description"].(string); ok {
		schema.Description = d
	}
	switch s["type"] {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if items, ok := s["items"].(map[string]any); ok {
			schema.Items = toSchema(items)
		}
	default:
		schema.Type = genai.TypeObject
		if props, ok := s["properties"].(map[string]any); ok {
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					schema.Properties[name] = toSchema(pm)
				}
			}
		}
		schema.Required = util.RequiredFields(s)
	}
	if enum, ok := s["enum"].([]any); ok {
		for _, v := range enum {
			schema.Enum = append(schema.Enum, fmt.Sprint(v))
		}
	} else if enum, ok := s["enum"].([]string); ok {
		schema.Enum = enum
	}
	return schema
}

// toResponse converts a complete genai response.
func toResponse(result *genai.GenerateContentResponse) model.Response {
	return buildResponse(result, result.Text(), result.FunctionCalls())
}

// buildResponse assembles the final response from text and calls gathered
// over a whole exchange. result supplies only the finish reason and usage,
// so for a stream it is the last chunk.
func buildResponse(result *genai.GenerateContentResponse, text string, calls []*genai.FunctionCall) model.Response {
	resp := model.Response{
		Content:      core.Content{Role: core.RoleAssistant},
		FinishReason: "stop",
	}
	if text != "" {
		resp.Content.Parts = append(resp.Content.Parts, core.TextPart{Text: text})
	}
	for _, fc := range calls {
		args := "{}"
		if len(fc.Args) > 0 {
			if raw, err := json.Marshal(fc.Args); err == nil {
				args = string(raw)
			}
		}
		resp.Content.Parts = append(resp.Content.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: fc.ID, Name: fc.Name, Arguments: args}})
	}
	if len(calls) > 0 {
		resp.FinishReason = "tool_calls"
	} else if len(result.Candidates) > 0 && result.Candidates[0].FinishReason != "" {
		resp.FinishReason = strings.ToLower(string(result.Candidates[0].FinishReason))
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = &core.Usage{PromptTokens: int(u.PromptTokenCount), CompletionTokens: int(u.CandidatesTokenCount)}
	}
	return resp
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return core.NewTransportError(ProviderName, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return core.NewTransportError(ProviderName, apiErrPtr.Code, err)
	}
	return core.NewTransportError(ProviderName, 0, fmt.Errorf("request failed: %w", err))
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:         m.opts.Model,
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
