package agentchat

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentchat/config"
	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/team"
	"github.com/hupe1980/agentchat/tool"
	"github.com/hupe1980/agentchat/tool/weather"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preset(t *testing.T, name string) *config.Config {
	t.Helper()
	cfg, err := config.Preset(name)
	require.NoError(t, err)
	return cfg
}

func withModel(m model.Model) func(o *Options) {
	return func(o *Options) {
		o.Model = m
		o.Logger = logging.NoOpLogger{}
	}
}

func kinds(msgs []core.Message) []core.Kind {
	out := make([]core.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestNew_MissingCredential(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := New(preset(t, "basic"), func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.ErrorIs(t, err, core.ErrMissingCredential)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.True(t, core.IsConfigError(err))
}

func TestNew_UnknownTool(t *testing.T) {
	cfg := preset(t, "weather")
	cfg.Agents[0].Tools = []string{"get_time"}

	_, err := New(cfg, withModel(model.NewScriptedModel()))
	var cerr *core.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "agents[0].tools", cerr.Field)
}

func TestNew_ExtraTools(t *testing.T) {
	cfg := preset(t, "weather")
	cfg.Agents[0].Tools = []string{"echo"}
	echo := tool.NewFunctionTool("echo", "Echo the input.", nil, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["text"], nil
	})

	app, err := New(cfg, withModel(model.NewScriptedModel()), func(o *Options) { o.Tools = []tool.Tool{echo} })
	require.NoError(t, err)
	defer app.Close()

	require.Len(t, app.Agents(), 1)
	_, ok := app.Agents()[0].Tools().Lookup("echo")
	assert.True(t, ok)
}

func TestApp_BasicSingleAgent(t *testing.T) {
	llm := model.NewScriptedModel(model.Step{Text: "The capital of France is Paris."})
	app, err := New(preset(t, "basic"), withModel(llm))
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Team())
	assert.Same(t, app.Agents()[0], app.Runner())

	res, err := app.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, core.SourceUser, res.Messages[0].Source)
	assert.Equal(t, app.Config().Task, res.Messages[0].Content)
	assert.Equal(t, "The capital of France is Paris.", res.Messages[1].Content)
}

func TestApp_WeatherReflection(t *testing.T) {
	llm := model.NewScriptedModel(
		model.Step{ToolCalls: []core.FunctionCall{{ID: "call_1", Name: weather.GetWeatherName, Arguments: `{"city":"Peshawar"}`}}},
		model.Step{Text: "It is 28 °C and sunny in Peshawar."},
	)
	app, err := New(preset(t, "weather"), withModel(llm))
	require.NoError(t, err)
	defer app.Close()

	res, err := app.Run(context.Background(), "What is the weather in Peshawar?")
	require.NoError(t, err)
	assert.Equal(t, []core.Kind{core.KindText, core.KindToolCallRequest, core.KindToolCallExecution, core.KindText}, kinds(res.Messages))
	assert.Equal(t, "The current weather in Peshawar is 28 °C and sunny.", res.Messages[2].ToolResults[0].Content)
	assert.Equal(t, 2, llm.Calls())
}

func TestApp_RunStreamIncludesChunks(t *testing.T) {
	llm := model.NewScriptedModel(model.Step{Text: "Sunny all day."})
	cfg := preset(t, "weather")
	app, err := New(cfg, withModel(llm))
	require.NoError(t, err)
	defer app.Close()

	msgs, errs := app.RunStream(context.Background(), "Weather?")
	var chunks []string
	for m := range msgs {
		if m.IsChunk() {
			chunks = append(chunks, m.Content)
		}
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "Sunny all day.", strings.Join(chunks, ""))
}

func TestApp_RoundRobinFourTurns(t *testing.T) {
	llm := model.NewScriptedModel(
		model.Step{ToolCalls: []core.FunctionCall{{ID: "a", Name: weather.GetWeatherName, Arguments: `{"city":"Peshawar"}`}}},
		model.Step{Text: "Sunny in Peshawar."},
		model.Step{ToolCalls: []core.FunctionCall{{ID: "b", Name: weather.AnalyzeWeatherName, Arguments: `{"weather_desc":"sunny"}`}}},
		model.Step{Text: "Great day for a walk."},
	)
	app, err := New(preset(t, "round_robin"), withModel(llm))
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Team())

	res, err := app.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Maximum number of turns 4 reached.", res.StopReason)

	var speakers []string
	for _, m := range res.Messages {
		if m.Kind == core.KindText && m.Source != core.SourceUser {
			speakers = append(speakers, m.Source)
		}
	}
	assert.Equal(t, []string{"weather_agent", "analysis_agent", "weather_agent", "analysis_agent"}, speakers)
	assert.Equal(t, 6, llm.Calls())
}

func TestApp_ResetBetweenTeamRuns(t *testing.T) {
	app, err := New(preset(t, "round_robin"), withModel(model.NewScriptedModel()))
	require.NoError(t, err)
	defer app.Close()

	first, err := app.Run(context.Background(), "First task")
	require.NoError(t, err)

	_, err = app.Run(context.Background(), "Second task")
	require.ErrorIs(t, err, team.ErrCompleted)

	require.NoError(t, app.Reset())
	second, err := app.Run(context.Background(), "Second task")
	require.NoError(t, err)
	assert.Equal(t, "Second task", second.Messages[0].Content)
	assert.Len(t, second.Messages, len(first.Messages))
}

func TestApp_ResetSingleAgent(t *testing.T) {
	app, err := New(preset(t, "basic"), withModel(model.NewScriptedModel()))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(context.Background(), "One")
	require.NoError(t, err)
	require.NoError(t, app.Reset())
	_, err = app.Run(context.Background(), "Two")
	require.NoError(t, err)
}

func TestApp_RetryWrapsModel(t *testing.T) {
	llm := model.NewScriptedModel(
		model.Step{Err: core.NewTransportError("scripted", 503, errors.New("unavailable"))},
		model.Step{Text: "Recovered."},
	)
	cfg := preset(t, "basic")
	cfg.Retry = config.RetryConfig{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	app, err := New(cfg, withModel(llm))
	require.NoError(t, err)
	defer app.Close()

	res, err := app.Run(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", res.Messages[len(res.Messages)-1].Content)
	assert.Equal(t, 2, llm.Calls())
}

func TestApp_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	llm := model.NewScriptedModel(
		model.Step{ToolCalls: []core.FunctionCall{{ID: "c", Name: weather.GetWeatherName, Arguments: `{"city":"Paris"}`}}, Usage: &core.Usage{PromptTokens: 10, CompletionTokens: 3}},
		model.Step{Text: "Sunny.", Usage: &core.Usage{PromptTokens: 20, CompletionTokens: 2}},
	)
	app, err := New(preset(t, "weather"), withModel(llm), func(o *Options) { o.Registerer = reg })
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(context.Background(), "Weather in Paris?")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "agentchat_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "agentchat_model_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_RunConsole(t *testing.T) {
	llm := model.NewScriptedModel(model.Step{Text: "Hello there."})
	cfg := preset(t, "basic")
	cfg.Console.Stats = true
	app, err := New(cfg, withModel(llm))
	require.NoError(t, err)
	defer app.Close()

	var buf bytes.Buffer
	_, err = app.RunConsole(context.Background(), &buf, "Hi")
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "---------- TextMessage (user) ----------\nHi\n")
	assert.Contains(t, out, "Hello there.")
	assert.Contains(t, out, "---------- Summary ----------")
}

func TestApp_NoTask(t *testing.T) {
	cfg := preset(t, "basic")
	cfg.Task = ""
	app, err := New(cfg, withModel(model.NewScriptedModel()))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(context.Background(), "")
	assert.True(t, core.IsConfigError(err))

	msgs, errs := app.RunStream(context.Background(), "")
	for range msgs {
	}
	assert.True(t, core.IsConfigError(<-errs))
}

func TestApp_CloseIdempotent(t *testing.T) {
	llm := model.NewScriptedModel()
	app, err := New(preset(t, "basic"), withModel(llm))
	require.NoError(t, err)

	require.NoError(t, app.Close())
	require.NoError(t, app.Close())

	_, err = app.Run(context.Background(), "Hi")
	assert.ErrorIs(t, err, core.ErrClientClosed)
	assert.Equal(t, 0, llm.Calls())
}

func TestNewModel_Providers(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		cfg      config.ClientConfig
		provider string
	}{
		{config.ClientConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "GEMINI_API_KEY"}, "openai"},
		{config.ClientConfig{Provider: config.ProviderAnthropic, APIKeyEnv: "GEMINI_API_KEY", Model: "claude-3-5-haiku-latest"}, "anthropic"},
		{config.ClientConfig{Provider: config.ProviderGemini, APIKeyEnv: "GEMINI_API_KEY"}, "gemini"},
		{config.ClientConfig{Provider: config.ProviderOllama}, "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := NewModel(tt.cfg, logging.NoOpLogger{})
			require.NoError(t, err)
			defer m.Close()
			assert.Equal(t, tt.provider, m.Info().Provider)
		})
	}

	_, err := NewModel(config.ClientConfig{Provider: "bedrock", APIKeyEnv: "GEMINI_API_KEY"}, nil)
	var cerr *core.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "client.provider", cerr.Field)
}

func TestNewModel_DeclaredCapabilities(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	caps := model.Capabilities{FunctionCalling: true, Family: model.FamilyGemini}
	m, err := NewModel(config.ClientConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "GEMINI_API_KEY", Capabilities: &caps}, nil)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, caps, m.Info().Capabilities)
}

func TestNewModel_CapabilitiesAllOff(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := config.Parse([]byte(`
client:
  provider: openai
  capabilities:
    function_calling: false
agents:
  - name: helper
task: hi
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Client.Capabilities)

	m, err := NewModel(cfg.Client, nil)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, model.Capabilities{Family: model.FamilyUnknown}, m.Info().Capabilities)

	// Without a capabilities block the provider default stands.
	m, err = NewModel(config.ClientConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "GEMINI_API_KEY"}, nil)
	require.NoError(t, err)
	defer m.Close()
	assert.True(t, m.Info().Capabilities.FunctionCalling)
}
