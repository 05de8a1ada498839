// Package agentchat assembles a configured conversation: it builds the model
// connection descriptor, the assistant agents and, for more than one agent,
// a round-robin team, and runs tasks against them.
//
// Most applications:
//  1. Load a configuration (config.Load or config.Preset)
//  2. Create an App via New
//  3. Run a task with Run, RunStream or RunConsole (Reset a team between runs)
//  4. Close the App exactly once, on success and failure paths alike
package agentchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/agentchat/agent"
	"github.com/hupe1980/agentchat/config"
	"github.com/hupe1980/agentchat/console"
	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/metrics"
	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/model/anthropic"
	"github.com/hupe1980/agentchat/model/gemini"
	"github.com/hupe1980/agentchat/model/ollama"
	"github.com/hupe1980/agentchat/model/openai"
	"github.com/hupe1980/agentchat/model/retry"
	"github.com/hupe1980/agentchat/modelcontext"
	"github.com/hupe1980/agentchat/team"
	"github.com/hupe1980/agentchat/tool"
	"github.com/hupe1980/agentchat/tool/weather"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configures an App.
type Options struct {
	// Model replaces the descriptor built from the client configuration.
	// The App takes ownership and closes it.
	Model model.Model

	// Tools resolves tool names beyond the built-in weather tools.
	Tools []tool.Tool

	// Registerer enables Prometheus metrics when non-nil.
	Registerer prometheus.Registerer

	// Logger defaults to a structured logger built from the logging section.
	Logger logging.Logger
}

// App is an assembled conversation.
type App struct {
	cfg       *config.Config
	llm       model.Model
	agents    []*agent.AssistantAgent
	team      *team.RoundRobin
	runner    core.TaskRunner
	logger    logging.Logger
	closeOnce sync.Once
	closeErr  error
}

// New builds an App from cfg. The credential is read here, so a missing
// credential fails before any network call.
func New(cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		return nil, core.NewConfigError("config", "config must not be nil")
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, &core.ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
		}
		logger = logging.NewSlogLogger(level, cfg.Logging.Format, false)
	}

	var recorder *metrics.Recorder
	if opts.Registerer != nil {
		r, err := metrics.NewRecorder(opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		recorder = r
	}

	llm := opts.Model
	if llm == nil {
		built, err := NewModel(cfg.Client, logger)
		if err != nil {
			return nil, err
		}
		llm = built
	}
	if recorder != nil {
		llm = recorder.Model(llm)
	}
	if cfg.Retry.Enabled {
		llm = retry.New(llm, func(o *retry.Options) {
			o.Policy = retryPolicy(cfg.Retry)
			o.Logger = logger
		})
	}

	app := &App{cfg: cfg, llm: llm, logger: logger}

	extra := make(map[string]tool.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		extra[t.Name()] = t
	}

	participants := make([]core.ChatAgent, 0, len(cfg.Agents))
	for i, ac := range cfg.Agents {
		a, err := buildAgent(i, ac, llm, extra, recorder, logger)
		if err != nil {
			_ = llm.Close()
			return nil, err
		}
		app.agents = append(app.agents, a)
		participants = append(participants, a)
	}

	if cfg.Team == nil {
		app.runner = app.agents[0]
		return app, nil
	}

	rr, err := team.NewRoundRobin(participants, func(o *team.Options) {
		o.MaxTurns = cfg.Team.MaxTurns
		o.Termination = termination(cfg.Team.Termination)
		o.Logger = logger
	})
	if err != nil {
		_ = llm.Close()
		return nil, err
	}
	app.team = rr
	app.runner = rr
	return app, nil
}

// NewModel builds the connection descriptor described by cfg.
func NewModel(cfg config.ClientConfig, logger logging.Logger) (model.Model, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return asModel(openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.BaseURL != "" {
				o.BaseURL = cfg.BaseURL
			}
			declareCapabilities(&o.Capabilities, cfg.Capabilities)
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.Logger = logger
		}))
	case config.ProviderAnthropic:
		return asModel(anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.BaseURL = cfg.BaseURL
			declareCapabilities(&o.Capabilities, cfg.Capabilities)
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.Logger = logger
		}))
	case config.ProviderGemini:
		return asModel(gemini.NewModel(func(o *gemini.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.BaseURL = cfg.BaseURL
			declareCapabilities(&o.Capabilities, cfg.Capabilities)
			if cfg.Temperature != nil {
				t := float32(*cfg.Temperature)
				o.Temperature = &t
			}
			o.MaxOutputTokens = int32(cfg.MaxTokens)
			o.Logger = logger
		}))
	case config.ProviderOllama:
		return asModel(ollama.NewModel(func(o *ollama.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.BaseURL != "" {
				o.Host = cfg.BaseURL
			}
			declareCapabilities(&o.Capabilities, cfg.Capabilities)
			o.Temperature = cfg.Temperature
			o.NumPredict = int(cfg.MaxTokens)
			o.Logger = logger
		}))
	default:
		return nil, core.NewConfigError("client.provider", fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// declareCapabilities replaces the provider's default capabilities with the
// configured ones. Nil keeps the default; a declared block is taken whole, so
// every flag it omits is off.
func declareCapabilities(dst, declared *model.Capabilities) {
	if declared == nil {
		return
	}
	*dst = *declared
	if dst.Family == "" {
		dst.Family = model.FamilyUnknown
	}
}

// asModel keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func asModel[M model.Model](m M, err error) (model.Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func buildAgent(i int, ac config.AgentConfig, llm model.Model, extra map[string]tool.Tool, recorder *metrics.Recorder, logger logging.Logger) (*agent.AssistantAgent, error) {
	field := fmt.Sprintf("agents[%d]", i)

	tools := make([]tool.Tool, 0, len(ac.Tools))
	for _, name := range ac.Tools {
		t, ok := extra[name]
		if !ok {
			t, ok = weather.Lookup(name)
		}
		if !ok {
			return nil, core.NewConfigError(field+".tools", fmt.Sprintf("unknown tool %q", name))
		}
		tools = append(tools, t)
	}

	policy, err := contextPolicy(ac.Context)
	if err != nil {
		return nil, &core.ConfigError{Field: field + ".context", Message: err.Error(), Err: err}
	}

	return agent.NewAssistantAgent(ac.Name, llm, func(o *agent.Options) {
		if ac.SystemMessage != "" {
			o.SystemMessage = agent.NewInstructionFromText(ac.SystemMessage)
		}
		if ac.Description != "" {
			o.Description = ac.Description
		}
		o.Tools = tools
		o.Stream = ac.Stream
		o.ReflectOnToolUse = ac.ReflectOnToolUse
		o.MaxToolIterations = ac.MaxToolIterations
		o.ToolParallelism = ac.ToolParallelism
		o.JSONOutput = ac.JSONOutput
		o.Context = policy
		if recorder != nil {
			o.Metrics = recorder
		}
		o.Logger = logger
	})
}

func contextPolicy(c config.ContextConfig) (modelcontext.Policy, error) {
	switch c.Type {
	case config.ContextBuffered:
		return modelcontext.NewBuffered(c.Size), nil
	case config.ContextTokenLimited:
		return modelcontext.NewTokenLimited(c.MaxTokens)
	default:
		return modelcontext.Unbounded{}, nil
	}
}

func termination(tc *config.TerminationConfig) team.TerminationCondition {
	if tc == nil {
		return nil
	}
	var conds []team.TerminationCondition
	if tc.TextMention != "" {
		conds = append(conds, team.TextMention(tc.TextMention))
	}
	if tc.MaxMessages > 0 {
		conds = append(conds, team.MaxMessages(tc.MaxMessages))
	}
	if len(tc.SourceMatch) > 0 {
		conds = append(conds, team.SourceMatch(tc.SourceMatch...))
	}
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return team.Or(conds...)
	}
}

func retryPolicy(rc config.RetryConfig) *retry.Policy {
	cfg := retry.DefaultConfig
	cfg.MaxAttempts = rc.MaxAttempts
	if rc.InitialDelay > 0 {
		cfg.InitialDelay = rc.InitialDelay
	}
	if rc.MaxDelay > 0 {
		cfg.MaxDelay = rc.MaxDelay
	}
	cfg.AttemptTimeout = rc.AttemptTimeout
	return retry.NewPolicy(cfg, nil)
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Model returns the (possibly wrapped) connection descriptor.
func (a *App) Model() model.Model { return a.llm }

// Agents returns the assistant agents in configuration order.
func (a *App) Agents() []*agent.AssistantAgent {
	return append([]*agent.AssistantAgent(nil), a.agents...)
}

// Team returns the round-robin team, or nil for a single agent setup.
func (a *App) Team() *team.RoundRobin { return a.team }

// Runner returns the agent or team that executes tasks.
func (a *App) Runner() core.TaskRunner { return a.runner }

func (a *App) task(task string) (string, error) {
	if task == "" {
		task = a.cfg.Task
	}
	if task == "" {
		return "", core.NewConfigError("task", "no task given")
	}
	return task, nil
}

// Run executes task, or the configured task when task is empty. A team runs
// once: later calls fail with team.ErrCompleted until Reset is called.
func (a *App) Run(ctx context.Context, task string) (*core.TaskResult, error) {
	t, err := a.task(task)
	if err != nil {
		return nil, err
	}
	return a.runner.Run(ctx, t)
}

// RunStream is Run delivering messages as they are produced.
func (a *App) RunStream(ctx context.Context, task string) (<-chan core.Message, <-chan error) {
	t, err := a.task(task)
	if err != nil {
		out := make(chan core.Message)
		errCh := make(chan error, 1)
		errCh <- err
		close(out)
		close(errCh)
		return out, errCh
	}
	return a.runner.RunStream(ctx, t)
}

// RunConsole executes task and renders the conversation to w.
func (a *App) RunConsole(ctx context.Context, w io.Writer, task string) (*core.TaskResult, error) {
	t, err := a.task(task)
	if err != nil {
		return nil, err
	}
	c := console.New(w, func(o *console.Options) {
		o.Stats = a.cfg.Console.Stats
		o.Logger = a.logger
	})
	return c.Run(ctx, a.runner, t)
}

// Reset prepares a completed team for another run, discarding its
// transcript. A single agent keeps no state between runs, so Reset is a no-op
// there. It fails with team.ErrRunning while a run is in progress.
func (a *App) Reset() error {
	if a.team == nil {
		return nil
	}
	return a.team.Reset()
}

// Close releases the connection descriptor. Only the first call closes it;
// later calls return the same result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.llm.Close()
		if a.closeErr != nil && !errors.Is(a.closeErr, core.ErrClientClosed) {
			a.logger.Error("app.close.failed", "error", a.closeErr.Error())
		}
	})
	return a.closeErr
}
