package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}, nil)
}

func userRequest(stream bool) model.Request {
	return model.Request{Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")}, Stream: stream}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", core.NewTransportError("openai", 429, errors.New("quota")), true},
		{"server error", core.NewTransportError("openai", 503, errors.New("down")), true},
		{"bad request", core.NewTransportError("openai", 400, errors.New("bad")), false},
		{"unauthorized", core.NewTransportError("openai", 401, errors.New("key")), false},
		{"closed", core.NewTransportError("openai", 0, core.ErrClientClosed), false},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"config", &core.ConfigError{Field: "api_key", Err: core.ErrMissingCredential}, false},
		{"connection reset", core.NewTransportError("ollama", 0, errors.New("connection reset by peer")), true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)
	assert.Zero(t, p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4))

	p.Config.Jitter = true
	d := p.CalculateDelay(2)
	assert.GreaterOrEqual(t, d, 90*time.Millisecond)
	assert.LessOrEqual(t, d, 110*time.Millisecond)
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	inner := model.NewScriptedModel(
		model.Step{Err: core.NewTransportError("scripted", 503, errors.New("unavailable"))},
		model.Step{Err: core.NewTransportError("scripted", 429, errors.New("slow down"))},
		model.Step{Text: "ok"},
	)
	m := New(inner, func(o *Options) { o.Policy = fastPolicy(3) })

	resp, err := model.Final(m.Generate(context.Background(), userRequest(false)))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content.Text())
	assert.Equal(t, 3, inner.Calls())
}

func TestGenerate_GivesUp(t *testing.T) {
	inner := model.NewScriptedModel(
		model.Step{Err: core.NewTransportError("scripted", 500, errors.New("boom"))},
		model.Step{Err: core.NewTransportError("scripted", 500, errors.New("boom"))},
	)
	m := New(inner, func(o *Options) { o.Policy = fastPolicy(2) })

	_, err := model.Final(m.Generate(context.Background(), userRequest(false)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
	assert.True(t, core.IsTransportError(err))
	assert.Equal(t, 2, inner.Calls())
}

func TestGenerate_NoRetryOnClientError(t *testing.T) {
	inner := model.NewScriptedModel(model.Step{Err: core.NewTransportError("scripted", 400, errors.New("bad request"))})
	m := New(inner, func(o *Options) { o.Policy = fastPolicy(3) })

	_, err := model.Final(m.Generate(context.Background(), userRequest(false)))
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls())
}

// partialThenFail streams one chunk and then fails.
type partialThenFail struct {
	calls atomic.Int32
}

func (p *partialThenFail) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	p.calls.Add(1)
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, "It is ")}
	errCh <- core.NewTransportError("fake", 503, errors.New("stream broken"))
	close(out)
	close(errCh)
	return out, errCh
}

func (p *partialThenFail) Info() model.Info { return model.Info{Provider: "fake"} }
func (p *partialThenFail) Close() error     { return nil }

func TestGenerate_NoRetryAfterForwarding(t *testing.T) {
	inner := &partialThenFail{}
	m := New(inner, func(o *Options) { o.Policy = fastPolicy(3) })

	var partials int
	respCh, genErrCh := m.Generate(context.Background(), userRequest(true))
	_, err := model.Drain(respCh, genErrCh, func(model.Response) error {
		partials++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, partials)
	assert.Equal(t, int32(1), inner.calls.Load())
}

// hang blocks until its context ends on the first call and answers afterwards.
type hang struct {
	calls atomic.Int32
}

func (h *hang) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	n := h.calls.Add(1)
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if n == 1 {
			<-ctx.Done()
			errCh <- core.NewTransportError("fake", 0, ctx.Err())
			return
		}
		out <- model.Response{Content: core.NewTextContent(core.RoleAssistant, "late but fine")}
	}()
	return out, errCh
}

func (h *hang) Info() model.Info { return model.Info{Provider: "fake"} }
func (h *hang) Close() error     { return nil }

func TestGenerate_AttemptTimeout(t *testing.T) {
	inner := &hang{}
	p := fastPolicy(2)
	p.Config.AttemptTimeout = 20 * time.Millisecond
	m := New(inner, func(o *Options) { o.Policy = p })

	resp, err := model.Final(m.Generate(context.Background(), userRequest(false)))
	require.NoError(t, err)
	assert.Equal(t, "late but fine", resp.Content.Text())
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestGenerate_ParentCancellation(t *testing.T) {
	inner := &hang{}
	m := New(inner, func(o *Options) { o.Policy = fastPolicy(3) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := model.Final(m.Generate(ctx, userRequest(false)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestInfoAndClose(t *testing.T) {
	inner := model.NewScriptedModel()
	m := New(inner)
	assert.Equal(t, "scripted", m.Info().Provider)
	require.NoError(t, m.Close())

	_, err := model.Final(m.Generate(context.Background(), userRequest(false)))
	assert.ErrorIs(t, err, core.ErrClientClosed)
	assert.Equal(t, 0, inner.Calls())
}
