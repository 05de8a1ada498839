package metrics

import (
	"context"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/model"
	"github.com/hupe1980/agentchat/modelcontext"
)

// Model wraps a model.Model and records every exchange on a Recorder.
type Model struct {
	next     model.Model
	recorder *Recorder
	counter  *modelcontext.TokenCounter
}

// Model wraps next. When a provider reports no usage the token counts are
// estimated locally.
func (r *Recorder) Model(next model.Model) *Model {
	counter, _ := modelcontext.NewTokenCounter() // a nil counter estimates from length
	return &Model{next: next, recorder: r, counter: counter}
}

// Generate implements model.Model. Responses are passed through unchanged.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	start := time.Now()
	info := m.next.Info()
	respCh, errCh := m.next.Generate(ctx, req)

	out := make(chan model.Response, 32)
	outErr := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(outErr)

		var (
			final  *model.Response
			genErr error
		)
		for respCh != nil || errCh != nil {
			select {
			case resp, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}
				if !resp.Partial {
					r := resp
					final = &r
				}
				select {
				case out <- resp:
				case <-ctx.Done():
					if genErr == nil {
						genErr = ctx.Err()
					}
				}
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

		var usage *core.Usage
		if final != nil {
			usage = final.Usage
			if usage == nil {
				usage = m.estimate(req, final)
			}
		}
		m.recorder.ObserveRequest(info.Provider, info.Name, usage, time.Since(start), genErr)

		if genErr != nil {
			outErr <- genErr
		}
	}()
	return out, outErr
}

func (m *Model) estimate(req model.Request, resp *model.Response) *core.Usage {
	prompt := m.counter.Count(req.Instructions)
	for _, c := range req.Contents {
		prompt += m.counter.CountContent(c)
	}
	return &core.Usage{PromptTokens: prompt, CompletionTokens: m.counter.CountContent(resp.Content)}
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return m.next.Info() }

// Close closes the wrapped model.
func (m *Model) Close() error { return m.next.Close() }

var _ model.Model = (*Model)(nil)
