package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/model"
)

// Options configures the retry middleware.
type Options struct {
	Policy *Policy // defaults to NewPolicy(DefaultConfig, nil)
	Logger logging.Logger
}

// Model retries failed exchanges of the wrapped model.
type Model struct {
	next   model.Model
	policy *Policy
	logger logging.Logger
}

// New wraps next with retry behavior.
func New(next model.Model, optFns ...func(o *Options)) *Model {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Policy == nil {
		opts.Policy = NewPolicy(DefaultConfig, nil)
	}
	return &Model{next: next, policy: opts.Policy, logger: logging.OrNoOp(opts.Logger)}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		cfg := m.policy.Config
		var lastErr error
		for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
			if delay := m.policy.CalculateDelay(attempt); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					errCh <- fmt.Errorf("retry cancelled: %w", ctx.Err())
					return
				case <-timer.C:
				}
			}

			forwarded, timedOut, err := m.attempt(ctx, req, out)
			if err == nil {
				return
			}
			lastErr = err

			if forwarded || ctx.Err() != nil || !(timedOut || m.policy.ShouldRetry(err)) {
				errCh <- err
				return
			}
			if attempt < cfg.MaxAttempts {
				m.logger.Warn("model.retry", "provider", m.next.Info().Provider, "attempt", attempt, "error", err.Error())
			}
		}
		errCh <- fmt.Errorf("giving up after %d attempts: %w", cfg.MaxAttempts, lastErr)
	}()

	return out, errCh
}

// attempt runs one exchange, forwarding every response to out. It reports
// whether anything was forwarded and whether the per-attempt deadline
// expired.
func (m *Model) attempt(ctx context.Context, req model.Request, out chan<- model.Response) (forwarded, timedOut bool, err error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if d := m.policy.Config.AttemptTimeout; d > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	respCh, errCh := m.next.Generate(attemptCtx, req)
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if err != nil {
				continue
			}
			select {
			case out <- resp:
				forwarded = true
			case <-ctx.Done():
				err = ctx.Err()
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil && err == nil {
				err = e
			}
		}
	}
	timedOut = err != nil && attemptCtx.Err() != nil && ctx.Err() == nil
	return forwarded, timedOut, err
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return m.next.Info() }

// Close closes the wrapped model.
func (m *Model) Close() error { return m.next.Close() }

var _ model.Model = (*Model)(nil)
