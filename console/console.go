// Package console renders a conversation stream as plain text blocks.
//
// Every message is printed under a header naming its kind and source:
//
//	---------- TextMessage (user) ----------
//	What is the weather in New York?
//
// Consecutive streaming chunks from one source share a single header and the
// complete text message that follows them is not printed again.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"golang.org/x/term"
)

const (
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

// Options configures a Console.
type Options struct {
	// Stats prints a summary footer (message count, stop reason, token usage,
	// duration) after a successful run.
	Stats bool
	// Color forces ANSI bold headers on or off. Nil detects a terminal.
	Color  *bool
	Logger logging.Logger
}

// Console writes a message stream to w.
type Console struct {
	w      io.Writer
	color  bool
	stats  bool
	logger logging.Logger
}

// New creates a console writing to w.
func New(w io.Writer, optFns ...func(o *Options)) *Console {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	color := isTerminal(w)
	if opts.Color != nil {
		color = *opts.Color
	}
	return &Console{w: w, color: color, stats: opts.Stats, logger: logging.OrNoOp(opts.Logger)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// StopReasoner is implemented by runners that report why their last run ended.
type StopReasoner interface {
	StopReason() string
}

// Run starts task on runner and renders its stream. A write failure cancels
// the run and is returned as *core.RenderError.
func (c *Console) Run(ctx context.Context, runner core.TaskRunner, task string) (*core.TaskResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, errs := runner.RunStream(ctx, task)
	return c.render(msgs, errs, cancel, func() string {
		if sr, ok := runner.(StopReasoner); ok {
			return sr.StopReason()
		}
		return ""
	})
}

// Render consumes msgs and errs until both are closed, printing every
// message. It returns the collected transcript (streaming chunks excluded)
// and the run's error. A write failure is returned as *core.RenderError;
// the remaining stream is drained without printing.
func (c *Console) Render(_ context.Context, msgs <-chan core.Message, errs <-chan error) (*core.TaskResult, error) {
	return c.render(msgs, errs, func() {}, func() string { return "" })
}

func (c *Console) render(msgs <-chan core.Message, errs <-chan error, abort func(), stopReason func() string) (*core.TaskResult, error) {
	start := time.Now()
	res := &core.TaskResult{}
	p := &printer{c: c}

	var (
		runErr    error
		renderErr error
	)
	for msgs != nil || errs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if !m.IsChunk() {
				res.Messages = append(res.Messages, m)
			}
			if renderErr != nil {
				continue
			}
			if err := p.print(m); err != nil {
				renderErr = &core.RenderError{Err: err}
				c.logger.Error("console.write.failed", "error", err.Error())
				abort()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	if renderErr != nil {
		return res, renderErr
	}
	if err := p.finish(); err != nil {
		return res, &core.RenderError{Err: err}
	}
	if runErr != nil {
		return res, runErr
	}

	res.StopReason = stopReason()
	if c.stats {
		if err := c.printStats(res, time.Since(start)); err != nil {
			return res, &core.RenderError{Err: err}
		}
	}
	return res, nil
}

// printer tracks an open streaming block across messages.
type printer struct {
	c           *Console
	chunkSource string // source of the open streaming block, "" if none
}

func (p *printer) print(m core.Message) error {
	if m.IsChunk() {
		if p.chunkSource != m.Source {
			if err := p.finish(); err != nil {
				return err
			}
			if err := p.c.header(m.Kind, m.Source); err != nil {
				return err
			}
			p.chunkSource = m.Source
		}
		_, err := io.WriteString(p.c.w, m.Content)
		return err
	}

	if p.chunkSource != "" {
		streamed := p.chunkSource == m.Source && m.Kind == core.KindText
		if err := p.finish(); err != nil {
			return err
		}
		if streamed {
			return nil
		}
	}

	if err := p.c.header(m.Kind, m.Source); err != nil {
		return err
	}
	_, err := fmt.Fprintln(p.c.w, FormatContent(m))
	return err
}

// finish terminates an open streaming block.
func (p *printer) finish() error {
	if p.chunkSource == "" {
		return nil
	}
	p.chunkSource = ""
	_, err := io.WriteString(p.c.w, "\n")
	return err
}

func (c *Console) header(kind core.Kind, source string) error {
	line := fmt.Sprintf("---------- %s (%s) ----------", kind, source)
	if c.color {
		line = ansiBold + line + ansiReset
	}
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Console) printStats(res *core.TaskResult, d time.Duration) error {
	usage := res.Usage()
	var b strings.Builder
	b.WriteString("---------- Summary ----------\n")
	fmt.Fprintf(&b, "Number of messages: %d\n", len(res.Messages))
	if res.StopReason != "" {
		fmt.Fprintf(&b, "Finish reason: %s\n", res.StopReason)
	}
	fmt.Fprintf(&b, "Total prompt tokens: %d\n", usage.PromptTokens)
	fmt.Fprintf(&b, "Total completion tokens: %d\n", usage.CompletionTokens)
	fmt.Fprintf(&b, "Duration: %.2f seconds\n", d.Seconds())
	_, err := io.WriteString(c.w, b.String())
	return err
}

// FormatContent renders the body of a message block.
func FormatContent(m core.Message) string {
	switch m.Kind {
	case core.KindToolCallRequest:
		calls := make([]string, len(m.ToolCalls))
		for i, fc := range m.ToolCalls {
			calls[i] = fmt.Sprintf("FunctionCall(id='%s', arguments='%s', name='%s')", fc.ID, fc.Arguments, fc.Name)
		}
		return "[" + strings.Join(calls, ", ") + "]"
	case core.KindToolCallExecution:
		results := make([]string, len(m.ToolResults))
		for i, fr := range m.ToolResults {
			results[i] = fmt.Sprintf("FunctionExecutionResult(content='%s', name='%s', call_id='%s', is_error=%s)", fr.Content, fr.Name, fr.ID, titleBool(fr.IsError))
		}
		return "[" + strings.Join(results, ", ") + "]"
	default:
		return m.Content
	}
}

func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
