package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel, format string) (*StructuredLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(&LoggerConfig{Level: level, Format: format, Output: buf}), buf
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug": LogLevelDebug, "INFO": LogLevelInfo, "": LogLevelInfo,
		"warning": LogLevelWarn, "error": LogLevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestStructuredLogger_KeyValues(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug, "text")
	l.WithComponent("team").WithAgent("helper").Info("agent.run.start", "turn", 1)

	out := buf.String()
	assert.Contains(t, out, "agent.run.start")
	assert.Contains(t, out, "component=team")
	assert.Contains(t, out, "agent=helper")
	assert.Contains(t, out, "turn=1")
	assert.NotContains(t, out, "EXTRA")
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn, "json")
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestStructuredLogger_WithDoesNotMutateParent(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo, "text")
	child := l.With("k", "v")
	l.Info("parent")
	assert.NotContains(t, buf.String(), "k=v")
	child.Info("child")
	assert.Contains(t, buf.String(), "k=v")
}

func TestStructuredLogger_DomainHelpers(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo, "text")
	l.LogToolCall("get_weather", time.Millisecond, nil)
	l.LogToolCall("get_weather", time.Millisecond, errors.New("boom"))
	l.LogModelCall("gemini-2.5-flash", 12, time.Second, nil)
	l.LogTurn("weather_agent", 1, 3, time.Second)
	l.ErrorWithStack(errors.New("fatal"), "run.failed")

	out := buf.String()
	assert.Contains(t, out, "tool.call.completed")
	assert.Contains(t, out, "tool.call.failed")
	assert.Contains(t, out, "token_count=12")
	assert.Contains(t, out, "speaker=weather_agent")
	assert.Contains(t, out, "stack_trace=")
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoOp(nil))
	l := NewSlogAdapter(slog.Default())
	assert.Same(t, l, OrNoOp(l))
}

func TestSlogAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogAdapter(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug("d", "k", 1)
	l.Info("i")
	l.Warn("w")
	l.Error("e", "error", "boom")

	out := buf.String()
	for _, want := range []string{"msg=d k=1", "msg=i", "msg=w", "msg=e error=boom"} {
		assert.Contains(t, out, want)
	}
}

func TestWithRun(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo, "text")
	WithRun(l, "run-1").Info("agent.run.start")
	assert.Contains(t, buf.String(), "run_id=run-1")

	abuf := &bytes.Buffer{}
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(abuf, nil)))
	WithRun(adapter, "run-2").Info("team.run.start", "turn", 1)
	assert.Contains(t, abuf.String(), "run_id=run-2 turn=1")

	assert.Equal(t, NoOpLogger{}, WithRun(nil, "x"))
	assert.Equal(t, NoOpLogger{}, WithRun(NoOpLogger{}, "x"))
}
