package console

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentchat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(msgs []core.Message, err error) (<-chan core.Message, <-chan error) {
	out := make(chan core.Message, len(msgs))
	errCh := make(chan error, 1)
	for _, m := range msgs {
		out <- m
	}
	if err != nil {
		errCh <- err
	}
	close(out)
	close(errCh)
	return out, errCh
}

func noColor(o *Options) {
	off := false
	o.Color = &off
}

func TestRender_WeatherTranscript(t *testing.T) {
	msgs := []core.Message{
		core.NewUserMessage("What is the weather in New York?"),
		core.NewToolCallRequest("weather_agent", []core.FunctionCall{{Name: "get_weather", Arguments: `{"city":"New York"}`}}),
		core.NewToolCallExecution("weather_agent", []core.FunctionResponse{{Name: "get_weather", Content: "The current weather in New York is 28 °C and sunny."}}),
		core.NewStreamingChunk("weather_agent", "It is "),
		core.NewStreamingChunk("weather_agent", "sunny."),
		core.NewTextMessage("weather_agent", "It is sunny."),
	}

	var buf bytes.Buffer
	msgCh, streamErrCh := stream(msgs, nil)
	res, err := New(&buf, noColor).Render(context.Background(), msgCh, streamErrCh)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 4)

	want := "---------- TextMessage (user) ----------\n" +
		"What is the weather in New York?\n" +
		"---------- ToolCallRequestEvent (weather_agent) ----------\n" +
		"[FunctionCall(id='', arguments='{\"city\":\"New York\"}', name='get_weather')]\n" +
		"---------- ToolCallExecutionEvent (weather_agent) ----------\n" +
		"[FunctionExecutionResult(content='The current weather in New York is 28 °C and sunny.', name='get_weather', call_id='', is_error=False)]\n" +
		"---------- ModelClientStreamingChunkEvent (weather_agent) ----------\n" +
		"It is sunny.\n"
	assert.Equal(t, want, buf.String())
}

func TestRender_ChunksFromDifferentSources(t *testing.T) {
	msgs := []core.Message{
		core.NewStreamingChunk("a1", "Hi"),
		core.NewStreamingChunk("a2", "Yo"),
		core.NewTextMessage("a2", "Yo"),
		core.NewToolCallSummary("a1", []core.FunctionResponse{{Content: "r1"}, {Content: "r2"}}),
	}

	var buf bytes.Buffer
	msgCh, streamErrCh := stream(msgs, nil)
	_, err := New(&buf, noColor).Render(context.Background(), msgCh, streamErrCh)
	require.NoError(t, err)

	want := "---------- ModelClientStreamingChunkEvent (a1) ----------\n" +
		"Hi\n" +
		"---------- ModelClientStreamingChunkEvent (a2) ----------\n" +
		"Yo\n" +
		"---------- ToolCallSummaryMessage (a1) ----------\n" +
		"r1\nr2\n"
	assert.Equal(t, want, buf.String())
}

func TestRender_Color(t *testing.T) {
	on := true
	var buf bytes.Buffer
	msgCh, streamErrCh := stream([]core.Message{core.NewUserMessage("x")}, nil)
	_, err := New(&buf, func(o *Options) { o.Color = &on }).Render(context.Background(), msgCh, streamErrCh)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), ansiBold+"---------- TextMessage (user) ----------"+ansiReset)
}

func TestRender_RunError(t *testing.T) {
	boom := errors.New("boom")
	var buf bytes.Buffer
	msgCh, streamErrCh := stream([]core.Message{core.NewUserMessage("x")}, boom)
	res, err := New(&buf, noColor).Render(context.Background(), msgCh, streamErrCh)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, res.Messages, 1)
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func TestRender_WriteError(t *testing.T) {
	msgs := []core.Message{core.NewUserMessage("x"), core.NewTextMessage("a", "y")}
	w := &failingWriter{}
	msgCh, streamErrCh := stream(msgs, nil)
	res, err := New(w, noColor).Render(context.Background(), msgCh, streamErrCh)
	var rerr *core.RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, w.writes, "nothing is written after the first failure")
	assert.Len(t, res.Messages, 2, "the stream is still drained")
}

type fakeRunner struct {
	msgs []core.Message
}

func (f *fakeRunner) Run(ctx context.Context, task string) (*core.TaskResult, error) {
	return core.Collect(f.RunStream(ctx, task))
}

func (f *fakeRunner) RunStream(_ context.Context, task string) (<-chan core.Message, <-chan error) {
	return stream(append([]core.Message{core.NewUserMessage(task)}, f.msgs...), nil)
}

func (f *fakeRunner) StopReason() string { return "Maximum number of turns 1 reached." }

func TestRun_Stats(t *testing.T) {
	reply := core.NewTextMessage("a", "done")
	reply.Usage = &core.Usage{PromptTokens: 10, CompletionTokens: 4}

	var buf bytes.Buffer
	res, err := New(&buf, noColor, func(o *Options) { o.Stats = true }).Run(context.Background(), &fakeRunner{msgs: []core.Message{reply}}, "task")
	require.NoError(t, err)
	assert.Equal(t, "Maximum number of turns 1 reached.", res.StopReason)

	out := buf.String()
	assert.Contains(t, out, "---------- Summary ----------\n")
	assert.Contains(t, out, "Number of messages: 2\n")
	assert.Contains(t, out, "Finish reason: Maximum number of turns 1 reached.\n")
	assert.Contains(t, out, "Total prompt tokens: 10\n")
	assert.Contains(t, out, "Total completion tokens: 4\n")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
