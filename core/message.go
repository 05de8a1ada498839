package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags what a Message carries. The string values double as the labels
// printed by the console renderer.
type Kind string

const (
	// KindText is a plain text message from the user or an agent.
	KindText Kind = "TextMessage"
	// KindToolCallRequest carries the tool calls requested by the model.
	KindToolCallRequest Kind = "ToolCallRequestEvent"
	// KindToolCallExecution carries one result per requested tool call.
	KindToolCallExecution Kind = "ToolCallExecutionEvent"
	// KindStreamingChunk is a partial text fragment of a streamed reply.
	KindStreamingChunk Kind = "ModelClientStreamingChunkEvent"
	// KindToolCallSummary is the final message of an agent that does not
	// reflect on tool use: the tool results joined as text.
	KindToolCallSummary Kind = "ToolCallSummaryMessage"
)

// SourceUser is the Source of messages submitted by the caller.
const SourceUser = "user"

// Usage captures token usage reported by the remote service for one reply.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum of u and o. A nil receiver is treated as zero.
func (u *Usage) Add(o *Usage) *Usage {
	sum := &Usage{}
	if u != nil {
		sum.PromptTokens, sum.CompletionTokens = u.PromptTokens, u.CompletionTokens
	}
	if o != nil {
		sum.PromptTokens += o.PromptTokens
		sum.CompletionTokens += o.CompletionTokens
	}
	return sum
}

// Message is one entry of a conversation. After emission it should be treated
// as immutable.
type Message struct {
	ID          string             `json:"id"`
	Source      string             `json:"source"`
	Kind        Kind               `json:"type"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []FunctionCall     `json:"tool_calls,omitempty"`
	ToolResults []FunctionResponse `json:"tool_results,omitempty"`
	Usage       *Usage             `json:"models_usage,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewMessage creates a bare message of kind authored by source.
func NewMessage(source string, kind Kind) Message {
	return Message{
		ID:        NewID(),
		Source:    source,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTextMessage creates a text message.
func NewTextMessage(source, text string) Message {
	m := NewMessage(source, KindText)
	m.Content = text
	return m
}

// NewUserMessage creates the user-authored task message that opens a run.
func NewUserMessage(task string) Message { return NewTextMessage(SourceUser, task) }

// NewToolCallRequest records the tool calls the model asked source to run.
func NewToolCallRequest(source string, calls []FunctionCall) Message {
	m := NewMessage(source, KindToolCallRequest)
	m.ToolCalls = append([]FunctionCall(nil), calls...)
	return m
}

// NewToolCallExecution records the results of a batch of tool calls.
func NewToolCallExecution(source string, results []FunctionResponse) Message {
	m := NewMessage(source, KindToolCallExecution)
	m.ToolResults = append([]FunctionResponse(nil), results...)
	return m
}

// NewStreamingChunk creates a partial text fragment.
func NewStreamingChunk(source, text string) Message {
	m := NewMessage(source, KindStreamingChunk)
	m.Content = text
	return m
}

// NewToolCallSummary joins tool results into a single text message.
func NewToolCallSummary(source string, results []FunctionResponse) Message {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = r.Content
	}
	m := NewMessage(source, KindToolCallSummary)
	m.Content = strings.Join(lines, "\n")
	return m
}

// NewID generates a new unique identifier for messages and runs.
func NewID() string { return uuid.NewString() }

// IsChunk reports whether m is a streaming fragment. Fragments are delivered
// to stream consumers but never recorded in a transcript.
func (m Message) IsChunk() bool { return m.Kind == KindStreamingChunk }

// IsChat reports whether m is a conversational message visible to other
// agents (as opposed to a tool event).
func (m Message) IsChat() bool { return m.Kind == KindText || m.Kind == KindToolCallSummary }
