// Package modelcontext decides which part of a conversation is sent to the
// model on each request.
//
// A Policy receives the full list of contents built from the transcript and
// returns the window to send. Every policy keeps the window well formed: it
// never starts with tool results whose originating function call was cut off.
// A window that would start there is extended back to the function call, so
// it can exceed the policy's size by that exchange.
package modelcontext

import (
	"fmt"

	"github.com/hupe1980/agentchat/core"
	"github.com/tiktoken-go/tokenizer"
)

// Policy selects the contents sent to the model.
type Policy interface {
	Name() string
	Window(contents []core.Content) []core.Content
}

// Unbounded sends the whole conversation.
type Unbounded struct{}

// Name implements Policy.
func (Unbounded) Name() string { return "unbounded" }

// Window implements Policy.
func (Unbounded) Window(contents []core.Content) []core.Content { return contents }

// Buffered keeps the last Size contents.
type Buffered struct {
	Size int
}

// NewBuffered returns a Buffered policy. A non-positive size means unbounded.
func NewBuffered(size int) *Buffered { return &Buffered{Size: size} }

// Name implements Policy.
func (b *Buffered) Name() string { return fmt.Sprintf("buffered(%d)", b.Size) }

// Window implements Policy.
func (b *Buffered) Window(contents []core.Content) []core.Content {
	if b.Size <= 0 || len(contents) <= b.Size {
		return contents
	}
	return contents[alignStart(contents, len(contents)-b.Size):]
}

// TokenLimited keeps the most recent contents whose estimated token count
// fits in MaxTokens. The newest content is always kept.
type TokenLimited struct {
	MaxTokens int
	counter   *TokenCounter
}

// NewTokenLimited builds a token limited policy using the GPT-4 encoding.
func NewTokenLimited(maxTokens int) (*TokenLimited, error) {
	counter, err := NewTokenCounter()
	if err != nil {
		return nil, err
	}
	return &TokenLimited{MaxTokens: maxTokens, counter: counter}, nil
}

// Name implements Policy.
func (t *TokenLimited) Name() string { return fmt.Sprintf("token_limited(%d)", t.MaxTokens) }

// Window implements Policy.
func (t *TokenLimited) Window(contents []core.Content) []core.Content {
	if t.MaxTokens <= 0 || len(contents) == 0 {
		return contents
	}
	total := 0
	start := len(contents)
	for i := len(contents) - 1; i >= 0; i-- {
		n := t.counter.CountContent(contents[i])
		if total+n > t.MaxTokens && start < len(contents) {
			break
		}
		total += n
		start = i
	}
	return contents[alignStart(contents, start):]
}

// alignStart moves start back past tool results to the content holding
// their function calls.
func alignStart(contents []core.Content, start int) int {
	for start > 0 && contents[start].Role == core.RoleTool {
		start--
	}
	return start
}

// TokenCounter estimates token counts with tiktoken.
type TokenCounter struct {
	codec tokenizer.Codec
}

// perContentOverhead approximates role and separator tokens added by chat
// formatting.
const perContentOverhead = 4

// NewTokenCounter creates a counter using the GPT-4 encoding, which serves as
// an approximation for every supported model family.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountContent estimates the tokens of one content including its function
// calls and responses.
func (tc *TokenCounter) CountContent(c core.Content) int {
	n := perContentOverhead
	for _, p := range c.Parts {
		switch v := p.(type) {
		case core.TextPart:
			n += tc.Count(v.Text)
		case core.FunctionCallPart:
			n += tc.Count(v.FunctionCall.Name) + tc.Count(v.FunctionCall.Arguments)
		case core.FunctionResponsePart:
			n += tc.Count(v.FunctionResponse.Name) + tc.Count(v.FunctionResponse.Content)
		}
	}
	return n
}
