package core

import "sync"

// Transcript is the ordered, append-only message log of one run.
// It is safe for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript { return &Transcript{} }

// Append records m. Streaming chunks are ignored.
func (t *Transcript) Append(m Message) {
	if m.IsChunk() {
		return
	}
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
}

// Messages returns a snapshot copy of the log.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of recorded messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Since returns the messages recorded at or after index i.
func (t *Transcript) Since(i int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i >= len(t.messages) {
		return nil
	}
	if i < 0 {
		i = 0
	}
	out := make([]Message, len(t.messages)-i)
	copy(out, t.messages[i:])
	return out
}

// TaskResult is the outcome of a completed run.
type TaskResult struct {
	Messages   []Message `json:"messages"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// Usage sums the token usage over all messages.
func (r *TaskResult) Usage() *Usage {
	var total *Usage
	for _, m := range r.Messages {
		if m.Usage != nil {
			total = total.Add(m.Usage)
		}
	}
	if total == nil {
		return &Usage{}
	}
	return total
}
