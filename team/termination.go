package team

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentchat/core"
)

// TerminationCondition decides whether a conversation should stop early.
//
// Check receives the messages recorded since the previous check (the first
// call also sees the task message) and reports whether to stop together with
// a human readable reason. Conditions may be stateful; Reset clears that
// state before a new conversation.
type TerminationCondition interface {
	Check(delta []core.Message) (stop bool, reason string)
	Reset()
}

// MaxMessages stops once n messages (task included) have been recorded.
func MaxMessages(n int) TerminationCondition { return &maxMessages{max: n} }

type maxMessages struct {
	max   int
	count int
}

func (m *maxMessages) Check(delta []core.Message) (bool, string) {
	m.count += len(delta)
	if m.count >= m.max {
		return true, fmt.Sprintf("Maximum number of messages %d reached, current message count: %d", m.max, m.count)
	}
	return false, ""
}

func (m *maxMessages) Reset() { m.count = 0 }

// TextMention stops when a chat message contains text. When sources are
// given only messages from those sources are considered.
func TextMention(text string, sources ...string) TerminationCondition {
	return &textMention{text: text, sources: sources}
}

type textMention struct {
	text    string
	sources []string
}

func (t *textMention) Check(delta []core.Message) (bool, string) {
	for _, m := range delta {
		if m.Source == core.SourceUser || !m.IsChat() {
			continue
		}
		if len(t.sources) > 0 && !contains(t.sources, m.Source) {
			continue
		}
		if strings.Contains(m.Content, t.text) {
			return true, fmt.Sprintf("Text '%s' mentioned", t.text)
		}
	}
	return false, ""
}

func (t *textMention) Reset() {}

// SourceMatch stops after any of the named agents has produced a message.
func SourceMatch(names ...string) TerminationCondition { return &sourceMatch{names: names} }

type sourceMatch struct {
	names []string
}

func (s *sourceMatch) Check(delta []core.Message) (bool, string) {
	for _, m := range delta {
		if contains(s.names, m.Source) {
			return true, fmt.Sprintf("'%s' answered", m.Source)
		}
	}
	return false, ""
}

func (s *sourceMatch) Reset() {}

// Func adapts a stateless predicate to TerminationCondition.
type Func func(delta []core.Message) (bool, string)

// Check implements TerminationCondition.
func (f Func) Check(delta []core.Message) (bool, string) { return f(delta) }

// Reset implements TerminationCondition.
func (Func) Reset() {}

// Or stops as soon as any condition fires.
func Or(conds ...TerminationCondition) TerminationCondition { return &orCondition{conds: conds} }

type orCondition struct {
	conds []TerminationCondition
}

func (o *orCondition) Check(delta []core.Message) (bool, string) {
	for _, c := range o.conds {
		if stop, reason := c.Check(delta); stop {
			return true, reason
		}
	}
	return false, ""
}

func (o *orCondition) Reset() {
	for _, c := range o.conds {
		c.Reset()
	}
}

// And stops once every condition has fired, not necessarily on the same
// check.
func And(conds ...TerminationCondition) TerminationCondition {
	return &andCondition{conds: conds, fired: make([]bool, len(conds)), reasons: make([]string, len(conds))}
}

type andCondition struct {
	conds   []TerminationCondition
	fired   []bool
	reasons []string
}

func (a *andCondition) Check(delta []core.Message) (bool, string) {
	done := len(a.conds) > 0
	for i, c := range a.conds {
		if !a.fired[i] {
			a.fired[i], a.reasons[i] = c.Check(delta)
		}
		done = done && a.fired[i]
	}
	if !done {
		return false, ""
	}
	return true, strings.Join(a.reasons, "; ")
}

func (a *andCondition) Reset() {
	for i, c := range a.conds {
		c.Reset()
		a.fired[i] = false
		a.reasons[i] = ""
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
