package agent

import "fmt"

// BaseAgent bundles the identity shared by concrete agents. Embed it and
// supply Step to satisfy core.ChatAgent.
type BaseAgent struct {
	name        string // Unique name within a team; the source of emitted messages
	description string // Shown to coordinators choosing a speaker
}

// NewBaseAgent constructs a BaseAgent with generated description (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the agent's name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }
