// Package core provides the foundational domain types shared by every other
// package of agentchat:
//
//   - Message / Kind: the tagged entries of a conversation
//   - Transcript / TaskResult: the append-only log of one run and its outcome
//   - Content / Part: the provider-neutral model input and output format
//   - ChatAgent / TaskRunner: the contracts implemented by agents and teams
//   - ToolContext: the scoped surface handed to tool implementations
//   - ConfigError / TransportError / RenderError: the error kinds that abort a run
//
// The package has no dependency on model providers, tools or rendering.
package core
