// Package model defines the provider-agnostic abstractions for talking to a
// remote chat-completion service.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Make capabilities (vision, function calling, JSON output, family) explicit
//   - Give every connection an explicit Close instead of process-wide clients
//   - Facilitate deterministic stubbing for tests (ScriptedModel)
//
// Providers (openai, anthropic, gemini, ollama) implement the Model interface
// so agents remain decoupled from vendor SDKs. Middleware such as retry and
// metrics wrap a Model and return a Model.
package model
