// Package agent contains the AssistantAgent, a model backed conversation
// participant that can call tools.
//
// The package focuses on three concerns:
//
//  1. Identity plumbing shared by participants (BaseAgent)
//  2. The system message, static or resolved per turn (Instruction)
//  3. Turning a transcript into model context and back (AssistantAgent)
//
// Execution model:
//   - Run and RunStream execute a task as a one agent conversation
//   - Step runs a single turn inside a team; the team owns the transcript
//   - The tool loop itself lives in the flow package
//
// An AssistantAgent keeps no per-conversation state, so one instance can
// take part in several teams. The model descriptor is shared and is closed
// by whoever created it.
package agent
