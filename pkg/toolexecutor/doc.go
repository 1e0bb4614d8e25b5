// Package toolexecutor runs the engine's tools and decides which calls pause
// for a human.
//
// Every call is checked against the ToolPolicy and its JSON schema before the
// handler runs under a deadline. A handler error becomes a failed ToolResult
// that the engine turns into an error tool message. The Gate holds the
// interrupt_on set; a gated call is never executed until a decision arrives.
package toolexecutor
