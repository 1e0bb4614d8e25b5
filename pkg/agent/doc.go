// Package agent implements the execution engine: a tool-using model loop that
// persists every step to a thread.Store and pauses when the model asks for a
// gated tool.
//
// Invariants:
// - Every step is appended to the store before the matching event is yielded.
// - No gated tool runs until a resume payload decides it.
// - A pause emits no event; callers read pending requests from State.
// - Tool calls route through toolexecutor only.
//
// Usage:
//
//	engine, _ := agent.NewEngine(agent.EngineConfig{
//		Store:        store,
//		ToolExecutor: exec,
//		Gate:         toolexecutor.NewGate("write_file"),
//		AuthProfiles: profiles,
//		Agent:        agent.DefaultConfig(),
//	})
//	for ev, err := range engine.Stream(ctx, threadID, agent.Input{Messages: msgs}) {
//		_ = ev
//		_ = err
//	}
package agent
