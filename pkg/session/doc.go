// Package session drives threads through the execution engine and turns the
// raw event stream into typed chunks.
//
// Invariants:
// - The Controller holds no per-thread state; the engine's store is the source of truth.
// - ActionRequest chunks are emitted only after the engine stream drains.
// - An event the Controller cannot classify ends the stream with ErrUnknownEvent.
// - Decisions are replicated or paired to pending requests before reaching the engine.
//
// Usage:
//
//	ctrl, _ := session.NewController(session.Config{Engine: engine})
//	for chunk, err := range ctrl.Run(ctx, "t1", "write a file named notes.txt") {
//		_ = chunk
//		_ = err
//	}
//	for chunk, err := range ctrl.Resume(ctx, "t1", []session.Decision{session.Approve()}) {
//		_ = chunk
//		_ = err
//	}
package session
