package toolexecutor

import "context"

type executionKey struct{}

// withExecution hands the execution context to the tool handler.
func withExecution(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, execCtx)
}

// ExecutionFromContext returns the thread and working directory a handler runs
// for, or nil outside Execute.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	execCtx, _ := ctx.Value(executionKey{}).(*ExecutionContext)
	return execCtx
}
