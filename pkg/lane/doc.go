// Package lane serializes work per key. Each lane runs its tasks in FIFO order
// with a bounded concurrency (1 by default), so callers can honor a single flow
// per thread while distinct threads proceed in parallel.
package lane
