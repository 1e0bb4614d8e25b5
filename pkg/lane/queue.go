package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("lane queue closed")

// ErrCleared is returned to queued tasks dropped by ClearLane.
var ErrCleared = errors.New("lane cleared")

// Task is one unit of lane work.
type Task func(ctx context.Context) error

// Options tunes a single submission.
type Options struct {
	// WarnAfter logs a warning when the task is still queued after this long.
	WarnAfter time.Duration
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
}

// Queue is a set of lanes keyed by string.
type Queue struct {
	mu                 sync.Mutex
	lanes              map[string]*laneState
	defaultConcurrency int
	taskIDSeq          int
	closed             bool
	wg                 sync.WaitGroup
	ctx                context.Context
	cancel             context.CancelFunc
}

// New creates a Queue whose lanes run one task at a time.
func New() *Queue {
	observability.EnsureRegistered()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:              make(map[string]*laneState),
		defaultConcurrency: 1,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Do runs task in lane and blocks until it finishes.
// If ctx is cancelled while the task is still queued, the task is dropped and ctx.Err() returned.
func (q *Queue) Do(ctx context.Context, lane string, task Task, opts *Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "tether.lane", "lane.do", attribute.String("lane", lane))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ls := q.laneLocked(lane)
	q.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, q.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan error, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	q.mu.Unlock()

	logger.Debug().Str("task_id", record.id).Int("queue_size", queueSize).Msg("Task enqueued")
	observability.SetLaneQueueSize(lane, queueSize)

	if opts != nil && opts.WarnAfter > 0 {
		go q.warnIfQueued(lane, record, opts.WarnAfter)
	}

	q.pump(lane)

	select {
	case err := <-record.result:
		if err != nil {
			tracing.RecordError(span, err)
		}
		return err
	case <-ctx.Done():
		if q.dequeue(lane, record) {
			tracing.RecordError(span, ctx.Err())
			return ctx.Err()
		}
		// Already running; the task observes ctx itself.
		err := <-record.result
		if err != nil {
			tracing.RecordError(span, err)
		}
		return err
	}
}

func (q *Queue) laneLocked(lane string) *laneState {
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{concurrency: q.defaultConcurrency}
		q.lanes[lane] = ls
	}
	return ls
}

func (q *Queue) pump(lane string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return
	}
	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++
		q.wg.Add(1)
		go q.execute(lane, record)
	}
	observability.SetLaneQueueSize(lane, len(ls.queue))
}

func (q *Queue) execute(lane string, record *taskRecord) {
	defer q.wg.Done()

	ctx, span := tracing.StartSpan(record.ctx, "tether.lane", "lane.execute",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)

	start := time.Now()
	err := runTask(runCtx, record.task)
	duration := time.Since(start)

	stop()
	cancel()

	record.result <- err

	if err != nil {
		tracing.RecordError(span, err)
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordLaneTask(duration, err == nil)

	q.mu.Lock()
	ls := q.lanes[lane]
	ls.running--
	idle := ls.running == 0 && len(ls.queue) == 0
	if idle {
		delete(q.lanes, lane)
	}
	q.mu.Unlock()

	if idle {
		observability.ForgetLane(lane)
		return
	}
	q.pump(lane)
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lane task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue) dequeue(lane string, record *taskRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			if ls.running == 0 && len(ls.queue) == 0 {
				delete(q.lanes, lane)
			}
			return true
		}
	}
	return false
}

func (q *Queue) warnIfQueued(lane string, record *taskRecord, after time.Duration) {
	timer := time.NewTimer(after)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-q.ctx.Done():
		return
	}

	q.mu.Lock()
	pos := -1
	if ls, ok := q.lanes[lane]; ok {
		for i, r := range ls.queue {
			if r == record {
				pos = i
				break
			}
		}
	}
	q.mu.Unlock()

	if pos >= 0 {
		log.Warn().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("waited", time.Since(record.enqueuedAt)).
			Int("queue_pos", pos).
			Msg("Task waiting longer than expected")
	}
}

// QueueSize returns the number of tasks waiting in lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, ok := q.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// Running returns the number of tasks executing in lane.
func (q *Queue) Running(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, ok := q.lanes[lane]; ok {
		return ls.running
	}
	return 0
}

// Stats returns queued and running counts for every active lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]map[string]int, len(q.lanes))
	for lane, ls := range q.lanes {
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
	}
	return stats
}

// ClearLane drops queued (not running) tasks, failing them with ErrCleared.
func (q *Queue) ClearLane(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return 0
	}
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- ErrCleared
	}
	ls.queue = nil
	observability.SetLaneQueueSize(lane, 0)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// Close cancels running tasks and waits for them to return.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
