package sigtransport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one unit of work on the serial chain. It receives a
// per-task-timeout-scoped context; cancellation of ctx means the timeout
// has been abandoned, not that the underlying work was interrupted (Design
// Notes §9 — ratchet calls are not cancellable).
type Task func(ctx context.Context) error

// TaskQueue is the per-receiver serial FIFO chain (spec §4.3), implemented
// as a baton chain: each Add call hands the new task a channel that closes
// when the previous task settles, and installs its own closing channel as
// the tail for the next Add call to wait on. Both success and timeout continue the
// chain.
type TaskQueue struct {
	mu      sync.Mutex
	tail    chan struct{}
	count   int
	timeout time.Duration
	onEvery func(count int)
	log     zerolog.Logger
}

// NewTaskQueue builds an empty chain. onProgress, if non-nil, fires every 10
// completed tasks with the running count.
func NewTaskQueue(timeout time.Duration, onProgress func(count int), log zerolog.Logger) *TaskQueue {
	done := make(chan struct{})
	close(done)
	return &TaskQueue{
		tail:    done,
		timeout: timeout,
		onEvery: onProgress,
		log:     log.With().Str("component", "task_queue").Logger(),
	}
}

// Add appends task to the chain. It runs asynchronously; Add never blocks
// the caller beyond acquiring the internal mutex.
func (q *TaskQueue) Add(ctx context.Context, task Task) {
	q.mu.Lock()
	prev := q.tail
	next := make(chan struct{})
	q.tail = next
	q.mu.Unlock()

	go func() {
		<-prev
		defer close(next)
		q.runWithTimeout(ctx, task)

		q.mu.Lock()
		q.count++
		count := q.count
		q.mu.Unlock()
		if count%10 == 0 && q.onEvery != nil {
			q.onEvery(count)
		}
	}()
}

// runWithTimeout wraps task in a timeout without racing the underlying
// work: if the timer fires first, runWithTimeout returns (the chain
// advances) while the task goroutine is left to finish on its own and its
// result, if any, is discarded.
func (q *TaskQueue) runWithTimeout(ctx context.Context, task Task) {
	if q.timeout <= 0 {
		if err := task(ctx); err != nil {
			q.log.Warn().Err(err).Msg("task failed")
		}
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- task(taskCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			q.log.Warn().Err(err).Msg("task failed")
		}
	case <-taskCtx.Done():
		q.log.Warn().Dur("timeout", q.timeout).Msg("task timed out, abandoning wait")
	}
}

// Drain waits for every currently in-flight IncomingChain entry, then
// appends onDrained to the serial chain so the signal fires strictly after
// all prior message processing (spec §4.3 onEmpty/drain).
func (q *TaskQueue) Drain(ctx context.Context, incoming *IncomingChain, onDrained func()) {
	<-incoming.WaitAll()
	q.Add(ctx, func(ctx context.Context) error {
		onDrained()
		return nil
	})
}

// IncomingChain orders queue insertion with respect to socket arrival
// order: handler N awaits entry N-1's completion before pushing its
// dispatch task onto the TaskQueue.
type IncomingChain struct {
	mu   sync.Mutex
	tail chan struct{}
}

// NewIncomingChain builds an empty chain.
func NewIncomingChain() *IncomingChain {
	done := make(chan struct{})
	close(done)
	return &IncomingChain{tail: done}
}

// Next registers a new in-flight entry. wait closes once the previous
// entry's done() has been called; the caller must call done() exactly once
// when its decrypt-and-enqueue work completes.
func (c *IncomingChain) Next() (wait <-chan struct{}, done func()) {
	c.mu.Lock()
	prev := c.tail
	next := make(chan struct{})
	c.tail = next
	c.mu.Unlock()
	return prev, func() { close(next) }
}

// WaitAll returns a channel that closes once every entry registered so far
// has called its done().
func (c *IncomingChain) WaitAll() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}
