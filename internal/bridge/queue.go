// ABOUTME: Per-user FIFO job queue so replies and async notifications keep their order
// ABOUTME: Each user with pending work gets one worker goroutine that exits when drained

package bridge

import (
	"context"
	"log/slog"
	"sync"
)

type job func(ctx context.Context)

type userQueue struct {
	ctx    context.Context
	logger *slog.Logger

	mu sync.Mutex
	// pending holds a key only while that user's worker is running.
	pending map[string][]job
	closed  bool
	wg      sync.WaitGroup
}

func newUserQueue(ctx context.Context, logger *slog.Logger) *userQueue {
	return &userQueue{
		ctx:     ctx,
		logger:  logger,
		pending: make(map[string][]job),
	}
}

// enqueue appends j to the user's queue. Returns false after close.
func (q *userQueue) enqueue(userID string, j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	jobs, running := q.pending[userID]
	q.pending[userID] = append(jobs, j)
	if !running {
		q.wg.Add(1)
		go q.drain(userID)
	}
	return true
}

func (q *userQueue) drain(userID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[userID]
		if len(jobs) == 0 {
			delete(q.pending, userID)
			q.mu.Unlock()
			return
		}
		next := jobs[0]
		q.pending[userID] = jobs[1:]
		q.mu.Unlock()

		q.run(userID, next)
	}
}

func (q *userQueue) run(userID string, j job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("bridge job panicked", "user_id", userID, "panic", r)
		}
	}()
	j(q.ctx)
}

// close rejects new jobs and waits for queued ones to finish.
func (q *userQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
