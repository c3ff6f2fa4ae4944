package jobrunner

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is one unit of pool work: processing a single job file.
type Task func()

// Pool is a bounded worker pool, the same task-queue-plus-fixed-worker-
// count shape used across the teacher's codebase, generalized here
// from "drain a channel of network tasks" to "drain a channel of job
// files to execute".
type Pool struct {
	workerCount  int
	taskQueue    chan Task
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// NewPool builds a pool of workerCount goroutines reading from a
// queue of the given capacity.
func NewPool(workerCount, queueCap int, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueCap < 1 {
		queueCap = 1
	}
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueCap),
		logger:      logger,
	}
}

// Start launches the worker goroutines. They run until ctx is
// cancelled (tasks still queued are then left unrun), or until Stop
// closes the queue and it has drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(task, id)
		}
	}
}

func (p *Pool) runTask(task Task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", workerID).
				Interface("panic_value", r).
				Str("stack", string(debug.Stack())).
				Msg("jobrunner: worker panic recovered")
		}
	}()
	task()
}

// Submit enqueues a task, dropping it (and counting the drop) if the
// queue is full rather than blocking the submitter indefinitely.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
		return false
	}
}

// Stop closes the task queue and waits for every worker to drain.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks reports how many Submit calls were dropped for a full
// queue.
func (p *Pool) DroppedTasks() int64 {
	return atomic.LoadInt64(&p.droppedTasks)
}
