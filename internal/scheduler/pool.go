package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// work is one dispatched execution.
type work struct {
	taskID  string
	jobName string
	run     func(ctx context.Context)
}

// Pool is the fixed worker pool executing dispatched tasks. It also
// satisfies rules.WorkerInspector so the worker_count rule condition
// can see the live pool.
type Pool struct {
	size  int
	queue chan work

	busy    atomic.Int32
	started atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		size:  size,
		queue: make(chan work, size*4),
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	name := fmt.Sprintf("worker-%d", id)
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-p.queue:
			p.busy.Add(1)
			func() {
				defer p.busy.Add(-1)
				defer func() {
					if rec := recover(); rec != nil {
						log.Error().Interface("panic", rec).
							Str("worker", name).
							Str("task_id", w.taskID).
							Msg("Worker panicked")
					}
				}()
				w.run(ctx)
			}()
		}
	}
}

// Dispatch queues a task. Returns false when the queue is full; the
// caller leaves the execution queued and retries on a later tick.
func (p *Pool) Dispatch(taskID, jobName string, run func(ctx context.Context)) bool {
	select {
	case p.queue <- work{taskID: taskID, jobName: jobName, run: run}:
		return true
	default:
		return false
	}
}

// Stop drains in-flight work, waiting up to timeout before abandoning
// the workers to process exit.
func (p *Pool) Stop(timeout time.Duration) {
	if !p.started.Load() || p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Worker pool stop timed out with work in flight")
	}
	p.started.Store(false)
}

// ActiveWorkers reports the number of live workers. Implements the
// rule evaluator's inspector contract: an error would mean the pool is
// unobservable, which a running pool never is.
func (p *Pool) ActiveWorkers() (int, error) {
	if !p.started.Load() {
		return 0, nil
	}
	return p.size, nil
}

// BusyWorkers reports workers currently executing a task.
func (p *Pool) BusyWorkers() int {
	return int(p.busy.Load())
}

// QueueDepth reports dispatched-but-unstarted work.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}
