package touch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type task struct {
	name string
	fn   func(ctx context.Context)
}

// Executor runs deferred work on a fixed pool of workers. Submitting
// never blocks, so it is safe from the interrupt path.
type Executor struct {
	mx     sync.Mutex
	closed bool
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

func NewExecutor(workers, queue int, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		tasks:  make(chan task, queue),
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.run()
	}
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-e.tasks:
			e.log.Debug("running deferred task", "task", t.name)
			t.fn(e.ctx)
		}
	}
}

// Submit queues fn. It fails when the queue is full or the executor is
// closed.
func (e *Executor) Submit(name string, fn func(ctx context.Context)) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, name)
	}
}

// Close cancels running tasks and waits for the workers to exit.
// Queued tasks that did not start are dropped.
func (e *Executor) Close() {
	e.mx.Lock()
	if e.closed {
		e.mx.Unlock()
		return
	}
	e.closed = true
	e.mx.Unlock()
	e.cancel()
	e.wg.Wait()
}
