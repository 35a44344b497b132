package worker

import (
	"context"
	"sync"
)

type Job any

type ProcessFunc func(ctx context.Context, job Job) error

type WorkerPool struct {
	numWorkers int
	jobs       chan Job
	processor  ProcessFunc
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, bufferSize),
		processor:  processor,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// worker drains the queue until it is closed. Cancelling ctx does not drop
// queued jobs; processors decide what ctx means to them.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.processor(ctx, job)
	}
}

// TrySubmit queues the job only if there is room, never blocking the caller.
func (wp *WorkerPool) TrySubmit(job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for queued and in-flight jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}
