package graphmatch

import (
	"context"
	"sync"
)

// workerPool runs storage lookups on a fixed set of goroutines. It is
// shared by every execution of one Executor.
type workerPool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.RWMutex // held for reading while a job is being queued
	closed bool
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	p := &workerPool{jobs: make(chan func(), size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// stop drains queued jobs and waits for the workers to exit. Later
// submits fail with ErrExecutorClosed.
func (p *workerPool) stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// submit queues job unless the pool is stopped or ctx is done.
func (p *workerPool) submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrExecutorClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

type indexed[T any] struct {
	index int
	value T
	err   error
}

// runOrdered runs fns on the pool and returns their values in input order.
// The first error, ctx's error, or a stopped pool aborts collection. Jobs
// that were already queued still run; their results are discarded.
func runOrdered[T any](ctx context.Context, p *workerPool, fns []func() (T, error)) ([]T, error) {
	if len(fns) == 0 {
		return nil, nil
	}
	results := make(chan indexed[T], len(fns))

	for i, fn := range fns {
		i, fn := i, fn
		job := func() {
			v, err := fn()
			results <- indexed[T]{index: i, value: v, err: err}
		}
		if err := p.submit(ctx, job); err != nil {
			return nil, err
		}
	}

	out := make([]T, len(fns))
	for range fns {
		select {
		case r := <-results:
			if r.err != nil {
				return nil, r.err
			}
			out[r.index] = r.value
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}
