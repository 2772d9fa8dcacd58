// Package pool runs blocking work on a fixed set of goroutines so the
// connection's read path never waits on a workload.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var ErrClosed = errors.New("pool: closed")

// PanicError is returned for a job that panicked
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("pool: job panicked: %v", e.Value) }

// Job is one unit of blocking work
type Job func() error

type request struct {
	job  Job
	done chan error
}

// Pool is a bounded worker pool. It is created once per process and must be
// closed on shutdown.
type Pool struct {
	jobs chan request
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts size worker goroutines
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{jobs: make(chan request)}
	for range size {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit hands job to an idle worker, blocking until one accepts it or ctx
// ends. The returned channel yields the job's error exactly once.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	req := request{job: job, done: make(chan error, 1)}
	select {
	case p.jobs <- req:
		return req.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for running ones to finish
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		req.done <- run(req.job)
	}
}

func run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return job()
}
