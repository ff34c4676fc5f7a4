// Package taskpool runs many small tasks with a bound on concurrency.
// It exists for call sites that fan hundreds of store operations out
// over a fixed number of workers.
package taskpool

import "golang.org/x/sync/errgroup"

// Pool is a bounded collection of goroutines. The zero value is not
// usable; create one with New.
type Pool struct {
	group errgroup.Group
}

// New creates a pool running at most limit tasks at once. A limit of
// zero or less leaves concurrency unbounded.
func New(limit int) *Pool {
	p := &Pool{}
	if limit > 0 {
		p.group.SetLimit(limit)
	}
	return p
}

// Go submits a task, blocking while the pool is at its limit.
func (p *Pool) Go(task func() error) {
	p.group.Go(task)
}

// Wait blocks until every submitted task has returned and reports the
// first error among them.
func (p *Pool) Wait() error {
	return p.group.Wait()
}
