// Package blocking is the dedicated blocking executor named in
// spec.md section 5: a bounded worker pool segregated from the stages'
// own goroutines, used for bulk reads from the ledger view during a
// gap-fill cycle. Decode calls do not go through it; they run on the
// decoder stage's own worker goroutines. Submissions suspend
// the submitting goroutine until completion, matching the "submission
// suspends the caller" contract.
package blocking

import "context"

// Pool bounds concurrent blocking work to Size slots via a buffered
// channel acting as a semaphore — the same shape erigon's
// zk/syncer/l1_syncer.go uses for its fixed-size fetch-worker pool,
// generalized into a reusable Submit call instead of a hand-rolled
// jobs/results channel pair per call site.
type Pool struct {
	sem chan struct{}
}

// New builds a Pool that runs at most size submissions concurrently.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs f on the pool and blocks the caller until it completes
// or ctx is done. If ctx is done before a slot is available, Submit
// returns ctx.Err() without running f. If ctx is done while f runs,
// Submit returns ctx.Err() and f keeps its slot until it finishes.
func (p *Pool) Submit(ctx context.Context, f func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-p.sem }()
		done <- f()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
