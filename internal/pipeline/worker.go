package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gateway-fm/archive-node/internal/scheduler"
)

// job is one scheduled unit of work awaiting a reply.
type job struct {
	ctx   context.Context
	msg   any
	reply chan result
}

type result struct {
	val any
	err error
}

// handleFunc processes exactly one message for a stage.
type handleFunc func(ctx context.Context, msg any) (any, error)

// StageWorker is one replica in a stage's worker group: a single
// goroutine draining its inbox strictly sequentially, satisfying
// spec.md section 5's "within a stage, messages are processed strictly
// sequentially". A stage with N replicas runs N of these, registered
// together so the scheduler round-robins across them.
type StageWorker struct {
	id     uuid.UUID
	inbox  chan job
	done   chan struct{}
	closed int32
}

// NewStageWorker starts a replica that processes messages with handle
// until Stop is called. Each replica gets its own opaque identifier,
// so logs can name a specific replica rather than the stage as a whole
// (the supervisor logs each replica's ID at startup). Dead-letter rows
// do not record it.
func NewStageWorker(handle handleFunc) *StageWorker {
	w := &StageWorker{id: uuid.New(), inbox: make(chan job), done: make(chan struct{})}
	go w.loop(handle)
	return w
}

// ID returns this replica's opaque identifier.
func (w *StageWorker) ID() uuid.UUID { return w.id }

func (w *StageWorker) loop(handle handleFunc) {
	defer close(w.done)
	for j := range w.inbox {
		val, err := handle(j.ctx, j.msg)
		j.reply <- result{val: val, err: err}
	}
}

// Ask implements scheduler.Worker.
func (w *StageWorker) Ask(ctx context.Context, msg any) (any, error) {
	reply := make(chan result, 1)
	select {
	case w.inbox <- job{ctx: ctx, msg: msg, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Alive implements scheduler.Worker.
func (w *StageWorker) Alive() bool {
	return atomic.LoadInt32(&w.closed) == 0
}

// Stop signals the replica's goroutine to exit after draining any
// in-flight message; shutdown is cooperative per spec.md section 5.
func (w *StageWorker) Stop() {
	if atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		close(w.inbox)
	}
}

var _ scheduler.Worker = (*StageWorker)(nil)

// NewGroup starts n replicas sharing the single handle and returns
// them as a scheduler.Worker slice, ready for Scheduler.Register. Use
// this when a stage carries no per-replica mutable state.
func NewGroup(n int, handle handleFunc) []scheduler.Worker {
	return NewGroupFrom(n, func(int) handleFunc { return handle })
}

// NewGroupFrom starts n replicas, each built from its own call to
// factory. Use this when a stage's state must not be shared across
// replicas — the decoder stage's per-replica registry (spec.md section
// 5) is the motivating case.
func NewGroupFrom(n int, factory func(replica int) handleFunc) []scheduler.Worker {
	if n < 1 {
		n = 1
	}
	workers := make([]scheduler.Worker, n)
	for i := range workers {
		workers[i] = NewStageWorker(factory(i))
	}
	return workers
}
