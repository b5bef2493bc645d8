// Package scheduler is the routing fabric interposed between every
// pair of pipeline stages. It maintains one worker group per stage
// name and dispatches a message to the next worker under a
// configurable selection algorithm, round-robin today. The round-robin
// cursor is modeled directly on zk/syncer/l1_syncer.go's
// getNextEtherman: a mutex-guarded index incremented modulo the group
// size, private to the calling scheduler instance (spec.md section
// 4.3: "each generator has its own").
package scheduler

import (
	"context"
	"sync"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// Algorithm selects which worker in a group handles the next message.
// Structured as an enum with a single exhaustive switch in ask_next so
// Random/LeastLoaded are one case away to add, per spec.md section 4.3.
type Algorithm int

const (
	RoundRobin Algorithm = iota
)

// Worker is anything a stage can dispatch a typed message to and await
// a typed reply from. alive reports whether the worker is still
// eligible for selection; a dead worker is dropped from its group and
// the scheduler re-selects.
type Worker interface {
	// Ask dispatches msg and blocks until the worker replies or ctx is
	// done.
	Ask(ctx context.Context, msg any) (any, error)
	// Alive reports whether this worker handle is still usable.
	Alive() bool
}

type group struct {
	mu      sync.Mutex
	workers []Worker
	cursor  int
}

// Scheduler owns one worker group per stage name and a private
// round-robin cursor per group.
type Scheduler struct {
	algo Algorithm

	mu     sync.RWMutex
	groups map[string]*group
}

// New builds a Scheduler that selects workers under algo.
func New(algo Algorithm) *Scheduler {
	return &Scheduler{algo: algo, groups: map[string]*group{}}
}

// Register attaches workers to stageName, replacing any previous
// registration.
func (s *Scheduler) Register(stageName string, workers []Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[stageName] = &group{workers: append([]Worker(nil), workers...)}
}

// AskNext selects the next worker for stageName under the configured
// algorithm and dispatches msg to it, returning its reply. If the
// selected worker has terminated it is dropped from the group and
// selection retried; if the group ends up empty, AskNext fails with
// chain.ErrNoWorkers.
func (s *Scheduler) AskNext(ctx context.Context, stageName string, msg any) (any, error) {
	s.mu.RLock()
	g, ok := s.groups[stageName]
	s.mu.RUnlock()
	if !ok {
		return nil, chain.ErrNoWorkers
	}

	w, err := g.next(s.algo)
	if err != nil {
		return nil, err
	}
	return w.Ask(ctx, msg)
}

func (g *group) next(algo Algorithm) (Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for len(g.workers) > 0 {
		switch algo {
		case RoundRobin:
			if g.cursor >= len(g.workers) {
				g.cursor = 0
			}
			w := g.workers[g.cursor]
			if !w.Alive() {
				g.workers = append(g.workers[:g.cursor], g.workers[g.cursor+1:]...)
				continue
			}
			g.cursor++
			return w, nil
		default:
			// Unreached until a second Algorithm is added; keeps the
			// switch exhaustive rather than falling through silently.
			return nil, chain.ErrNoWorkers
		}
	}
	return nil, chain.ErrNoWorkers
}
