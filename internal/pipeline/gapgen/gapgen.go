// Package gapgen is the gap generator (C4): it periodically asks the
// relational gateway which heights are missing, pulls each one from
// the read-only ledger view through the dedicated blocking pool, and
// hands the resulting batch to the metadata stage.
//
// Reorg handling below the highest indexed height is explicitly out of
// scope here, per the resolution of spec.md section 9's open question:
// this generator fills holes in the dense [0, max] range, it does not
// detect that a block already persisted has since been superseded by a
// fork.
package gapgen

import (
	"context"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

// idleSleep is how long the generator waits before re-checking for
// missing heights when the last check found none, per spec.md section
// 4.4's idle-backoff requirement.
const idleSleep = 5 * time.Second

// Store is the subset of the relational gateway this stage depends on.
type Store interface {
	MissingHeights(ctx context.Context) ([]chain.BlockHeight, error)
}

// LedgerView is the subset of the read-only ledger view this stage
// depends on.
type LedgerView interface {
	BlockByHeight(height chain.BlockHeight) (*chain.RawBlock, bool, error)
}

// BlockingPool runs a bulk read without blocking the generator's own
// goroutine budget.
type BlockingPool interface {
	Submit(ctx context.Context, f func() error) error
}

// Dispatcher is the scheduler surface this stage dispatches batches
// through.
type Dispatcher interface {
	AskNext(ctx context.Context, stageName string, m any) (any, error)
}

// Generator is one running instance of C4. Only one is ever needed —
// unlike the downstream stages, the gap generator is not replicated,
// since there is exactly one canonical gap to fill.
type Generator struct {
	store     Store
	view      LedgerView
	pool      BlockingPool
	sched     Dispatcher
	logger    log.Logger
	batchSize int
}

// New builds a Generator. batchSize bounds how many heights are
// fetched and dispatched together as one batch; a cycle splits its
// missing heights into as many batches as needed. Values below 1 are
// treated as 1.
func New(store Store, view LedgerView, pool BlockingPool, sched Dispatcher, logger log.Logger, batchSize int) *Generator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Generator{store: store, view: view, pool: pool, sched: sched, logger: logger, batchSize: batchSize}
}

// Run drives the generator until ctx is cancelled, returning ctx.Err().
// Every blocking wait (the idle sleep, the dispatch to the metadata
// stage) observes ctx, giving shutdown a cooperative cancellation point
// per spec.md section 5.
func (g *Generator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		heights, err := g.store.MissingHeights(ctx)
		if err != nil {
			g.logger.Warn("gap generator: querying missing heights failed", "err", err)
			if !g.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if len(heights) == 0 {
			if !g.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		for start := 0; start < len(heights); start += g.batchSize {
			end := start + g.batchSize
			if end > len(heights) {
				end = len(heights)
			}
			if err := g.fillChunk(ctx, heights[start:end]); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("gap generator: filling chunk failed", "err", err)
			}
		}
	}
}

func (g *Generator) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(idleSleep):
		return true
	}
}

func (g *Generator) fillChunk(ctx context.Context, heights []chain.BlockHeight) error {
	g.logger.Info("gap generator: indexing height range", "first", heights[0], "last", heights[len(heights)-1])

	blocks := make([]chain.RawBlock, 0, len(heights))
	for _, h := range heights {
		height := h
		var (
			block *chain.RawBlock
			found bool
		)
		err := g.pool.Submit(ctx, func() error {
			b, ok, err := g.view.BlockByHeight(height)
			block, found = b, ok
			return err
		})
		if err != nil {
			return err
		}
		if !found {
			// The node has not yet written this height to its embedded
			// ledger. Not an error: MissingHeights will surface it again
			// on the next cycle once the node catches up.
			g.logger.Warn("gap generator: source block not yet available", "height", height)
			continue
		}

		// Publish the raw block to the persister's raw-block sink before
		// it is ever decoded, per spec.md section 4.4 step 3: a storage
		// extraction path independent of the meta/decode pathway below.
		if _, err := g.sched.AskNext(ctx, "persist", msg.Single{Block: *block}); err != nil {
			return err
		}
		blocks = append(blocks, *block)
	}

	if len(blocks) == 0 {
		return nil
	}

	_, err := g.sched.AskNext(ctx, "meta", msg.FetchedBlocks{Blocks: blocks})
	return err
}
