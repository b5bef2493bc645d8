// Package metastage is the metadata stage (C5): for every block in a
// batch it idempotently registers the block's (spec_version, metadata)
// pair with the relational gateway, then forwards the batch onward —
// the block rows to the persister stage, the full blocks (needed for
// their extrinsic payloads) to the decoder stage.
package metastage

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

// Store is the subset of the relational gateway this stage depends on.
type Store interface {
	InsertMetadata(ctx context.Context, rec chain.MetadataRecord) error
}

// Dispatcher is the scheduler surface this stage forwards batches
// through.
type Dispatcher interface {
	AskNext(ctx context.Context, stageName string, m any) (any, error)
}

// Stage is one replica of C5.
type Stage struct {
	store  Store
	sched  Dispatcher
	logger log.Logger
}

// New builds a Stage replica.
func New(store Store, sched Dispatcher, logger log.Logger) *Stage {
	return &Stage{store: store, sched: sched, logger: logger}
}

// Handle processes one FetchedBlocks message. It satisfies
// pipeline.handleFunc's shape so it can be wrapped directly by
// pipeline.NewGroup.
func (s *Stage) Handle(ctx context.Context, m any) (any, error) {
	fb, ok := m.(msg.FetchedBlocks)
	if !ok {
		return nil, fmt.Errorf("metastage: unexpected message type %T", m)
	}
	if len(fb.Blocks) == 0 {
		return msg.Ack{}, nil
	}

	seen := map[chain.SpecVersion]bool{}
	for _, b := range fb.Blocks {
		if seen[b.SpecVersion] {
			continue
		}
		seen[b.SpecVersion] = true
		if err := s.store.InsertMetadata(ctx, chain.MetadataRecord{SpecVersion: b.SpecVersion, Metadata: b.Metadata}); err != nil {
			return nil, fmt.Errorf("metastage: registering metadata for spec %d: %w", b.SpecVersion, err)
		}
	}

	records := make([]chain.BlockRecord, len(fb.Blocks))
	for i, b := range fb.Blocks {
		records[i] = chain.BlockRecord{
			Height: b.Height, Hash: b.Hash, ParentHash: b.ParentHash,
			StateRoot: b.StateRoot, ExtrinsicsRoot: b.ExtrinsicsRoot,
			Digest: b.Digest, SpecVersion: b.SpecVersion,
		}
	}
	if _, err := s.sched.AskNext(ctx, "persist", msg.PersistBlocks{Blocks: records}); err != nil {
		return nil, fmt.Errorf("metastage: dispatching block rows: %w", err)
	}

	if _, err := s.sched.AskNext(ctx, "decode", fb); err != nil {
		return nil, fmt.Errorf("metastage: dispatching to decoder: %w", err)
	}

	return msg.Ack{}, nil
}
