// Package persiststage is the persister stage (C7): the only stage
// that writes to the relational gateway. It accepts a single block, a
// batch of blocks, a partitioned extrinsic batch, or a dead-letter
// batch. Block and extrinsic batches are each written inside one
// gateway transaction, and the gateway skips empty batches before
// opening one; dead-letter records are upserted one statement per
// record, not inside a shared transaction.
package persiststage

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

// Store is the subset of the relational gateway this stage depends on.
type Store interface {
	InsertBlocks(ctx context.Context, batch []chain.BlockRecord) error
	InsertExtrinsics(ctx context.Context, signed []chain.SignedExtrinsic, unsigned []chain.Inherent) error
	InsertDeadLetter(ctx context.Context, rec chain.DeadLetterRecord) error
}

// Stage is one replica of C7.
type Stage struct {
	store  Store
	logger log.Logger
}

// New builds a Stage replica.
func New(store Store, logger log.Logger) *Stage {
	return &Stage{store: store, logger: logger}
}

// Handle processes one persist-stage message.
func (s *Stage) Handle(ctx context.Context, m any) (any, error) {
	switch v := m.(type) {
	case msg.Single:
		if err := s.store.InsertBlocks(ctx, []chain.BlockRecord{toBlockRecord(v.Block)}); err != nil {
			return nil, fmt.Errorf("persiststage: inserting single block: %w", err)
		}
	case msg.PersistBlocks:
		if err := s.store.InsertBlocks(ctx, v.Blocks); err != nil {
			return nil, fmt.Errorf("persiststage: inserting block batch: %w", err)
		}
	case msg.DecodedBatch:
		if err := s.store.InsertExtrinsics(ctx, v.Signed, v.Unsigned); err != nil {
			return nil, fmt.Errorf("persiststage: inserting extrinsics: %w", err)
		}
	case msg.DeadLetters:
		for _, rec := range v.Records {
			if err := s.store.InsertDeadLetter(ctx, rec); err != nil {
				return nil, fmt.Errorf("persiststage: quarantining extrinsic at block %x index %d: %w", rec.BlockHash, rec.Index, err)
			}
		}
	default:
		return nil, fmt.Errorf("persiststage: unexpected message type %T", m)
	}
	return msg.Ack{}, nil
}

func toBlockRecord(b chain.RawBlock) chain.BlockRecord {
	return chain.BlockRecord{
		Height: b.Height, Hash: b.Hash, ParentHash: b.ParentHash,
		StateRoot: b.StateRoot, ExtrinsicsRoot: b.ExtrinsicsRoot,
		Digest: b.Digest, SpecVersion: b.SpecVersion,
	}
}
