// Package decodestage is the decoder stage (C6): it owns a
// per-replica decoder registry (never shared across replicas, per
// spec.md section 5), registers each batch's metadata, decodes every
// extrinsic, and partitions the results into Signed/Unsigned order
// preserving (height, index). An extrinsic that fails to decode is
// quarantined rather than aborting the whole batch, per the resolution
// of spec.md section 9's open question: the batch as a whole still
// reports the failure to its caller once every extrinsic has been
// attempted.
package decodestage

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/decoder"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

// Dispatcher is the scheduler surface this stage forwards decoded
// batches through.
type Dispatcher interface {
	AskNext(ctx context.Context, stageName string, m any) (any, error)
}

// Now returns the current time; a field so tests can pin FirstSeen.
type Now func() time.Time

// Stage is one replica of C6. Each replica owns its own *decoder.Registry.
type Stage struct {
	registry *decoder.Registry
	sched    Dispatcher
	logger   log.Logger
	now      Now
}

// New builds a Stage replica around a fresh registry using dec to
// decode individual extrinsic payloads.
func New(dec decoder.CallDecoder, sched Dispatcher, logger log.Logger) *Stage {
	return &Stage{registry: decoder.New(dec), sched: sched, logger: logger, now: time.Now}
}

// Handle processes one FetchedBlocks message.
func (s *Stage) Handle(ctx context.Context, m any) (any, error) {
	fb, ok := m.(msg.FetchedBlocks)
	if !ok {
		return nil, fmt.Errorf("decodestage: unexpected message type %T", m)
	}
	if len(fb.Blocks) == 0 {
		return msg.Ack{}, nil
	}

	signed, unsigned, deadLetters, decodeErr := s.registry.DecodeBatch(fb.Blocks, s.now)

	if len(signed) > 0 {
		if _, err := s.sched.AskNext(ctx, "persist", msg.DecodedBatch{Signed: signed}); err != nil {
			return nil, fmt.Errorf("decodestage: dispatching signed batch: %w", err)
		}
	}
	if len(unsigned) > 0 {
		if _, err := s.sched.AskNext(ctx, "persist", msg.DecodedBatch{Unsigned: unsigned}); err != nil {
			return nil, fmt.Errorf("decodestage: dispatching unsigned batch: %w", err)
		}
	}
	if len(deadLetters) > 0 {
		if _, err := s.sched.AskNext(ctx, "persist", msg.DeadLetters{Records: deadLetters}); err != nil {
			return nil, fmt.Errorf("decodestage: dispatching dead letters: %w", err)
		}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("decodestage: %w", decodeErr)
	}
	return msg.Ack{}, nil
}
