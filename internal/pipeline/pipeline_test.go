package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/decoder"
	"github.com/gateway-fm/archive-node/internal/pipeline/decodestage"
	"github.com/gateway-fm/archive-node/internal/pipeline/gapgen"
	"github.com/gateway-fm/archive-node/internal/pipeline/metastage"
	"github.com/gateway-fm/archive-node/internal/pipeline/persiststage"
	"github.com/gateway-fm/archive-node/internal/scheduler"
)

// fakeChainStore stands in for C2 across end-to-end scenarios: it
// tracks every row any stage writes, with no real database underneath.
type fakeChainStore struct {
	mu          sync.Mutex
	heights     []chain.BlockHeight
	heightsOnce bool
	metadata    []chain.MetadataRecord
	blocks      []chain.BlockRecord
	signed      []chain.SignedExtrinsic
	unsigned    []chain.Inherent
	deadLetters []chain.DeadLetterRecord
}

func (s *fakeChainStore) MissingHeights(ctx context.Context) ([]chain.BlockHeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heightsOnce {
		return nil, nil
	}
	s.heightsOnce = true
	return s.heights, nil
}

func (s *fakeChainStore) InsertMetadata(ctx context.Context, rec chain.MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, rec)
	return nil
}

// InsertBlocks mirrors the real gateway's ON CONFLICT (hash) DO
// NOTHING: a block already seen by hash is silently skipped. Both the
// raw-block sink (Single, from the gap generator) and the metadata
// stage's PersistBlocks dispatch can deliver the same block, so
// idempotence here is load-bearing, not cosmetic.
func (s *fakeChainStore) InsertBlocks(ctx context.Context, batch []chain.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batch {
		dup := false
		for _, existing := range s.blocks {
			if string(existing.Hash) == string(b.Hash) {
				dup = true
				break
			}
		}
		if !dup {
			s.blocks = append(s.blocks, b)
		}
	}
	return nil
}

func (s *fakeChainStore) InsertExtrinsics(ctx context.Context, signed []chain.SignedExtrinsic, unsigned []chain.Inherent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed = append(s.signed, signed...)
	s.unsigned = append(s.unsigned, unsigned...)
	return nil
}

func (s *fakeChainStore) InsertDeadLetter(ctx context.Context, rec chain.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, rec)
	return nil
}

func (s *fakeChainStore) snapshot() fakeChainStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fakeChainStore{
		blocks: append([]chain.BlockRecord(nil), s.blocks...), signed: append([]chain.SignedExtrinsic(nil), s.signed...),
		unsigned: append([]chain.Inherent(nil), s.unsigned...), deadLetters: append([]chain.DeadLetterRecord(nil), s.deadLetters...),
		metadata: append([]chain.MetadataRecord(nil), s.metadata...),
	}
}

type fakeView struct {
	blocks map[chain.BlockHeight]chain.RawBlock
}

func (v *fakeView) BlockByHeight(h chain.BlockHeight) (*chain.RawBlock, bool, error) {
	b, ok := v.blocks[h]
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

type syncPool struct{}

func (syncPool) Submit(ctx context.Context, f func() error) error { return f() }

func wirePipeline(store *fakeChainStore, view *fakeView) *scheduler.Scheduler {
	logger := log.New()
	sched := scheduler.New(scheduler.RoundRobin)

	sched.Register("persist", NewGroup(2, persiststage.New(store, logger).Handle))
	sched.Register("decode", NewGroupFrom(2, func(int) handleFunc {
		return decodestage.New(decoder.BasicDecoder{}, sched, logger).Handle
	}))
	sched.Register("meta", NewGroup(2, metastage.New(store, sched, logger).Handle))

	return sched
}

func unsignedPayload(palletIdx, callIdx byte) []byte {
	return []byte{0x00, palletIdx, callIdx}
}

func testMetadata() []byte {
	return []byte(`{"pallets":[{"name":"balances","calls":["transfer"]}]}`)
}

// Scenario: empty database — no missing heights, nothing should ever
// be dispatched or persisted.
func TestPipeline_EmptyDatabaseDoesNothing(t *testing.T) {
	store := &fakeChainStore{}
	view := &fakeView{blocks: map[chain.BlockHeight]chain.RawBlock{}}
	sched := wirePipeline(store, view)

	gen := gapgen.New(store, view, syncPool{}, sched, log.New(), 10)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = gen.Run(ctx)

	snap := store.snapshot()
	require.Empty(t, snap.blocks)
	require.Empty(t, snap.signed)
	require.Empty(t, snap.unsigned)
}

// Scenario: a single hole in the range is filled end to end — block
// row, metadata row and its extrinsic all land in the store.
func TestPipeline_SingleHoleIsFilledEndToEnd(t *testing.T) {
	store := &fakeChainStore{heights: []chain.BlockHeight{5}}
	view := &fakeView{blocks: map[chain.BlockHeight]chain.RawBlock{
		5: {
			Height: 5, Hash: []byte{5}, SpecVersion: 1, Metadata: testMetadata(),
			Extrinsics: []chain.RawExtrinsic{
				{BlockHash: []byte{5}, BlockHeight: 5, Index: 0, SpecVersion: 1, Payload: unsignedPayload(0, 0)},
			},
		},
	}}
	sched := wirePipeline(store, view)
	gen := gapgen.New(store, view, syncPool{}, sched, log.New(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = gen.Run(ctx)

	require.Eventually(t, func() bool {
		snap := store.snapshot()
		return len(snap.blocks) == 1 && len(snap.metadata) == 1 && len(snap.unsigned) == 1
	}, time.Second, 5*time.Millisecond)
}

// Scenario: the source block for a reported gap is not actually
// available yet — the generator must not treat that as fatal.
func TestPipeline_MissingSourceBlockIsSkippedNotFatal(t *testing.T) {
	store := &fakeChainStore{heights: []chain.BlockHeight{5}}
	view := &fakeView{blocks: map[chain.BlockHeight]chain.RawBlock{}} // 5 not present
	sched := wirePipeline(store, view)
	gen := gapgen.New(store, view, syncPool{}, sched, log.New(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := gen.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	snap := store.snapshot()
	require.Empty(t, snap.blocks)
}

// Scenario: shutdown mid-flight returns promptly with ctx.Err() rather
// than hanging.
func TestPipeline_ShutdownIsCooperative(t *testing.T) {
	store := &fakeChainStore{}
	view := &fakeView{blocks: map[chain.BlockHeight]chain.RawBlock{}}
	sched := wirePipeline(store, view)
	gen := gapgen.New(store, view, syncPool{}, sched, log.New(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gen.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("generator did not shut down promptly")
	}
}
