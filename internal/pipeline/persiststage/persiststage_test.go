package persiststage

import (
	"context"
	"testing"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

type fakeStore struct {
	blocks      []chain.BlockRecord
	signed      []chain.SignedExtrinsic
	unsigned    []chain.Inherent
	deadLetters []chain.DeadLetterRecord
}

func (s *fakeStore) InsertBlocks(ctx context.Context, batch []chain.BlockRecord) error {
	s.blocks = append(s.blocks, batch...)
	return nil
}

func (s *fakeStore) InsertExtrinsics(ctx context.Context, signed []chain.SignedExtrinsic, unsigned []chain.Inherent) error {
	s.signed = append(s.signed, signed...)
	s.unsigned = append(s.unsigned, unsigned...)
	return nil
}

func (s *fakeStore) InsertDeadLetter(ctx context.Context, rec chain.DeadLetterRecord) error {
	s.deadLetters = append(s.deadLetters, rec)
	return nil
}

func TestHandle_Single(t *testing.T) {
	store := &fakeStore{}
	stage := New(store, log.New())
	_, err := stage.Handle(context.Background(), msg.Single{Block: chain.RawBlock{Height: 1, Hash: []byte{1}}})
	require.NoError(t, err)
	require.Len(t, store.blocks, 1)
}

func TestHandle_PersistBlocks(t *testing.T) {
	store := &fakeStore{}
	stage := New(store, log.New())
	_, err := stage.Handle(context.Background(), msg.PersistBlocks{Blocks: []chain.BlockRecord{{Height: 1}, {Height: 2}}})
	require.NoError(t, err)
	require.Len(t, store.blocks, 2)
}

func TestHandle_DecodedBatch(t *testing.T) {
	store := &fakeStore{}
	stage := New(store, log.New())
	_, err := stage.Handle(context.Background(), msg.DecodedBatch{Signed: []chain.SignedExtrinsic{{Index: 0}}})
	require.NoError(t, err)
	require.Len(t, store.signed, 1)
}

func TestHandle_DeadLetters(t *testing.T) {
	store := &fakeStore{}
	stage := New(store, log.New())
	_, err := stage.Handle(context.Background(), msg.DeadLetters{Records: []chain.DeadLetterRecord{{Index: 0}, {Index: 1}}})
	require.NoError(t, err)
	require.Len(t, store.deadLetters, 2)
}

func TestHandle_UnexpectedMessageType(t *testing.T) {
	stage := New(&fakeStore{}, log.New())
	_, err := stage.Handle(context.Background(), "bogus")
	require.Error(t, err)
}
