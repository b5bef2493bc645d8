package decodestage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/decoder"
	"github.com/gateway-fm/archive-node/internal/pipeline/msg"
)

type fakeDispatcher struct {
	signed      []msg.DecodedBatch
	unsigned    []msg.DecodedBatch
	deadLetters []msg.DeadLetters
}

func (d *fakeDispatcher) AskNext(ctx context.Context, stage string, m any) (any, error) {
	switch v := m.(type) {
	case msg.DecodedBatch:
		if len(v.Signed) > 0 {
			d.signed = append(d.signed, v)
		} else {
			d.unsigned = append(d.unsigned, v)
		}
	case msg.DeadLetters:
		d.deadLetters = append(d.deadLetters, v)
	}
	return msg.Ack{}, nil
}

func testMetadata(t *testing.T) []byte {
	t.Helper()
	type pallet struct {
		Name  string   `json:"name"`
		Calls []string `json:"calls"`
	}
	raw, err := json.Marshal(struct {
		Pallets []pallet `json:"pallets"`
	}{Pallets: []pallet{{Name: "balances", Calls: []string{"transfer"}}}})
	require.NoError(t, err)
	return raw
}

func unsignedPayload(palletIdx, callIdx byte) []byte {
	return []byte{0x00, palletIdx, callIdx}
}

func signedPayload(palletIdx, callIdx byte) []byte {
	p := []byte{0x80}
	p = append(p, make([]byte, 32)...)
	p = append(p, make([]byte, 64)...)
	return append(p, palletIdx, callIdx)
}

func TestHandle_PartitionsAndDispatchesSeparately(t *testing.T) {
	disp := &fakeDispatcher{}
	stage := New(decoder.BasicDecoder{}, disp, log.New())

	meta := testMetadata(t)
	blocks := msg.FetchedBlocks{Blocks: []chain.RawBlock{{
		Height: 1, Hash: []byte{1}, SpecVersion: 1, Metadata: meta,
		Extrinsics: []chain.RawExtrinsic{
			{BlockHash: []byte{1}, BlockHeight: 1, Index: 0, SpecVersion: 1, Payload: unsignedPayload(0, 0)},
			{BlockHash: []byte{1}, BlockHeight: 1, Index: 1, SpecVersion: 1, Payload: signedPayload(0, 0)},
		},
	}}}

	out, err := stage.Handle(context.Background(), blocks)
	require.NoError(t, err)
	require.Equal(t, msg.Ack{}, out)
	require.Len(t, disp.signed, 1)
	require.Len(t, disp.unsigned, 1)
	require.Empty(t, disp.deadLetters)
}

func TestHandle_QuarantinesFailedExtrinsicAndReportsError(t *testing.T) {
	disp := &fakeDispatcher{}
	stage := New(decoder.BasicDecoder{}, disp, log.New())

	meta := testMetadata(t)
	blocks := msg.FetchedBlocks{Blocks: []chain.RawBlock{{
		Height: 1, Hash: []byte{1}, SpecVersion: 1, Metadata: meta,
		Extrinsics: []chain.RawExtrinsic{
			{BlockHash: []byte{1}, BlockHeight: 1, Index: 0, SpecVersion: 1, Payload: unsignedPayload(0, 0)},
			{BlockHash: []byte{1}, BlockHeight: 1, Index: 1, SpecVersion: 1, Payload: unsignedPayload(9, 9)},
		},
	}}}

	_, err := stage.Handle(context.Background(), blocks)
	require.Error(t, err)
	require.ErrorIs(t, err, chain.ErrDecodeFailure)
	require.Len(t, disp.deadLetters, 1)
	require.Len(t, disp.deadLetters[0].Records, 1)
	// the good extrinsic in the same batch still gets dispatched
	require.Len(t, disp.unsigned, 1)
}

func TestHandle_EmptyBatchIsANoOp(t *testing.T) {
	disp := &fakeDispatcher{}
	stage := New(decoder.BasicDecoder{}, disp, log.New())
	out, err := stage.Handle(context.Background(), msg.FetchedBlocks{})
	require.NoError(t, err)
	require.Equal(t, msg.Ack{}, out)
}
