package chaindb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// Empty batches must short-circuit before ever touching the pool
// (spec.md section 4.7) — exercised here with a nil pool so a
// regression that drops the early return panics instead of silently
// passing against a live database in some other test run.
func TestInsertBlocks_EmptyBatchNeverTouchesPool(t *testing.T) {
	g := &Gateway{pool: nil}
	require.NoError(t, g.InsertBlocks(context.Background(), nil))
}

func TestInsertExtrinsics_EmptyBatchesNeverTouchPool(t *testing.T) {
	g := &Gateway{pool: nil}
	require.NoError(t, g.InsertExtrinsics(context.Background(), nil, nil))
}

func TestBlocksChannelName(t *testing.T) {
	require.Equal(t, "blocks_update", BlocksChannel)
}
