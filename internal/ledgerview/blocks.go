package ledgerview

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// BlocksColumn is the column family the node writes encoded blocks to,
// keyed by big-endian height.
const BlocksColumn = "Blocks"

// blockWire is the on-disk encoding of a RawBlock in the embedded
// ledger: JSON. It is a separate shape from the relational gateway's
// notification payload (chain.BlockWire): it uses different keys
// ("height", "spec_version") and also carries the metadata blob and
// the per-extrinsic payloads.
type blockWire struct {
	Height         uint32               `json:"height"`
	Hash           []byte               `json:"hash"`
	ParentHash     []byte               `json:"parent_hash"`
	StateRoot      []byte               `json:"state_root"`
	ExtrinsicsRoot []byte               `json:"extrinsics_root"`
	Digest         []byte               `json:"digest"`
	SpecVersion    uint32               `json:"spec_version"`
	Metadata       []byte               `json:"metadata"`
	Extrinsics     []extrinsicWireEntry `json:"extrinsics"`
}

type extrinsicWireEntry struct {
	Index   uint32 `json:"index"`
	Payload []byte `json:"payload"`
}

// heightKey is the big-endian encoding used as the Blocks column key,
// chosen so lexicographic key order matches height order for Iterate.
func heightKey(height chain.BlockHeight) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(height))
	return buf
}

// BlockByHeight fetches and decodes the block at height. ok is false
// when the ledger has no block there (spec.md's MissingBlock case);
// callers must not treat that as an error.
func (v *View) BlockByHeight(height chain.BlockHeight) (*chain.RawBlock, bool, error) {
	raw, ok, err := v.Get(BlocksColumn, heightKey(height))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var w blockWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false, fmt.Errorf("decoding block at height %d: %w", height, err)
	}
	block := &chain.RawBlock{
		Height:         chain.BlockHeight(w.Height),
		Hash:           w.Hash,
		ParentHash:     w.ParentHash,
		StateRoot:      w.StateRoot,
		ExtrinsicsRoot: w.ExtrinsicsRoot,
		Digest:         w.Digest,
		SpecVersion:    chain.SpecVersion(w.SpecVersion),
		Metadata:       w.Metadata,
	}
	block.Extrinsics = make([]chain.RawExtrinsic, len(w.Extrinsics))
	for i, e := range w.Extrinsics {
		block.Extrinsics[i] = chain.RawExtrinsic{
			BlockHash:   w.Hash,
			BlockHeight: block.Height,
			Index:       e.Index,
			SpecVersion: block.SpecVersion,
			Payload:     e.Payload,
		}
	}
	return block, true, nil
}
