// Package msg holds the typed inbound-mailbox messages passed between
// pipeline stages — the structured-concurrency redesign spec.md section
// 9 calls for in place of the original's dynamically-typed actor
// mailboxes. Kept separate from package pipeline (the supervisory root)
// so every stage subpackage can depend on the message shapes without
// creating an import cycle back through the root.
package msg

import "github.com/gateway-fm/archive-node/internal/chain"

// Single wraps one raw block, published by the gap generator to the
// persister stage's raw-block sink, which writes its block row
// directly. It does not pass through the metadata or decoder stages;
// the decoder stage rejects it.
type Single struct {
	Block chain.RawBlock
}

// FetchedBlocks is a batch of raw blocks handed from the gap generator
// to the metadata stage, and from the metadata stage to the decoder
// stage.
type FetchedBlocks struct {
	Blocks []chain.RawBlock
}

// PersistBlocks is a batch of block rows ready for the relational
// store, handed from the metadata stage to the persister stage.
type PersistBlocks struct {
	Blocks []chain.BlockRecord
}

// DecodedBatch carries one partition of decoded extrinsics from the
// decoder stage to the persister stage. Exactly one of Signed/Unsigned
// is populated per dispatch — the decoder stage ships them as two
// separate messages (spec.md section 4.6).
type DecodedBatch struct {
	Signed   []chain.SignedExtrinsic
	Unsigned []chain.Inherent
}

// DeadLetters carries extrinsics that failed to decode from the
// decoder stage to the persister stage for quarantine, per
// SPEC_FULL.md section 3.1.
type DeadLetters struct {
	Records []chain.DeadLetterRecord
}

// Ack is the reply every stage returns on success.
type Ack struct{}
