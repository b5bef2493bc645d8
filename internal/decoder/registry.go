// Package decoder holds the decoder registry (C6): a monotonically
// growing map from spec version to the metadata blob registered for
// it, and the typed decode entry point that consults that map. One
// Registry belongs to exactly one decoder-stage replica — it is never
// shared across stages (spec.md section 5); re-registering the same
// version on every replica is safe because registration is idempotent
// (spec.md section 4.6).
//
// Per the REDESIGN FLAG in spec.md section 9, the chain header/runtime
// types are not generic parameters here: metadata and payloads are
// opaque byte blobs at this boundary, and only the CallDecoder
// implementation below understands their structure.
package decoder

import (
	"fmt"
	"sync"
	"time"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// CallDecoder turns a raw payload plus its block's metadata into a
// DecodedCall and reports whether the extrinsic carries a signature.
// Swappable so tests can supply a fake without a real metadata corpus;
// cmd/archivenode wires in BasicDecoder, which resolves calls against
// JSON metadata.
type CallDecoder interface {
	// Decode returns the decoded call, whether the extrinsic is signed
	// and, if so, its account and signature, or an error.
	// Registry.DecodeExtrinsic wraps that error in
	// chain.ErrDecodeFailure.
	Decode(metadata []byte, payload []byte) (call chain.DecodedCall, signed bool, account []byte, signature []byte, err error)
}

// Registry maps SpecVersion to its registered metadata blob.
type Registry struct {
	mu      sync.RWMutex
	entries map[chain.SpecVersion][]byte
	decode  CallDecoder
}

// New builds an empty Registry using dec to decode extrinsic payloads.
func New(dec CallDecoder) *Registry {
	return &Registry{entries: map[chain.SpecVersion][]byte{}, decode: dec}
}

// RegisterVersion idempotently registers metadata for version. Cheap
// on repeats: if the version is already known, this is a no-op (the
// same version never ships with differing metadata, per spec.md
// section 3's SpecVersion invariant).
func (r *Registry) RegisterVersion(version chain.SpecVersion, metadata []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[version]; ok {
		return
	}
	r.entries[version] = metadata
}

// Metadata returns the registered metadata for version, if any.
func (r *Registry) Metadata(version chain.SpecVersion) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[version]
	return m, ok
}

// DecodeExtrinsic decodes e using the metadata registered for its
// SpecVersion. Decoding is only attempted with metadata registered
// under the extrinsic's exact spec version (spec.md section 3's
// invariant); an unregistered version is itself a decode failure.
func (r *Registry) DecodeExtrinsic(e chain.RawExtrinsic) (chain.DecodedExtrinsic, error) {
	metadata, ok := r.Metadata(e.SpecVersion)
	if !ok {
		return chain.DecodedExtrinsic{}, fmt.Errorf("%w: no metadata registered for spec version %d", chain.ErrDecodeFailure, e.SpecVersion)
	}

	call, signed, account, signature, err := r.decode.Decode(metadata, e.Payload)
	if err != nil {
		return chain.DecodedExtrinsic{}, fmt.Errorf("%w: block %x index %d: %v", chain.ErrDecodeFailure, e.BlockHash, e.Index, err)
	}

	if signed {
		return chain.DecodedExtrinsic{
			Kind: chain.KindSigned,
			Signed: &chain.SignedExtrinsic{
				Hash: e.BlockHash, Index: e.Index, Height: e.BlockHeight,
				Account: account, Signature: signature, Call: call,
			},
		}, nil
	}
	return chain.DecodedExtrinsic{
		Kind: chain.KindUnsigned,
		Unsigned: &chain.Inherent{
			Hash: e.BlockHash, Index: e.Index, Height: e.BlockHeight, Call: call,
		},
	}, nil
}

// DecodeBatch decodes every extrinsic in blocks in (block_height,
// index_in_block) order, first registering each block's metadata.
// Returns the partitioned Signed/Unsigned lists, preserving that
// order, per spec.md section 5's ordering guarantee. An extrinsic that
// fails to decode is quarantined into the returned dead-letter slice
// rather than aborting the batch; the caller still learns that a
// failure occurred via the returned error (wrapping the first one
// seen), once every extrinsic has been attempted, per the resolution
// of spec.md section 9's open question. now is consulted for each
// dead letter's FirstSeen so callers can pin it in tests.
func (r *Registry) DecodeBatch(blocks []chain.RawBlock, now func() time.Time) ([]chain.SignedExtrinsic, []chain.Inherent, []chain.DeadLetterRecord, error) {
	for _, b := range blocks {
		r.RegisterVersion(b.SpecVersion, b.Metadata)
	}

	var (
		signed      []chain.SignedExtrinsic
		unsigned    []chain.Inherent
		deadLetters []chain.DeadLetterRecord
		firstErr    error
	)
	for _, b := range blocks {
		for _, e := range b.Extrinsics {
			decoded, err := r.DecodeExtrinsic(e)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				deadLetters = append(deadLetters, chain.DeadLetterRecord{
					BlockHash: e.BlockHash, BlockHeight: e.BlockHeight, Index: e.Index,
					SpecVersion: e.SpecVersion, Payload: e.Payload,
					Reason: err.Error(), FirstSeen: now().Unix(), Attempts: 1,
				})
				continue
			}
			switch decoded.Kind {
			case chain.KindSigned:
				signed = append(signed, *decoded.Signed)
			case chain.KindUnsigned:
				unsigned = append(unsigned, *decoded.Unsigned)
			}
		}
	}
	if firstErr != nil {
		return signed, unsigned, deadLetters, fmt.Errorf("%d extrinsic(s) quarantined, first cause: %w", len(deadLetters), firstErr)
	}
	return signed, unsigned, deadLetters, nil
}
